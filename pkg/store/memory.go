// Package store holds chain definition stores that are not backed by Postgres.
package store

import (
	"context"
	"net/http"
	"sort"
	"sync"

	"github.com/Gobusters/ectoerror/httperror"

	"github.com/Ramsey-B/vine/pkg/models"
)

// Memory is a concurrency-safe in-memory chain store
type Memory struct {
	mu     sync.RWMutex
	chains map[string]*models.ChainConfiguration
}

func NewMemory(chains ...*models.ChainConfiguration) *Memory {
	m := &Memory{chains: make(map[string]*models.ChainConfiguration, len(chains))}
	for _, chain := range chains {
		m.chains[chain.ID] = chain
	}
	return m
}

// Put adds or replaces a chain
func (m *Memory) Put(chain *models.ChainConfiguration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chains[chain.ID] = chain
}

func (m *Memory) GetChain(_ context.Context, id string) (*models.ChainConfiguration, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	chain, ok := m.chains[id]
	if !ok {
		return nil, httperror.NewHTTPErrorf(http.StatusNotFound, "chain %s not found", id)
	}
	return chain, nil
}

// ListChains returns a page of chains ordered by ID. A non-positive limit returns the rest.
func (m *Memory) ListChains(_ context.Context, limit, offset int) ([]*models.ChainConfiguration, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	chains := make([]*models.ChainConfiguration, 0, len(m.chains))
	for _, chain := range m.chains {
		chains = append(chains, chain)
	}
	sort.Slice(chains, func(i, j int) bool { return chains[i].ID < chains[j].ID })

	if offset > 0 {
		if offset >= len(chains) {
			return []*models.ChainConfiguration{}, nil
		}
		chains = chains[offset:]
	}
	if limit > 0 && limit < len(chains) {
		chains = chains[:limit]
	}
	return chains, nil
}
