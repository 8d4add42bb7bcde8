package executionlog

import (
	"context"
	"net/http"
	"sync"

	"github.com/Gobusters/ectoerror/httperror"

	appctx "github.com/Ramsey-B/vine/pkg/context"
	"github.com/Ramsey-B/vine/pkg/models"
)

// DefaultMemoryCapacity bounds the in-memory log
const DefaultMemoryCapacity = 1000

// Memory keeps the most recent execution logs in process. It backs the
// execution endpoints when no database is configured.
type Memory struct {
	mu       sync.RWMutex
	capacity int
	logs     []*models.ExecutionLog // oldest first
	byID     map[string]*models.ExecutionLog
}

func NewMemory(capacity int) *Memory {
	if capacity <= 0 {
		capacity = DefaultMemoryCapacity
	}
	return &Memory{
		capacity: capacity,
		byID:     make(map[string]*models.ExecutionLog, capacity),
	}
}

func (m *Memory) Emit(ctx context.Context, result *models.ExecutionResult) error {
	log := models.NewExecutionLog(result, appctx.GetUserID(ctx))

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.byID[log.ID]; exists {
		return nil
	}
	if len(m.logs) == m.capacity {
		delete(m.byID, m.logs[0].ID)
		m.logs = m.logs[1:]
	}
	m.logs = append(m.logs, log)
	m.byID[log.ID] = log
	return nil
}

func (m *Memory) GetByID(_ context.Context, id string) (*models.ExecutionLog, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	log, ok := m.byID[id]
	if !ok {
		return nil, httperror.NewHTTPErrorf(http.StatusNotFound, "execution %s not found", id)
	}
	return log, nil
}

// List returns the most recent logs first, optionally for one chain
func (m *Memory) List(_ context.Context, chainID string, limit int) ([]models.ExecutionLog, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	logs := []models.ExecutionLog{}
	for i := len(m.logs) - 1; i >= 0; i-- {
		if limit > 0 && len(logs) >= limit {
			break
		}
		if chainID != "" && m.logs[i].ChainID != chainID {
			continue
		}
		logs = append(logs, *m.logs[i])
	}
	return logs, nil
}
