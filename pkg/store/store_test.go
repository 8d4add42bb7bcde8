package store

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/vine/pkg/models"
	"github.com/Ramsey-B/vine/pkg/redis"
)

const chainsYAML = `
chains:
  - id: onboard
    name: Onboard
    steps:
      - id: fetch
        type: module_call
        module_call:
          module: users
          endpoint: /users/{{ input.user_id }}
          timeout_seconds: 5
        routing:
          - condition:
              combinator: OR
              conditions:
                - field: fetch.response.status
                  operator: equals
                  value: inactive
                - field: fetch.response.age
                  operator: less_than
                  value: 18
            action: stop_chain
      - id: notify
        type: chain_call
        chain_call:
          chain_id: notify
          input_mapping:
            user: "{{ fetch.response.id }}"
    output_template:
      user: "{{ fetch.response.id }}"
  - id: notify
    steps:
      - id: send
        type: module_call
        module_call:
          module: mailer
          method: POST
          body:
            to: "{{ input.user }}"
`

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

func isNotFound(err error) bool {
	return httperror.IsHTTPError(err) && httperror.GetStatusCode(err) == http.StatusNotFound
}

func TestMemory(t *testing.T) {
	memory := NewMemory(&models.ChainConfiguration{ID: "b"}, &models.ChainConfiguration{ID: "a"})

	chain, err := memory.GetChain(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, "a", chain.ID)

	_, err = memory.GetChain(context.Background(), "missing")
	assert.True(t, isNotFound(err))

	memory.Put(&models.ChainConfiguration{ID: "c"})
	chains, err := memory.ListChains(context.Background(), 0, 0)
	require.NoError(t, err)
	require.Len(t, chains, 3)
	assert.Equal(t, []string{"a", "b", "c"}, []string{chains[0].ID, chains[1].ID, chains[2].ID})

	chains, err = memory.ListChains(context.Background(), 1, 1)
	require.NoError(t, err)
	require.Len(t, chains, 1)
	assert.Equal(t, "b", chains[0].ID)

	chains, err = memory.ListChains(context.Background(), 10, 5)
	require.NoError(t, err)
	assert.Empty(t, chains)
}

func TestParseChains(t *testing.T) {
	t.Run("yaml chain list", func(t *testing.T) {
		chains, err := ParseChains([]byte(chainsYAML), ".yaml")
		require.NoError(t, err)
		require.Len(t, chains, 2)

		onboard := chains[0]
		assert.Equal(t, "onboard", onboard.ID)
		require.Len(t, onboard.Steps, 2)

		fetch := onboard.Steps[0]
		assert.Equal(t, models.StepTypeModuleCall, fetch.Type)
		assert.Equal(t, 5, fetch.ModuleCall.TimeoutSeconds)
		require.Len(t, fetch.Routing, 1)
		assert.Equal(t, models.ConditionKindGroup, fetch.Routing[0].Condition.Kind())
		assert.Equal(t, float64(18), fetch.Routing[0].Condition.Conditions[1].Value)

		notify := onboard.Steps[1]
		assert.Equal(t, "notify", notify.ChainCall.ChainID)
		assert.Equal(t, map[string]any{"user": "{{ fetch.response.id }}"}, notify.ChainCall.InputMapping)
		assert.Equal(t, map[string]any{"to": "{{ input.user }}"}, chains[1].Steps[0].ModuleCall.Body)
	})

	t.Run("single json chain", func(t *testing.T) {
		chains, err := ParseChains([]byte(`{"id":"one","steps":[{"id":"a","type":"module_call","module_call":{"module":"m"}}]}`), ".json")
		require.NoError(t, err)
		require.Len(t, chains, 1)
		assert.Equal(t, "one", chains[0].ID)
	})

	t.Run("invalid step is rejected", func(t *testing.T) {
		_, err := ParseChains([]byte(`{"id":"bad","steps":[{"id":"input","type":"module_call","module_call":{"module":"m"}}]}`), ".json")
		assert.ErrorContains(t, err, "reserved")
	})

	t.Run("duplicate chain ids are rejected", func(t *testing.T) {
		_, err := ParseChains([]byte("chains:\n  - id: a\n  - id: a\n"), ".yml")
		assert.ErrorContains(t, err, "duplicate chain id")
	})
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chains.yaml")
	require.NoError(t, os.WriteFile(path, []byte(chainsYAML), 0o600))

	memory, err := LoadFile(path)
	require.NoError(t, err)

	chain, err := memory.GetChain(context.Background(), "notify")
	require.NoError(t, err)
	assert.Equal(t, "send", chain.Steps[0].ID)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

type fakeCache struct {
	mu      sync.Mutex
	data    map[string][]byte
	getErr  error
	gets    int
	lastTTL time.Duration
}

func newFakeCache() *fakeCache {
	return &fakeCache{data: map[string][]byte{}}
}

func (f *fakeCache) Get(_ context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets++
	if f.getErr != nil {
		return nil, f.getErr
	}
	value, ok := f.data[key]
	if !ok {
		return nil, redis.ErrCacheMiss
	}
	return value, nil
}

func (f *fakeCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[key] = value
	f.lastTTL = ttl
	return nil
}

func (f *fakeCache) Del(_ context.Context, keys ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, key := range keys {
		delete(f.data, key)
	}
	return nil
}

type countingStore struct {
	*Memory
	calls int
}

func (c *countingStore) GetChain(ctx context.Context, id string) (*models.ChainConfiguration, error) {
	c.calls++
	return c.Memory.GetChain(ctx, id)
}

func TestCached(t *testing.T) {
	chain := &models.ChainConfiguration{
		ID:    "onboard",
		Steps: []models.Step{{ID: "a", Type: models.StepTypeModuleCall, ModuleCall: &models.ModuleCall{Module: "m"}}},
	}

	t.Run("reads through and serves hits from cache", func(t *testing.T) {
		backing := &countingStore{Memory: NewMemory(chain)}
		cache := newFakeCache()
		cached := NewCached(backing, cache, time.Minute, testLogger())

		first, err := cached.GetChain(context.Background(), "onboard")
		require.NoError(t, err)
		second, err := cached.GetChain(context.Background(), "onboard")
		require.NoError(t, err)

		assert.Equal(t, 1, backing.calls)
		assert.Equal(t, time.Minute, cache.lastTTL)
		assert.Equal(t, first.ID, second.ID)
		assert.Equal(t, "m", second.Steps[0].ModuleCall.Module)

		require.NoError(t, cached.Invalidate(context.Background(), "onboard"))
		_, err = cached.GetChain(context.Background(), "onboard")
		require.NoError(t, err)
		assert.Equal(t, 2, backing.calls)
	})

	t.Run("not found is passed through and not cached", func(t *testing.T) {
		backing := &countingStore{Memory: NewMemory()}
		cache := newFakeCache()
		cached := NewCached(backing, cache, 0, testLogger())

		_, err := cached.GetChain(context.Background(), "ghost")
		assert.True(t, isNotFound(err))
		assert.Empty(t, cache.data)
	})

	t.Run("cache errors fall back to the store", func(t *testing.T) {
		backing := &countingStore{Memory: NewMemory(chain)}
		cache := newFakeCache()
		cache.getErr = errors.New("connection reset")
		cached := NewCached(backing, cache, 0, testLogger())

		got, err := cached.GetChain(context.Background(), "onboard")
		require.NoError(t, err)
		assert.Equal(t, "onboard", got.ID)
		assert.Equal(t, DefaultCacheTTL, cache.lastTTL)
	})
}
