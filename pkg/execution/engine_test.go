package execution

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appctx "github.com/Ramsey-B/vine/pkg/context"
	"github.com/Ramsey-B/vine/pkg/expressions"
	"github.com/Ramsey-B/vine/pkg/models"
)

type chainMap map[string]*models.ChainConfiguration

func (m chainMap) GetChain(_ context.Context, id string) (*models.ChainConfiguration, error) {
	chain, ok := m[id]
	if !ok {
		return nil, httperror.NewHTTPErrorf(http.StatusNotFound, "chain %s not found", id)
	}
	return chain, nil
}

type callerFunc func(ctx context.Context, req models.ModuleRequest) (*models.ModuleResponse, error)

func (f callerFunc) Call(ctx context.Context, req models.ModuleRequest) (*models.ModuleResponse, error) {
	return f(ctx, req)
}

type recordingSink struct {
	mu      sync.Mutex
	results []*models.ExecutionResult
	err     error
}

func (s *recordingSink) Emit(_ context.Context, result *models.ExecutionResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = append(s.results, result)
	return s.err
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.results)
}

// routeCaller answers module calls by "module endpoint"
type routeCaller struct {
	mu        sync.Mutex
	responses map[string]*models.ModuleResponse
	calls     []models.ModuleRequest
}

func newRouteCaller(responses map[string]*models.ModuleResponse) *routeCaller {
	return &routeCaller{responses: responses}
}

func (c *routeCaller) Call(_ context.Context, req models.ModuleRequest) (*models.ModuleResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, req)

	resp, ok := c.responses[req.Module+" "+req.Endpoint]
	if !ok {
		return &models.ModuleResponse{URL: "http://" + req.Module + req.Endpoint, StatusCode: http.StatusNotFound}, nil
	}
	return resp, nil
}

func (c *routeCaller) endpoints() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.calls))
	for _, call := range c.calls {
		out = append(out, call.Module+" "+call.Endpoint)
	}
	return out
}

func ok(body any) *models.ModuleResponse {
	return &models.ModuleResponse{URL: "http://module.test", StatusCode: http.StatusOK, Body: body}
}

func moduleStep(id, module, endpoint string, routing ...models.RoutingRule) models.Step {
	return models.Step{
		ID:         id,
		Type:       models.StepTypeModuleCall,
		ModuleCall: &models.ModuleCall{Module: module, Endpoint: endpoint},
		Routing:    routing,
	}
}

func chainStep(id, chainID string, mapping map[string]any, routing ...models.RoutingRule) models.Step {
	return models.Step{
		ID:        id,
		Type:      models.StepTypeChainCall,
		ChainCall: &models.ChainCall{ChainID: chainID, InputMapping: mapping},
		Routing:   routing,
	}
}

func always() models.Condition {
	return models.Leaf(models.InputRoot, models.OperatorExists, nil)
}

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

func newTestEngine(store ChainStore, caller ModuleCaller, config Config) (*Engine, *recordingSink) {
	sink := &recordingSink{}
	return NewEngine(store, caller, sink, nil, config, testLogger()), sink
}

func TestEngine_SequentialExecution(t *testing.T) {
	chain := &models.ChainConfiguration{
		ID:   "onboard",
		Name: "Onboard user",
		Steps: []models.Step{
			moduleStep("fetch", "users", "/users/{{ input.user_id }}"),
			moduleStep("score", "scoring", "/score/{{ fetch.response.id }}"),
		},
	}
	caller := newRouteCaller(map[string]*models.ModuleResponse{
		"users /users/42":     ok(map[string]any{"id": "u-42"}),
		"scoring /score/u-42": ok(map[string]any{"score": 88}),
	})
	engine, sink := newTestEngine(chainMap{"onboard": chain}, caller, DefaultConfig())

	result, err := engine.Execute(context.Background(), ExecuteRequest{
		ChainID: "onboard",
		Input:   map[string]any{"user_id": 42},
	})
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, models.ExecutionStatusCompleted, result.Status)
	assert.Nil(t, result.Error)
	assert.Equal(t, "Onboard user", result.ChainName)
	assert.Equal(t, 0, result.Depth)
	require.Len(t, result.Steps, 2)
	assert.Equal(t, []string{"users /users/42", "scoring /score/u-42"}, caller.endpoints())

	assert.Equal(t, "fetch", result.Steps[0].StepID)
	assert.Equal(t, http.StatusOK, result.Steps[0].StatusCode)
	assert.Equal(t, "users", result.Steps[0].Module)
	assert.False(t, result.Steps[0].Routing.Evaluated)

	output, isMap := result.Output.(map[string]any)
	require.True(t, isMap)
	assert.Equal(t, map[string]any{"score": 88}, output["score"])

	assert.Equal(t, 1, sink.count())
}

func TestEngine_StopChain(t *testing.T) {
	chain := &models.ChainConfiguration{
		ID: "gate",
		Steps: []models.Step{
			moduleStep("fetch", "users", "/users/{{ input.user_id }}", models.RoutingRule{
				Condition: models.Leaf("fetch.response.status", models.OperatorEquals, "inactive"),
				Action:    models.RoutingActionStopChain,
			}),
			moduleStep("notify", "mailer", "/send/{{ input.user_id }}"),
		},
		OutputTemplate: map[string]any{
			"status": "{{ fetch.response.status }}",
			"sent":   "{{ notify.response.sent }}",
		},
	}

	t.Run("inactive user stops after the first step", func(t *testing.T) {
		caller := newRouteCaller(map[string]*models.ModuleResponse{
			"users /users/1": ok(map[string]any{"status": "inactive"}),
		})
		engine, _ := newTestEngine(chainMap{"gate": chain}, caller, DefaultConfig())

		result, err := engine.Execute(context.Background(), ExecuteRequest{ChainID: "gate", Input: map[string]any{"user_id": "1"}})
		require.NoError(t, err)

		assert.Equal(t, models.ExecutionStatusStopped, result.Status)
		assert.True(t, result.Success)
		require.Len(t, result.Steps, 1)
		assert.Equal(t, []string{"users /users/1"}, caller.endpoints())

		routing := result.Steps[0].Routing
		assert.True(t, routing.Evaluated)
		require.NotNil(t, routing.MatchedRule)
		assert.Equal(t, 0, *routing.MatchedRule)
		assert.Equal(t, models.RoutingActionStopChain, routing.Action)

		output := result.Output.(map[string]any)
		assert.Equal(t, "inactive", output["status"])
		assert.True(t, expressions.IsAbsent(output["sent"]))
	})

	t.Run("active user runs every step", func(t *testing.T) {
		caller := newRouteCaller(map[string]*models.ModuleResponse{
			"users /users/2": ok(map[string]any{"status": "active"}),
			"mailer /send/2": ok(map[string]any{"sent": true}),
		})
		engine, _ := newTestEngine(chainMap{"gate": chain}, caller, DefaultConfig())

		result, err := engine.Execute(context.Background(), ExecuteRequest{ChainID: "gate", Input: map[string]any{"user_id": "2"}})
		require.NoError(t, err)

		assert.Equal(t, models.ExecutionStatusCompleted, result.Status)
		assert.True(t, result.Success)
		require.Len(t, result.Steps, 2)
		assert.True(t, result.Steps[0].Routing.Evaluated)
		assert.Nil(t, result.Steps[0].Routing.MatchedRule)
		assert.Equal(t, map[string]any{"status": "active", "sent": true}, result.Output)
	})
}

func TestEngine_SkipToStep(t *testing.T) {
	chain := &models.ChainConfiguration{
		ID: "review",
		Steps: []models.Step{
			moduleStep("score", "scoring", "/score", models.RoutingRule{
				Condition: models.Leaf("score.response.value", models.OperatorGreaterThan, 50),
				Action:    models.RoutingActionSkipToStep,
				Target:    "approve",
			}),
			moduleStep("manual", "review", "/queue"),
			moduleStep("approve", "review", "/approve"),
		},
	}

	tests := []struct {
		name      string
		score     float64
		wantSteps []string
	}{
		{name: "high score skips manual review", score: 90, wantSteps: []string{"score", "approve"}},
		{name: "low score runs manual review", score: 10, wantSteps: []string{"score", "manual", "approve"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			caller := newRouteCaller(map[string]*models.ModuleResponse{
				"scoring /score":  ok(map[string]any{"value": tt.score}),
				"review /queue":   ok(map[string]any{"queued": true}),
				"review /approve": ok(map[string]any{"approved": true}),
			})
			engine, _ := newTestEngine(chainMap{"review": chain}, caller, DefaultConfig())

			result, err := engine.Execute(context.Background(), ExecuteRequest{ChainID: "review"})
			require.NoError(t, err)

			var ids []string
			for _, step := range result.Steps {
				ids = append(ids, step.StepID)
			}
			assert.Equal(t, tt.wantSteps, ids)
			assert.Equal(t, models.ExecutionStatusCompleted, result.Status)
			assert.True(t, result.Success)
		})
	}
}

func TestEngine_FailedStepIsRoutable(t *testing.T) {
	chain := &models.ChainConfiguration{
		ID: "fallback",
		Steps: []models.Step{
			moduleStep("primary", "search", "/primary", models.RoutingRule{
				Condition: models.Leaf("primary.success", models.OperatorEquals, false),
				Action:    models.RoutingActionSkipToStep,
				Target:    "secondary",
			}),
			moduleStep("format", "search", "/format"),
			moduleStep("secondary", "search", "/secondary"),
		},
	}
	caller := newRouteCaller(map[string]*models.ModuleResponse{
		"search /primary":   {URL: "http://search/primary", StatusCode: http.StatusServiceUnavailable, Body: "down"},
		"search /secondary": ok(map[string]any{"hits": []any{"a"}}),
	})
	engine, _ := newTestEngine(chainMap{"fallback": chain}, caller, DefaultConfig())

	result, err := engine.Execute(context.Background(), ExecuteRequest{ChainID: "fallback"})
	require.NoError(t, err)

	require.Len(t, result.Steps, 2)
	assert.False(t, result.Steps[0].Success)
	assert.Equal(t, "module search returned status 503", result.Steps[0].Error)
	assert.Equal(t, "down", result.Steps[0].Response)
	assert.True(t, result.Steps[1].Success)

	assert.Equal(t, models.ExecutionStatusCompleted, result.Status)
	assert.False(t, result.Success)
	assert.Nil(t, result.Error)
}

func TestEngine_TransportErrorIsStepLocal(t *testing.T) {
	chain := &models.ChainConfiguration{
		ID:    "flaky",
		Steps: []models.Step{moduleStep("call", "remote", "/x"), moduleStep("after", "remote", "/y")},
	}
	var calls int
	caller := callerFunc(func(_ context.Context, req models.ModuleRequest) (*models.ModuleResponse, error) {
		calls++
		if req.Endpoint == "/x" {
			return nil, errors.New("connection refused")
		}
		return ok("fine"), nil
	})
	engine, _ := newTestEngine(chainMap{"flaky": chain}, caller, DefaultConfig())

	result, err := engine.Execute(context.Background(), ExecuteRequest{ChainID: "flaky"})
	require.NoError(t, err)

	assert.Equal(t, 2, calls)
	require.Len(t, result.Steps, 2)
	assert.Equal(t, "connection refused", result.Steps[0].Error)
	assert.False(t, result.Steps[0].Success)
	assert.True(t, result.Steps[1].Success)
	assert.False(t, result.Success)
}

func TestEngine_StepTimeout(t *testing.T) {
	chain := &models.ChainConfiguration{
		ID:    "slow",
		Steps: []models.Step{moduleStep("wait", "slow", "/wait")},
	}
	caller := callerFunc(func(ctx context.Context, _ models.ModuleRequest) (*models.ModuleResponse, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	config := DefaultConfig()
	config.DefaultStepTimeout = 20 * time.Millisecond
	engine, _ := newTestEngine(chainMap{"slow": chain}, caller, config)

	result, err := engine.Execute(context.Background(), ExecuteRequest{ChainID: "slow"})
	require.NoError(t, err)

	require.Len(t, result.Steps, 1)
	assert.False(t, result.Steps[0].Success)
	assert.Equal(t, "module call timed out after 20ms", result.Steps[0].Error)
	assert.Equal(t, models.ExecutionStatusCompleted, result.Status)
	assert.False(t, result.Success)
	assert.Nil(t, result.Error)
}

func TestEngine_Cancellation(t *testing.T) {
	chain := &models.ChainConfiguration{
		ID:    "cancel",
		Steps: []models.Step{moduleStep("first", "m", "/first"), moduleStep("second", "m", "/second")},
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	caller := callerFunc(func(callCtx context.Context, req models.ModuleRequest) (*models.ModuleResponse, error) {
		if req.Endpoint == "/first" {
			return ok("done"), nil
		}
		cancel()
		<-callCtx.Done()
		return nil, callCtx.Err()
	})
	engine, sink := newTestEngine(chainMap{"cancel": chain}, caller, DefaultConfig())

	result, err := engine.Execute(ctx, ExecuteRequest{ChainID: "cancel"})
	require.NoError(t, err)

	require.NotNil(t, result.Error)
	assert.Equal(t, models.ErrorCodeExecutionCancelled, result.Error.Code)
	assert.Equal(t, models.ExecutionStatusFailed, result.Status)
	require.Len(t, result.Steps, 1)
	assert.Equal(t, "first", result.Steps[0].StepID)
	assert.Equal(t, 1, sink.count())
}

func TestEngine_CancellationInsideChainCall(t *testing.T) {
	chains := chainMap{
		"outer": {
			ID:    "outer",
			Steps: []models.Step{chainStep("delegate", "inner", nil), moduleStep("after", "m", "/after")},
		},
		"inner": {
			ID:    "inner",
			Steps: []models.Step{moduleStep("slow", "m", "/slow")},
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls []string
	caller := callerFunc(func(callCtx context.Context, req models.ModuleRequest) (*models.ModuleResponse, error) {
		calls = append(calls, req.Endpoint)
		cancel()
		<-callCtx.Done()
		return nil, callCtx.Err()
	})
	engine, sink := newTestEngine(chains, caller, DefaultConfig())

	result, err := engine.Execute(ctx, ExecuteRequest{ChainID: "outer"})
	require.NoError(t, err)

	require.NotNil(t, result.Error)
	assert.Equal(t, models.ErrorCodeExecutionCancelled, result.Error.Code)
	assert.Equal(t, models.ExecutionStatusFailed, result.Status)
	assert.False(t, result.Success)
	assert.Empty(t, result.Steps)
	assert.Equal(t, []string{"/slow"}, calls)
	assert.Equal(t, 1, sink.count())
}

func TestEngine_SelfRecursionIsBounded(t *testing.T) {
	chain := &models.ChainConfiguration{
		ID:    "loop",
		Steps: []models.Step{chainStep("again", "loop", nil)},
	}
	config := DefaultConfig()
	config.MaxRecursionDepth = 10
	engine, sink := newTestEngine(chainMap{"loop": chain}, callerFunc(nil), config)

	result, err := engine.Execute(context.Background(), ExecuteRequest{ChainID: "loop", Input: map[string]any{"n": 1}})
	require.NoError(t, err)

	require.NotNil(t, result.Error)
	assert.Equal(t, models.ErrorCodeMaxRecursionExceeded, result.Error.Code)
	assert.Equal(t, models.ExecutionStatusFailed, result.Status)
	assert.False(t, result.Success)
	assert.Equal(t, 10, result.StepCount())

	// Every level keeps its partial trace
	depth := 0
	current := result
	for current != nil {
		assert.Equal(t, depth, current.Depth)
		require.NotNil(t, current.Error)
		assert.Equal(t, models.ErrorCodeMaxRecursionExceeded, current.Error.Code)
		if len(current.Steps) == 0 {
			break
		}
		current = current.Steps[0].Nested
		depth++
	}
	assert.Equal(t, 10, depth)

	// Nested runs are not emitted on their own
	assert.Equal(t, 1, sink.count())
}

func TestEngine_MaxStepsBoundsLoops(t *testing.T) {
	chain := &models.ChainConfiguration{
		ID: "spin",
		Steps: []models.Step{
			moduleStep("poll", "jobs", "/status", models.RoutingRule{
				Condition: always(),
				Action:    models.RoutingActionSkipToStep,
				Target:    "poll",
			}),
		},
	}
	caller := newRouteCaller(map[string]*models.ModuleResponse{"jobs /status": ok("pending")})
	config := DefaultConfig()
	config.MaxSteps = 5
	engine, _ := newTestEngine(chainMap{"spin": chain}, caller, config)

	result, err := engine.Execute(context.Background(), ExecuteRequest{ChainID: "spin"})
	require.NoError(t, err)

	require.NotNil(t, result.Error)
	assert.Equal(t, models.ErrorCodeMaxStepsExceeded, result.Error.Code)
	assert.Len(t, result.Steps, 5)
	assert.Len(t, caller.endpoints(), 5)
}

func TestEngine_MaxStepsIsSharedWithNestedRuns(t *testing.T) {
	chains := chainMap{
		"outer": {
			ID: "outer",
			Steps: []models.Step{
				moduleStep("a", "m", "/a"),
				chainStep("inner", "inner", nil),
				moduleStep("b", "m", "/b"),
			},
		},
		"inner": {
			ID:    "inner",
			Steps: []models.Step{moduleStep("x", "m", "/x"), moduleStep("y", "m", "/y")},
		},
	}
	caller := newRouteCaller(map[string]*models.ModuleResponse{
		"m /a": ok(1), "m /b": ok(2), "m /x": ok(3), "m /y": ok(4),
	})
	config := DefaultConfig()
	config.MaxSteps = 3
	engine, _ := newTestEngine(chains, caller, config)

	result, err := engine.Execute(context.Background(), ExecuteRequest{ChainID: "outer"})
	require.NoError(t, err)

	require.NotNil(t, result.Error)
	assert.Equal(t, models.ErrorCodeMaxStepsExceeded, result.Error.Code)
	require.Len(t, result.Steps, 2)
	require.NotNil(t, result.Steps[1].Nested)
	assert.Len(t, result.Steps[1].Nested.Steps, 1)
	assert.Equal(t, []string{"m /a", "m /x"}, caller.endpoints())
}

func TestEngine_ChainCall(t *testing.T) {
	chains := chainMap{
		"order": {
			ID: "order",
			Steps: []models.Step{
				chainStep("pricing", "price", map[string]any{"sku": "{{ input.sku }}", "qty": "{{ input.qty }}"}),
				moduleStep("charge", "billing", "/charge/{{ pricing.response.total }}"),
			},
			OutputTemplate: map[string]any{"total": "{{ pricing.response.total }}", "charged": "{{ charge.response.ok }}"},
		},
		"price": {
			ID:             "price",
			Steps:          []models.Step{moduleStep("lookup", "catalog", "/sku/{{ input.sku }}?qty={{ input.qty }}")},
			OutputTemplate: map[string]any{"total": "{{ lookup.response.total }}"},
		},
	}
	caller := newRouteCaller(map[string]*models.ModuleResponse{
		"catalog /sku/abc?qty=3": ok(map[string]any{"total": 30}),
		"billing /charge/30":     ok(map[string]any{"ok": true}),
	})
	engine, sink := newTestEngine(chains, caller, DefaultConfig())

	result, err := engine.Execute(context.Background(), ExecuteRequest{
		ChainID: "order",
		Input:   map[string]any{"sku": "abc", "qty": 3},
	})
	require.NoError(t, err)

	assert.True(t, result.Success)
	require.Len(t, result.Steps, 2)

	call := result.Steps[0]
	assert.Equal(t, models.StepTypeChainCall, call.StepType)
	assert.True(t, call.Success)
	assert.Equal(t, map[string]any{"total": float64(30)}, call.Response)
	require.NotNil(t, call.Nested)
	assert.Equal(t, 1, call.Nested.Depth)
	assert.Equal(t, result.ExecutionID, call.Nested.ParentExecutionID)
	assert.Equal(t, map[string]any{"sku": "abc", "qty": float64(3)}, call.Nested.Input)
	assert.Equal(t, "price", call.Request.ChainID)

	assert.Equal(t, map[string]any{"total": float64(30), "charged": true}, result.Output)
	assert.Equal(t, 3, result.StepCount())
	assert.Equal(t, 1, sink.count())
}

func TestEngine_ChainCallForwardsInputAndEnv(t *testing.T) {
	chains := chainMap{
		"parent": {ID: "parent", Steps: []models.Step{chainStep("child", "child", nil)}},
		"child": {
			ID:             "child",
			Steps:          []models.Step{moduleStep("echo", "m", "/{{ input.name }}/{{ env.region }}")},
			OutputTemplate: map[string]any{"region": "{{ env.region }}"},
		},
	}
	caller := newRouteCaller(map[string]*models.ModuleResponse{"m /ada/eu": ok("hi")})
	engine, _ := newTestEngine(chains, caller, DefaultConfig())

	result, err := engine.Execute(context.Background(), ExecuteRequest{
		ChainID: "parent",
		Input:   map[string]any{"name": "ada"},
		Env:     map[string]any{"region": "eu"},
	})
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, []string{"m /ada/eu"}, caller.endpoints())
	assert.Equal(t, map[string]any{"region": "eu"}, result.Steps[0].Response)
}

func TestEngine_NestedFailureIsStepLocal(t *testing.T) {
	chains := chainMap{
		"parent": {
			ID: "parent",
			Steps: []models.Step{
				chainStep("child", "broken", nil),
				moduleStep("after", "m", "/after"),
			},
		},
		"broken": {
			ID: "broken",
			Steps: []models.Step{
				moduleStep("a", "m", "/a", models.RoutingRule{Condition: always(), Action: models.RoutingActionSkipToStep, Target: "missing"}),
			},
		},
	}
	caller := newRouteCaller(map[string]*models.ModuleResponse{"m /a": ok(1), "m /after": ok(2)})
	engine, _ := newTestEngine(chains, caller, DefaultConfig())

	result, err := engine.Execute(context.Background(), ExecuteRequest{ChainID: "parent"})
	require.NoError(t, err)

	assert.Nil(t, result.Error)
	assert.Equal(t, models.ExecutionStatusCompleted, result.Status)
	assert.False(t, result.Success)
	require.Len(t, result.Steps, 2)

	child := result.Steps[0]
	assert.False(t, child.Success)
	require.NotNil(t, child.Nested)
	require.NotNil(t, child.Nested.Error)
	assert.Equal(t, models.ErrorCodeInvalidTargetStep, child.Nested.Error.Code)
	assert.Contains(t, child.Error, "INVALID_TARGET_STEP")
	assert.True(t, result.Steps[1].Success)
}

func TestEngine_ChainCallToUnknownChain(t *testing.T) {
	chains := chainMap{
		"parent": {ID: "parent", Steps: []models.Step{moduleStep("a", "m", "/a"), chainStep("child", "ghost", nil)}},
	}
	caller := newRouteCaller(map[string]*models.ModuleResponse{"m /a": ok(1)})
	engine, _ := newTestEngine(chains, caller, DefaultConfig())

	result, err := engine.Execute(context.Background(), ExecuteRequest{ChainID: "parent"})
	require.NoError(t, err)

	require.NotNil(t, result.Error)
	assert.Equal(t, models.ErrorCodeChainNotFound, result.Error.Code)
	assert.Len(t, result.Steps, 1)
}

func TestEngine_JumpToChain(t *testing.T) {
	chains := chainMap{
		"main": {
			ID: "main",
			Steps: []models.Step{
				moduleStep("classify", "nlp", "/classify", models.RoutingRule{
					Condition:    models.Leaf("classify.response.kind", models.OperatorEquals, "refund"),
					Action:       models.RoutingActionJumpToChain,
					Target:       "refunds",
					InputMapping: map[string]any{"ticket": "{{ input.ticket }}"},
				}),
				moduleStep("never", "nlp", "/never"),
			},
		},
		"refunds": {
			ID:             "refunds",
			Steps:          []models.Step{moduleStep("refund", "billing", "/refund/{{ input.ticket }}")},
			OutputTemplate: map[string]any{"refunded": "{{ refund.response.ok }}"},
		},
	}
	caller := newRouteCaller(map[string]*models.ModuleResponse{
		"nlp /classify":     ok(map[string]any{"kind": "refund"}),
		"billing /refund/7": ok(map[string]any{"ok": true}),
	})
	engine, _ := newTestEngine(chains, caller, DefaultConfig())

	result, err := engine.Execute(context.Background(), ExecuteRequest{ChainID: "main", Input: map[string]any{"ticket": 7}})
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusJumped, result.Status)
	assert.True(t, result.Success)
	assert.Equal(t, map[string]any{"refunded": true}, result.Output)
	require.Len(t, result.Steps, 1)
	assert.Equal(t, "refunds", result.Steps[0].Routing.Target)
	require.NotNil(t, result.JumpedTo)
	assert.Equal(t, 1, result.JumpedTo.Depth)
	assert.Equal(t, "refunds", result.JumpedTo.ChainID)
	assert.Equal(t, []string{"nlp /classify", "billing /refund/7"}, caller.endpoints())
}

func TestEngine_JumpToChainAdoptsFailure(t *testing.T) {
	chains := chainMap{
		"main": {
			ID: "main",
			Steps: []models.Step{
				moduleStep("a", "m", "/a", models.RoutingRule{Condition: always(), Action: models.RoutingActionJumpToChain, Target: "failing"}),
			},
		},
		"failing": {ID: "failing", Steps: []models.Step{moduleStep("b", "m", "/b")}},
	}
	caller := newRouteCaller(map[string]*models.ModuleResponse{"m /a": ok(1)})
	engine, _ := newTestEngine(chains, caller, DefaultConfig())

	result, err := engine.Execute(context.Background(), ExecuteRequest{ChainID: "main"})
	require.NoError(t, err)

	// "m /b" is unknown to the caller and returns 404, a step-local failure
	assert.Equal(t, models.ExecutionStatusJumped, result.Status)
	assert.False(t, result.Success)
	assert.Nil(t, result.Error)
}

func TestEngine_JumpToUnknownChain(t *testing.T) {
	chains := chainMap{
		"main": {
			ID: "main",
			Steps: []models.Step{
				moduleStep("a", "m", "/a", models.RoutingRule{Condition: always(), Action: models.RoutingActionJumpToChain, Target: "ghost"}),
			},
		},
	}
	caller := newRouteCaller(map[string]*models.ModuleResponse{"m /a": ok(1)})
	engine, _ := newTestEngine(chains, caller, DefaultConfig())

	result, err := engine.Execute(context.Background(), ExecuteRequest{ChainID: "main"})
	require.NoError(t, err)

	require.NotNil(t, result.Error)
	assert.Equal(t, models.ErrorCodeInvalidTargetChain, result.Error.Code)
	assert.Len(t, result.Steps, 1)
	assert.Nil(t, result.JumpedTo)
}

func TestEngine_JumpCycleIsBounded(t *testing.T) {
	chains := chainMap{
		"ping": {ID: "ping", Steps: []models.Step{
			moduleStep("a", "m", "/a", models.RoutingRule{Condition: always(), Action: models.RoutingActionJumpToChain, Target: "pong"}),
		}},
		"pong": {ID: "pong", Steps: []models.Step{
			moduleStep("b", "m", "/b", models.RoutingRule{Condition: always(), Action: models.RoutingActionJumpToChain, Target: "ping"}),
		}},
	}
	caller := newRouteCaller(map[string]*models.ModuleResponse{"m /a": ok(1), "m /b": ok(2)})
	config := DefaultConfig()
	config.MaxRecursionDepth = 3
	engine, _ := newTestEngine(chains, caller, config)

	result, err := engine.Execute(context.Background(), ExecuteRequest{ChainID: "ping"})
	require.NoError(t, err)

	require.NotNil(t, result.Error)
	assert.Equal(t, models.ErrorCodeMaxRecursionExceeded, result.Error.Code)
	assert.Equal(t, 4, result.StepCount())
}

func TestEngine_InvalidTargetStep(t *testing.T) {
	chains := chainMap{
		"main": {
			ID: "main",
			Steps: []models.Step{
				moduleStep("a", "m", "/a", models.RoutingRule{Condition: always(), Action: models.RoutingActionSkipToStep, Target: "nowhere"}),
				moduleStep("b", "m", "/b"),
			},
		},
	}
	caller := newRouteCaller(map[string]*models.ModuleResponse{"m /a": ok(1), "m /b": ok(2)})
	engine, _ := newTestEngine(chains, caller, DefaultConfig())

	result, err := engine.Execute(context.Background(), ExecuteRequest{ChainID: "main"})
	require.NoError(t, err)

	require.NotNil(t, result.Error)
	assert.Equal(t, models.ErrorCodeInvalidTargetStep, result.Error.Code)
	assert.False(t, result.Success)
	require.Len(t, result.Steps, 1)
	assert.Equal(t, "nowhere", result.Steps[0].Routing.Target)
	assert.Nil(t, result.Output)
}

func TestEngine_EvalError(t *testing.T) {
	chains := chainMap{
		"main": {
			ID: "main",
			Steps: []models.Step{
				moduleStep("a", "m", "/a", models.RoutingRule{
					Condition: models.Condition{Combinator: models.CombinatorAnd, Conditions: []models.Condition{}},
					Action:    models.RoutingActionStopChain,
				}),
			},
		},
	}
	caller := newRouteCaller(map[string]*models.ModuleResponse{"m /a": ok(1)})
	engine, _ := newTestEngine(chains, caller, DefaultConfig())

	result, err := engine.Execute(context.Background(), ExecuteRequest{ChainID: "main"})
	require.NoError(t, err)

	require.NotNil(t, result.Error)
	assert.Equal(t, models.ErrorCodeEvalError, result.Error.Code)
	assert.Len(t, result.Steps, 1)
}

func TestEngine_RunIfGuard(t *testing.T) {
	chain := &models.ChainConfiguration{
		ID: "guarded",
		Steps: []models.Step{
			moduleStep("a", "m", "/a"),
			{
				ID:         "b",
				Type:       models.StepTypeModuleCall,
				ModuleCall: &models.ModuleCall{Module: "m", Endpoint: "/b"},
				RunIf:      ptr(models.Leaf("input.notify", models.OperatorEquals, true)),
			},
		},
	}
	caller := newRouteCaller(map[string]*models.ModuleResponse{"m /a": ok(1), "m /b": ok(2)})
	engine, _ := newTestEngine(chainMap{"guarded": chain}, caller, DefaultConfig())

	result, err := engine.Execute(context.Background(), ExecuteRequest{ChainID: "guarded", Input: map[string]any{"notify": false}})
	require.NoError(t, err)

	assert.True(t, result.Success)
	require.Len(t, result.Steps, 2)
	assert.True(t, result.Steps[1].Skipped)
	assert.Equal(t, []string{"m /a"}, caller.endpoints())
	assert.Equal(t, map[string]any{"a": 1}, result.Output)
}

func TestEngine_SkippedStepDoesNotDriveRouting(t *testing.T) {
	stopUnlessA := models.RoutingRule{
		Condition: models.Leaf("a.success", models.OperatorNotEquals, true),
		Action:    models.RoutingActionStopChain,
	}
	chain := &models.ChainConfiguration{
		ID: "guarded",
		Steps: []models.Step{
			{
				ID:         "a",
				Type:       models.StepTypeModuleCall,
				ModuleCall: &models.ModuleCall{Module: "m", Endpoint: "/a"},
				RunIf:      ptr(models.Leaf("input.run_a", models.OperatorEquals, true)),
			},
			moduleStep("b", "m", "/b", stopUnlessA),
			moduleStep("c", "m", "/c"),
		},
	}

	t.Run("skipped step leaves its fields absent", func(t *testing.T) {
		caller := newRouteCaller(map[string]*models.ModuleResponse{"m /a": ok(1), "m /b": ok(2), "m /c": ok(3)})
		engine, _ := newTestEngine(chainMap{"guarded": chain}, caller, DefaultConfig())

		result, err := engine.Execute(context.Background(), ExecuteRequest{ChainID: "guarded", Input: map[string]any{"run_a": false}})
		require.NoError(t, err)

		assert.Equal(t, models.ExecutionStatusCompleted, result.Status)
		assert.True(t, result.Success)
		require.Len(t, result.Steps, 3)
		assert.True(t, result.Steps[0].Skipped)
		assert.Equal(t, []string{"m /b", "m /c"}, caller.endpoints())
	})

	t.Run("failed step still stops the chain", func(t *testing.T) {
		caller := newRouteCaller(map[string]*models.ModuleResponse{"m /b": ok(2), "m /c": ok(3)})
		engine, _ := newTestEngine(chainMap{"guarded": chain}, caller, DefaultConfig())

		result, err := engine.Execute(context.Background(), ExecuteRequest{ChainID: "guarded", Input: map[string]any{"run_a": true}})
		require.NoError(t, err)

		assert.Equal(t, models.ExecutionStatusStopped, result.Status)
		assert.Equal(t, []string{"m /a", "m /b"}, caller.endpoints())
	})
}

func TestEngine_ExecuteErrors(t *testing.T) {
	engine, sink := newTestEngine(chainMap{}, callerFunc(nil), DefaultConfig())

	t.Run("request without a chain", func(t *testing.T) {
		result, err := engine.Execute(context.Background(), ExecuteRequest{})
		assert.ErrorIs(t, err, ErrChainRequired)
		assert.Nil(t, result)
	})

	t.Run("unknown chain", func(t *testing.T) {
		result, err := engine.Execute(context.Background(), ExecuteRequest{ChainID: "ghost"})
		require.NoError(t, err)
		require.NotNil(t, result.Error)
		assert.Equal(t, models.ErrorCodeChainNotFound, result.Error.Code)
		assert.Empty(t, result.Steps)
	})

	t.Run("inline chain without an id", func(t *testing.T) {
		inline := &models.ChainConfiguration{Steps: []models.Step{moduleStep("a", "m", "/a")}}
		caller := newRouteCaller(map[string]*models.ModuleResponse{"m /a": ok(1)})
		engine, _ := newTestEngine(chainMap{}, caller, DefaultConfig())

		result, err := engine.Execute(context.Background(), ExecuteRequest{Chain: inline})
		require.NoError(t, err)
		assert.Nil(t, result.Error)
		assert.True(t, result.Success)
		assert.NotEmpty(t, result.ChainID)
		assert.Empty(t, inline.ID)
		assert.Equal(t, []string{"m /a"}, caller.endpoints())
	})

	t.Run("invalid chain definition", func(t *testing.T) {
		result, err := engine.Execute(context.Background(), ExecuteRequest{Chain: &models.ChainConfiguration{
			ID:    "dup",
			Steps: []models.Step{moduleStep("a", "m", "/a"), moduleStep("a", "m", "/b")},
		}})
		require.NoError(t, err)
		require.NotNil(t, result.Error)
		assert.Equal(t, models.ErrorCodeInvalidChainDefinition, result.Error.Code)
	})

	assert.Equal(t, 2, sink.count())
}

func TestEngine_FailureLogCarriesContext(t *testing.T) {
	var mu sync.Mutex
	var failures []ectologger.EctoLogMessage
	logger := ectologger.NewEctoLogger(func(msg ectologger.EctoLogMessage) {
		if strings.HasPrefix(msg.Message, "Chain run failed") {
			mu.Lock()
			failures = append(failures, msg)
			mu.Unlock()
		}
	})
	engine := NewEngine(chainMap{}, callerFunc(nil), nil, nil, DefaultConfig(), logger)

	ctx := appctx.SetRequestID(context.Background(), "req-42")
	result, err := engine.Execute(ctx, ExecuteRequest{ChainID: "ghost"})
	require.NoError(t, err)
	require.NotNil(t, result.Error)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, failures, 1)
	require.NotNil(t, failures[0].Ctx)
	assert.Equal(t, "req-42", appctx.GetRequestID(failures[0].Ctx))
	assert.Equal(t, string(models.ErrorCodeChainNotFound), failures[0].Fields["code"])
}

func TestEngine_SinkFailureDoesNotFailExecution(t *testing.T) {
	chain := &models.ChainConfiguration{ID: "c", Steps: []models.Step{moduleStep("a", "m", "/a")}}
	caller := newRouteCaller(map[string]*models.ModuleResponse{"m /a": ok(1)})
	sink := &recordingSink{err: errors.New("broker down")}
	engine := NewEngine(chainMap{"c": chain}, caller, sink, nil, DefaultConfig(), testLogger())

	result, err := engine.Execute(context.Background(), ExecuteRequest{ChainID: "c"})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 1, sink.count())
}

func TestEngine_ConcurrentExecutions(t *testing.T) {
	chains := chainMap{
		"echo": {
			ID: "echo",
			Steps: []models.Step{
				moduleStep("say", "echo", "/{{ input.n }}"),
				chainStep("again", "echo-inner", map[string]any{"n": "{{ say.response.n }}"}),
			},
			OutputTemplate: map[string]any{"n": "{{ again.response.n }}"},
		},
		"echo-inner": {
			ID:             "echo-inner",
			Steps:          []models.Step{moduleStep("say", "echo", "/{{ input.n }}")},
			OutputTemplate: map[string]any{"n": "{{ say.response.n }}"},
		},
	}
	caller := callerFunc(func(_ context.Context, req models.ModuleRequest) (*models.ModuleResponse, error) {
		var n int
		_, err := fmt.Sscanf(req.Endpoint, "/%d", &n)
		if err != nil {
			return nil, err
		}
		return ok(map[string]any{"n": n}), nil
	})
	engine, sink := newTestEngine(chains, caller, DefaultConfig())

	const workers = 25
	var wg sync.WaitGroup
	results := make([]*models.ExecutionResult, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			result, err := engine.Execute(context.Background(), ExecuteRequest{ChainID: "echo", Input: map[string]any{"n": i}})
			if err == nil {
				results[i] = result
			}
		}(i)
	}
	wg.Wait()

	for i, result := range results {
		require.NotNil(t, result)
		assert.True(t, result.Success)
		assert.Equal(t, map[string]any{"n": float64(i)}, result.Output)
	}
	assert.Equal(t, workers, sink.count())
}

func ptr[T any](v T) *T {
	return &v
}
