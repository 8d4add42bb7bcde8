package execution

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/Ramsey-B/vine/pkg/conditions"
	appctx "github.com/Ramsey-B/vine/pkg/context"
	"github.com/Ramsey-B/vine/pkg/expressions"
	"github.com/Ramsey-B/vine/pkg/metrics"
	"github.com/Ramsey-B/vine/pkg/models"
	"github.com/Ramsey-B/vine/pkg/tracing"
)

const (
	// DefaultMaxSteps is the default ceiling on step visits per top-level execution
	DefaultMaxSteps = 100

	// DefaultMaxRecursionDepth is the default ceiling on nested chain depth
	DefaultMaxRecursionDepth = 10

	// DefaultStepTimeout applies to module calls without their own timeout
	DefaultStepTimeout = 30 * time.Second
)

// ErrChainRequired is returned when a request names neither a chain ID nor a definition
var ErrChainRequired = errors.New("chain id or chain definition is required")

// isNotFound checks if an error is an HTTP 404 Not Found error
func isNotFound(err error) bool {
	return httperror.IsHTTPError(err) && httperror.GetStatusCode(err) == http.StatusNotFound
}

// Config holds the engine ceilings
type Config struct {
	MaxSteps           int
	MaxRecursionDepth  int
	DefaultStepTimeout time.Duration
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		MaxSteps:           DefaultMaxSteps,
		MaxRecursionDepth:  DefaultMaxRecursionDepth,
		DefaultStepTimeout: DefaultStepTimeout,
	}
}

func (c Config) withDefaults() Config {
	if c.MaxSteps <= 0 {
		c.MaxSteps = DefaultMaxSteps
	}
	if c.MaxRecursionDepth < 0 {
		c.MaxRecursionDepth = DefaultMaxRecursionDepth
	}
	if c.DefaultStepTimeout <= 0 {
		c.DefaultStepTimeout = DefaultStepTimeout
	}
	return c
}

// ExecuteRequest names the chain to run. Chain, when set, takes precedence over ChainID.
type ExecuteRequest struct {
	ChainID string
	Chain   *models.ChainConfiguration
	Input   map[string]any
	Env     map[string]any
	UserID  string
}

// runState is shared by every run inside one top-level execution
type runState struct {
	maxSteps int
	steps    int
}

func (s *runState) visit() error {
	s.steps++
	if s.steps > s.maxSteps {
		return models.NewExecutionError(models.ErrorCodeMaxStepsExceeded, "execution exceeded the maximum of %d steps", s.maxSteps)
	}
	return nil
}

// Engine is the execution orchestrator. It is safe for concurrent use: every
// execution owns its own context snapshots and run state.
type Engine struct {
	store     ChainStore
	sink      LogSink
	evaluator *conditions.Evaluator
	invoker   *Invoker
	router    *Router
	config    Config
	logger    ectologger.Logger
}

// NewEngine creates an engine. The sink may be nil.
func NewEngine(
	store ChainStore,
	caller ModuleCaller,
	sink LogSink,
	evaluator *conditions.Evaluator,
	config Config,
	logger ectologger.Logger,
) *Engine {
	if evaluator == nil {
		evaluator = conditions.NewEvaluator(nil, logger)
	}
	config = config.withDefaults()

	e := &Engine{
		store:     store,
		sink:      sink,
		evaluator: evaluator,
		router:    NewRouter(evaluator),
		config:    config,
		logger:    logger,
	}
	e.invoker = newInvoker(caller, e, config.DefaultStepTimeout, logger)
	return e
}

// Execute runs a chain to completion and returns its trace. Execution-level
// failures are reported in the result's Error with the partial trace attached.
// The returned error is non-nil only when the request itself is unusable.
func (e *Engine) Execute(ctx context.Context, req ExecuteRequest) (*models.ExecutionResult, error) {
	ctx, span := tracing.StartSpan(ctx, "Engine.Execute")
	defer span.End()

	chain := req.Chain
	if chain == nil && req.ChainID == "" {
		return nil, ErrChainRequired
	}

	if chain != nil && chain.ID == "" {
		adhoc := *chain
		adhoc.ID = uuid.NewString()
		chain = &adhoc
	}

	state := &runState{maxSteps: e.config.MaxSteps}

	var result *models.ExecutionResult
	if chain == nil {
		loaded, err := e.loadChain(ctx, req.ChainID, models.ErrorCodeChainNotFound)
		if err != nil {
			result = e.fail(ctx, newResult(uuid.NewString(), req.ChainID, "", 0, req.Input, nil), asExecutionError(err))
		} else {
			chain = loaded
		}
	}
	if result == nil {
		result = e.run(ctx, chain, req.Input, req.Env, 0, nil, state)
	}

	metrics.RecordChainExecution(result.ChainID, string(result.Status), float64(result.DurationMs)/1000)
	if result.Error != nil {
		metrics.RecordExecutionError(string(result.Error.Code))
		tracing.RecordError(span, result.Error)
	}

	e.emit(ctx, result, req.UserID)

	return result, nil
}

// run executes one chain from its first step. It never returns nil.
func (e *Engine) run(ctx context.Context, chain *models.ChainConfiguration, input, env map[string]any, depth int, parent *ExecutionContext, state *runState) *models.ExecutionResult {
	executionID := uuid.NewString()
	ctx, span := tracing.StartSpan(ctx, "Engine.run", tracing.ChainAttrs(chain.ID, executionID, depth)...)
	defer span.End()

	if depth == 0 {
		ctx = appctx.SetChainID(appctx.SetExecutionID(ctx, executionID), chain.ID)
	}

	execCtx := NewExecutionContext(chain.ID, executionID, depth, input, env, parent)
	result := newResult(executionID, chain.ID, chain.Name, depth, execCtx.Input(), parent)

	log := e.logger.WithContext(ctx).WithFields(map[string]any{
		"chain_id":     chain.ID,
		"execution_id": executionID,
		"depth":        depth,
	})
	log.Debugf("Starting chain run with %d steps", len(chain.Steps))

	if err := chain.Validate(); err != nil {
		return e.fail(ctx, result, models.NewExecutionError(models.ErrorCodeInvalidChainDefinition, "%v", err))
	}

	index := chain.StepIndex()
	cursor := 0
	for cursor < len(chain.Steps) {
		if err := ctx.Err(); err != nil {
			return e.fail(ctx, result, cancelledError(err))
		}
		if err := state.visit(); err != nil {
			return e.fail(ctx, result, asExecutionError(err))
		}

		step := chain.Steps[cursor]

		if step.RunIf != nil {
			ok, err := e.evaluator.Evaluate(*step.RunIf, execCtx.ToMap())
			if err != nil {
				return e.fail(ctx, result, asExecutionError(err))
			}
			if !ok {
				skipped := models.StepResult{
					StepID:    step.ID,
					StepName:  step.DisplayName(),
					StepType:  step.Type,
					Skipped:   true,
					Timestamp: time.Now(),
				}
				result.Steps = append(result.Steps, skipped)
				execCtx = execCtx.WithResult(skipped)
				cursor++
				continue
			}
		}

		stepResult, err := e.invoker.Invoke(ctx, step, execCtx, state)
		if err != nil {
			if stepResult != nil {
				result.Steps = append(result.Steps, *stepResult)
			}
			return e.fail(ctx, result, asExecutionError(err))
		}

		execCtx = execCtx.WithResult(*stepResult)

		action, diagnostics, err := e.router.Route(step, execCtx, index)
		stepResult.Routing = diagnostics
		result.Steps = append(result.Steps, *stepResult)
		if err != nil {
			return e.fail(ctx, result, asExecutionError(err))
		}

		switch action.Kind {
		case ControlSkipTo:
			log.Debugf("Step %s skips to step %s", step.ID, chain.Steps[action.StepIndex].ID)
			cursor = action.StepIndex

		case ControlStop:
			log.Debugf("Step %s stopped the chain", step.ID)
			return e.complete(result, chain, execCtx, models.ExecutionStatusStopped)

		case ControlJumpTo:
			log.Debugf("Step %s jumps to chain %s", step.ID, action.ChainID)
			jumped, err := e.runNested(ctx, action.ChainID, action.Input, execCtx, state, models.ErrorCodeInvalidTargetChain)
			if err != nil {
				return e.fail(ctx, result, asExecutionError(err))
			}
			return e.jump(ctx, result, jumped)

		default:
			cursor++
		}
	}

	return e.complete(result, chain, execCtx, models.ExecutionStatusCompleted)
}

// runNested runs a chain one level deeper than parent. missing is the error code
// reported when the chain does not exist.
func (e *Engine) runNested(ctx context.Context, chainID string, input map[string]any, parent *ExecutionContext, state *runState, missing models.ErrorCode) (*models.ExecutionResult, error) {
	depth := parent.Depth + 1
	if depth > e.config.MaxRecursionDepth {
		return nil, models.NewExecutionError(models.ErrorCodeMaxRecursionExceeded,
			"chain %q at depth %d exceeds the maximum recursion depth of %d", chainID, depth, e.config.MaxRecursionDepth)
	}

	chain, err := e.loadChain(ctx, chainID, missing)
	if err != nil {
		return nil, err
	}

	return e.run(ctx, chain, input, parent.Env(), depth, parent, state), nil
}

func (e *Engine) loadChain(ctx context.Context, chainID string, missing models.ErrorCode) (*models.ChainConfiguration, error) {
	if e.store == nil {
		return nil, models.NewExecutionError(missing, "chain %q not found: no chain store configured", chainID)
	}

	chain, err := e.store.GetChain(ctx, chainID)
	if err != nil {
		if isNotFound(err) {
			return nil, models.NewExecutionError(missing, "chain %q not found", chainID)
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, cancelledError(ctxErr)
		}
		e.logger.WithContext(ctx).WithError(err).Errorf("Failed to load chain %s", chainID)
		return nil, models.NewExecutionError(models.ErrorCodeInternal, "failed to load chain %q: %v", chainID, err)
	}
	if chain == nil {
		return nil, models.NewExecutionError(missing, "chain %q not found", chainID)
	}

	return chain, nil
}

func (e *Engine) complete(result *models.ExecutionResult, chain *models.ChainConfiguration, execCtx *ExecutionContext, status models.ExecutionStatus) *models.ExecutionResult {
	result.Status = status
	result.Success = stepsSucceeded(result.Steps)
	if chain.OutputTemplate != nil {
		result.Output = expressions.RenderOutput(chain.OutputTemplate, execCtx.ToMap())
	} else {
		result.Output = defaultOutput(result.Steps)
	}
	return seal(result)
}

// jump adopts the outcome of a tail-called chain
func (e *Engine) jump(ctx context.Context, result *models.ExecutionResult, jumped *models.ExecutionResult) *models.ExecutionResult {
	result.JumpedTo = jumped
	if jumped.Error != nil {
		return e.fail(ctx, result, jumped.Error)
	}
	result.Status = models.ExecutionStatusJumped
	result.Success = jumped.Success
	result.Output = jumped.Output
	return seal(result)
}

func (e *Engine) fail(ctx context.Context, result *models.ExecutionResult, err *models.ExecutionError) *models.ExecutionResult {
	result.Status = models.ExecutionStatusFailed
	result.Success = false
	result.Error = err

	e.logger.WithContext(ctx).WithFields(map[string]any{
		"chain_id":     result.ChainID,
		"execution_id": result.ExecutionID,
		"depth":        result.Depth,
		"code":         string(err.Code),
	}).Warnf("Chain run failed: %s", err.Message)

	return seal(result)
}

func (e *Engine) emit(ctx context.Context, result *models.ExecutionResult, userID string) {
	if e.sink == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	if userID != "" {
		ctx = appctx.SetUserID(ctx, userID)
	}
	if err := e.sink.Emit(ctx, result); err != nil {
		e.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"chain_id":     result.ChainID,
			"execution_id": result.ExecutionID,
		}).Warn("Failed to emit execution log")
	}
}

func newResult(executionID, chainID, chainName string, depth int, input map[string]any, parent *ExecutionContext) *models.ExecutionResult {
	result := &models.ExecutionResult{
		ExecutionID: executionID,
		ChainID:     chainID,
		ChainName:   chainName,
		Depth:       depth,
		Input:       input,
		Steps:       []models.StepResult{},
		StartedAt:   time.Now(),
	}
	if parent != nil {
		result.ParentExecutionID = parent.ExecutionID
	}
	return result
}

func seal(result *models.ExecutionResult) *models.ExecutionResult {
	result.CompletedAt = time.Now()
	result.DurationMs = result.CompletedAt.Sub(result.StartedAt).Milliseconds()
	return result
}

// stepsSucceeded is the AND over every executed step. Guard-skipped steps are ignored.
func stepsSucceeded(steps []models.StepResult) bool {
	for _, step := range steps {
		if !step.Skipped && !step.Success {
			return false
		}
	}
	return true
}

// defaultOutput maps each executed step to its latest response
func defaultOutput(steps []models.StepResult) map[string]any {
	output := make(map[string]any, len(steps))
	for _, step := range steps {
		if step.Skipped {
			continue
		}
		output[step.StepID] = step.Response
	}
	return output
}

func asExecutionError(err error) *models.ExecutionError {
	var execErr *models.ExecutionError
	if errors.As(err, &execErr) {
		return execErr
	}
	return models.NewExecutionError(models.ErrorCodeInternal, "%v", err)
}
