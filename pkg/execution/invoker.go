package execution

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/vine/pkg/expressions"
	"github.com/Ramsey-B/vine/pkg/metrics"
	"github.com/Ramsey-B/vine/pkg/models"
	"github.com/Ramsey-B/vine/pkg/tracing"
)

// nestedRunner runs a chain as a child of the current run. A nil result with an
// error means the child never started.
type nestedRunner interface {
	runNested(ctx context.Context, chainID string, input map[string]any, parent *ExecutionContext, state *runState, missing models.ErrorCode) (*models.ExecutionResult, error)
}

// Invoker performs a single step against a context snapshot
type Invoker struct {
	caller         ModuleCaller
	runner         nestedRunner
	defaultTimeout time.Duration
	logger         ectologger.Logger
}

func newInvoker(caller ModuleCaller, runner nestedRunner, defaultTimeout time.Duration, logger ectologger.Logger) *Invoker {
	return &Invoker{
		caller:         caller,
		runner:         runner,
		defaultTimeout: defaultTimeout,
		logger:         logger,
	}
}

// Invoke runs the step and returns its result. Module failures, timeouts and failed
// sub-chains are reported in the result. An error is returned only for faults that
// halt the run, in which case the result may be nil.
func (i *Invoker) Invoke(ctx context.Context, step models.Step, execCtx *ExecutionContext, state *runState) (*models.StepResult, error) {
	ctx, span := tracing.StartSpan(ctx, "Invoker.Invoke", tracing.StepAttrs(step.ID, string(step.Type))...)
	defer span.End()

	if err := ctx.Err(); err != nil {
		return nil, cancelledError(err)
	}

	var (
		result *models.StepResult
		err    error
	)
	switch step.Type {
	case models.StepTypeModuleCall:
		result, err = i.invokeModule(ctx, step, execCtx)
	case models.StepTypeChainCall:
		result, err = i.invokeChain(ctx, step, execCtx, state)
	default:
		return nil, models.NewExecutionError(models.ErrorCodeInvalidChainDefinition, "step %q has unsupported type %q", step.ID, step.Type)
	}

	if err != nil {
		tracing.RecordError(span, err)
	}
	if result != nil {
		outcome := "success"
		if !result.Success {
			outcome = "failure"
		}
		metrics.RecordStep(string(step.Type), outcome)
	}
	return result, err
}

func (i *Invoker) invokeModule(ctx context.Context, step models.Step, execCtx *ExecutionContext) (*models.StepResult, error) {
	call := step.ModuleCall
	data := execCtx.ToMap()

	var headers map[string]string
	if len(call.Headers) > 0 {
		headers = make(map[string]string, len(call.Headers))
		for key, value := range call.Headers {
			headers[key] = expressions.RenderString(value, data)
		}
	}

	req := models.ModuleRequest{
		Module:   call.Module,
		Endpoint: expressions.RenderString(call.Endpoint, data),
		Method:   call.MethodOrDefault(),
		Params:   expressions.RenderMap(call.Params, data),
		Headers:  headers,
		Body:     expressions.RenderValue(call.Body, data),
	}

	timeout := i.defaultTimeout
	if call.TimeoutSeconds > 0 {
		timeout = time.Duration(call.TimeoutSeconds) * time.Second
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	resp, err := i.caller.Call(callCtx, req)
	duration := time.Since(start)

	// The caller's own cancellation halts the run instead of failing the step
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, cancelledError(ctxErr)
	}

	result := &models.StepResult{
		StepID:   step.ID,
		StepName: step.DisplayName(),
		StepType: step.Type,
		Module:   call.Module,
		Endpoint: req.Endpoint,
		Request: &models.OutboundRequest{
			Method:  req.Method,
			Params:  req.Params,
			Headers: req.Headers,
			Body:    req.Body,
		},
		DurationMs: duration.Milliseconds(),
		Timestamp:  start,
	}
	if resp != nil {
		result.Request.URL = resp.URL
		result.StatusCode = resp.StatusCode
		result.Response = resp.Body
	}

	switch {
	case err != nil && errors.Is(callCtx.Err(), context.DeadlineExceeded):
		result.Error = fmt.Sprintf("module call timed out after %s", timeout)
	case err != nil:
		result.Error = err.Error()
	case resp == nil:
		result.Error = fmt.Sprintf("module %s returned no response", call.Module)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		result.Error = fmt.Sprintf("module %s returned status %d", call.Module, resp.StatusCode)
	default:
		result.Success = true
	}

	if !result.Success {
		i.logger.WithContext(ctx).WithFields(map[string]any{
			"execution_id": execCtx.ExecutionID,
			"step_id":      step.ID,
			"module":       call.Module,
			"status_code":  result.StatusCode,
		}).Warnf("Module step failed: %s", result.Error)
	}

	return result, nil
}

func (i *Invoker) invokeChain(ctx context.Context, step models.Step, execCtx *ExecutionContext, state *runState) (*models.StepResult, error) {
	call := step.ChainCall
	input := mapInput(call.InputMapping, execCtx)

	start := time.Now()
	nested, err := i.runner.runNested(ctx, call.ChainID, input, execCtx, state, models.ErrorCodeChainNotFound)
	if nested == nil {
		if err == nil {
			err = models.NewExecutionError(models.ErrorCodeInternal, "nested run of chain %q returned no result", call.ChainID)
		}
		return nil, err
	}

	result := &models.StepResult{
		StepID:   step.ID,
		StepName: step.DisplayName(),
		StepType: step.Type,
		Request: &models.OutboundRequest{
			ChainID: call.ChainID,
			Body:    input,
		},
		Response:   nested.Output,
		Success:    nested.Success,
		DurationMs: time.Since(start).Milliseconds(),
		Timestamp:  start,
		Nested:     nested,
	}

	if nested.Error != nil {
		result.Success = false
		result.Error = nested.Error.Error()

		switch {
		case nested.Error.Code == models.ErrorCodeExecutionCancelled:
			return nil, nested.Error
		case nested.Error.Code.IsBoundViolation():
			return result, nested.Error
		}
	}

	return result, nil
}

// mapInput builds the input of a child run. A nil mapping forwards the current input.
func mapInput(mapping map[string]any, execCtx *ExecutionContext) map[string]any {
	if mapping == nil {
		return execCtx.Input()
	}
	return expressions.RenderMap(mapping, execCtx.ToMap())
}

func cancelledError(err error) *models.ExecutionError {
	return models.NewExecutionError(models.ErrorCodeExecutionCancelled, "execution cancelled: %v", err)
}
