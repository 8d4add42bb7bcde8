package execution

import (
	"sync"

	"github.com/Ramsey-B/vine/pkg/expressions"
	"github.com/Ramsey-B/vine/pkg/models"
)

// ExecutionContext is an immutable snapshot of one chain run: the original input,
// the caller environment and every step result recorded so far.
// WithResult returns a new snapshot and leaves the receiver untouched, so a
// snapshot can be shared freely across goroutines.
type ExecutionContext struct {
	ChainID     string
	ExecutionID string
	Depth       int
	Version     int

	// Parent is the caller's snapshot for nested runs. It is diagnostic only and
	// is never visible to path resolution.
	Parent *ExecutionContext

	input   map[string]any
	env     map[string]any
	results map[string]models.StepResult

	once sync.Once
	data map[string]any
}

// NewExecutionContext creates the first snapshot of a run
func NewExecutionContext(chainID, executionID string, depth int, input, env map[string]any, parent *ExecutionContext) *ExecutionContext {
	if input == nil {
		input = map[string]any{}
	}
	if env == nil {
		env = map[string]any{}
	}
	return &ExecutionContext{
		ChainID:     chainID,
		ExecutionID: executionID,
		Depth:       depth,
		Parent:      parent,
		input:       expressions.NormalizeMap(input),
		env:         expressions.NormalizeMap(env),
		results:     map[string]models.StepResult{},
	}
}

// Input returns the original input of the run
func (c *ExecutionContext) Input() map[string]any {
	return c.input
}

// Env returns the caller environment of the run
func (c *ExecutionContext) Env() map[string]any {
	return c.env
}

// Result returns the recorded result for a step
func (c *ExecutionContext) Result(stepID string) (models.StepResult, bool) {
	result, ok := c.results[stepID]
	return result, ok
}

// WithResult returns a new snapshot with the step result recorded
func (c *ExecutionContext) WithResult(result models.StepResult) *ExecutionContext {
	results := make(map[string]models.StepResult, len(c.results)+1)
	for id, r := range c.results {
		results[id] = r
	}
	results[result.StepID] = result

	return &ExecutionContext{
		ChainID:     c.ChainID,
		ExecutionID: c.ExecutionID,
		Depth:       c.Depth,
		Version:     c.Version + 1,
		Parent:      c.Parent,
		input:       c.input,
		env:         c.env,
		results:     results,
	}
}

// ToMap renders the snapshot for path resolution: the input and env under their
// reserved roots and one key per recorded step. The map is built once per snapshot
// and must not be mutated.
func (c *ExecutionContext) ToMap() map[string]any {
	c.once.Do(func() {
		data := make(map[string]any, len(c.results)+2)
		for id, result := range c.results {
			data[id] = stepResultToMap(result)
		}
		data[models.InputRoot] = c.input
		data[models.EnvRoot] = c.env
		c.data = data
	})
	return c.data
}

// stepResultToMap exposes a step's fields to paths. A guard-skipped step only
// carries its id and skip flag, every other field stays absent.
func stepResultToMap(result models.StepResult) map[string]any {
	if result.Skipped {
		return map[string]any{
			"step_id": result.StepID,
			"skipped": true,
		}
	}

	m := map[string]any{
		"step_id":     result.StepID,
		"step_name":   result.StepName,
		"step_type":   string(result.StepType),
		"success":     result.Success,
		"skipped":     result.Skipped,
		"duration_ms": float64(result.DurationMs),
		"response":    expressions.Normalize(result.Response),
	}
	if result.Module != "" {
		m["module"] = result.Module
	}
	if result.Endpoint != "" {
		m["endpoint"] = result.Endpoint
	}
	if result.StatusCode != 0 {
		m["status_code"] = float64(result.StatusCode)
	}
	if result.Error != "" {
		m["error"] = result.Error
	}
	if result.Request != nil {
		m["request"] = expressions.Normalize(result.Request)
	}
	return m
}
