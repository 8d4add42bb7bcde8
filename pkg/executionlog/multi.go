package executionlog

import (
	"context"
	"errors"
	"fmt"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/vine/pkg/metrics"
	"github.com/Ramsey-B/vine/pkg/models"
)

// Sink receives finished executions
type Sink interface {
	Emit(ctx context.Context, result *models.ExecutionResult) error
}

// Named pairs a sink with the label used in logs and metrics
type Named struct {
	Name string
	Sink Sink
}

// Multi fans every result out to all of its sinks. A failing sink does not
// stop the others.
type Multi struct {
	sinks  []Named
	logger ectologger.Logger
}

func NewMulti(logger ectologger.Logger, sinks ...Named) *Multi {
	m := &Multi{logger: logger}
	for _, s := range sinks {
		if s.Sink != nil {
			m.sinks = append(m.sinks, s)
		}
	}
	return m
}

// Len returns the number of configured sinks
func (m *Multi) Len() int {
	return len(m.sinks)
}

// Emit forwards the result to each sink and joins their errors
func (m *Multi) Emit(ctx context.Context, result *models.ExecutionResult) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Sink.Emit(ctx, result); err != nil {
			metrics.RecordSinkEmit(s.Name, "error")
			m.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
				"sink":         s.Name,
				"execution_id": result.ExecutionID,
			}).Warn("Execution sink failed")
			errs = append(errs, fmt.Errorf("%s: %w", s.Name, err))
			continue
		}
		metrics.RecordSinkEmit(s.Name, "success")
	}
	return errors.Join(errs...)
}

// Discard drops every result. It is used when no sink is configured.
type Discard struct{}

func (Discard) Emit(context.Context, *models.ExecutionResult) error {
	return nil
}
