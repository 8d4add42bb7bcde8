package execution

import (
	"context"

	"github.com/Ramsey-B/vine/pkg/models"
)

// ChainStore resolves chain definitions. A missing chain is reported as an
// httperror with status 404.
type ChainStore interface {
	GetChain(ctx context.Context, id string) (*models.ChainConfiguration, error)
}

// ModuleCaller performs a module endpoint call. Transport failures are returned as
// errors. Any HTTP status is a response, not an error.
type ModuleCaller interface {
	Call(ctx context.Context, req models.ModuleRequest) (*models.ModuleResponse, error)
}

// LogSink receives every finished top-level execution
type LogSink interface {
	Emit(ctx context.Context, result *models.ExecutionResult) error
}
