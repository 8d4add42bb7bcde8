package repositories

import (
	"context"
	"database/sql"
	"errors"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"

	appctx "github.com/Ramsey-B/vine/pkg/context"
	"github.com/Ramsey-B/vine/pkg/database"
	"github.com/Ramsey-B/vine/pkg/models"
	"github.com/Ramsey-B/vine/pkg/tracing"
)

const executionLogsTable = "execution_logs"

var executionLogColumns = []string{
	"id", "chain_id", "user_id", "status", "success", "error_code", "error_message",
	"step_count", "result", "started_at", "completed_at", "duration_ms", "created_at",
}

// ExecutionLogRepository persists finished executions. It is an execution log sink.
type ExecutionLogRepository struct {
	*Repository
}

func NewExecutionLogRepository(db database.DB, logger ectologger.Logger) *ExecutionLogRepository {
	return &ExecutionLogRepository{
		Repository: NewRepository(db, logger),
	}
}

// Emit stores a finished execution, attributed to the user on ctx
func (r *ExecutionLogRepository) Emit(ctx context.Context, result *models.ExecutionResult) error {
	return r.Save(ctx, models.NewExecutionLog(result, appctx.GetUserID(ctx)))
}

// Save inserts an execution log. Saving the same execution twice is a no-op.
func (r *ExecutionLogRepository) Save(ctx context.Context, log *models.ExecutionLog) error {
	ctx, span := tracing.StartSpan(ctx, "ExecutionLogRepository.Save")
	defer span.End()

	ib := database.NewInsertBuilder()
	ib.InsertInto(executionLogsTable).
		Cols(executionLogColumns[:len(executionLogColumns)-1]...).
		Values(
			log.ID, log.ChainID, log.UserID, log.Status, log.Success, log.ErrorCode, log.ErrorMessage,
			log.StepCount, log.Result, log.StartedAt, log.CompletedAt, log.DurationMs,
		)
	ib.OnConflictDoNothing()

	query, args := ib.Build()
	if _, err := r.DB().ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"execution_id": log.ID,
			"chain_id":     log.ChainID,
		}).Error("failed to save execution log")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to save execution log")
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"execution_id": log.ID,
	}).Debugf("Saved %s", executionLogsTable)
	return nil
}

// GetByID retrieves an execution log
func (r *ExecutionLogRepository) GetByID(ctx context.Context, id string) (*models.ExecutionLog, error) {
	ctx, span := tracing.StartSpan(ctx, "ExecutionLogRepository.GetByID")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select(executionLogColumns...).From(executionLogsTable).Where(sb.Equal("id", id))
	query, args := sb.Build()

	var log models.ExecutionLog
	err := r.DB().GetContext(ctx, &log, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, NotFound("execution %s not found", id)
	}
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"execution_id": id,
		}).Error("failed to get execution log")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get execution log")
	}
	return &log, nil
}

// List returns the most recent execution logs, optionally for one chain
func (r *ExecutionLogRepository) List(ctx context.Context, chainID string, limit int) ([]models.ExecutionLog, error) {
	ctx, span := tracing.StartSpan(ctx, "ExecutionLogRepository.List")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select(executionLogColumns...).From(executionLogsTable)
	if chainID != "" {
		sb.Where(sb.Equal("chain_id", chainID))
	}
	sb.OrderBy("started_at").Desc().Limit(clampLimit(limit))
	query, args := sb.Build()

	logs := []models.ExecutionLog{}
	if err := r.DB().SelectContext(ctx, &logs, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"chain_id": chainID,
		}).Error("failed to list execution logs")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list execution logs")
	}
	return logs, nil
}
