package models

import (
	"time"

	"github.com/Ramsey-B/vine/pkg/database"
)

// ExecutionLog is the persisted form of a finished top-level execution
type ExecutionLog struct {
	ID           string                          `db:"id" json:"id"`
	ChainID      string                          `db:"chain_id" json:"chain_id"`
	UserID       *string                         `db:"user_id" json:"user_id,omitempty"`
	Status       ExecutionStatus                 `db:"status" json:"status"`
	Success      bool                            `db:"success" json:"success"`
	ErrorCode    *ErrorCode                      `db:"error_code" json:"error_code,omitempty"`
	ErrorMessage *string                         `db:"error_message" json:"error_message,omitempty"`
	StepCount    int                             `db:"step_count" json:"step_count"`
	Result       database.JSONB[ExecutionResult] `db:"result" json:"result"`
	StartedAt    time.Time                       `db:"started_at" json:"started_at"`
	CompletedAt  time.Time                       `db:"completed_at" json:"completed_at"`
	DurationMs   int64                           `db:"duration_ms" json:"duration_ms"`
	CreatedAt    time.Time                       `db:"created_at" json:"created_at"`
}

// TableName returns the database table name
func (ExecutionLog) TableName() string {
	return "execution_logs"
}

// NewExecutionLog builds the log row for a finished execution
func NewExecutionLog(result *ExecutionResult, userID string) *ExecutionLog {
	log := &ExecutionLog{
		ID:          result.ExecutionID,
		ChainID:     result.ChainID,
		Status:      result.Status,
		Success:     result.Success,
		StepCount:   result.StepCount(),
		Result:      database.NewJSONB(*result),
		StartedAt:   result.StartedAt,
		CompletedAt: result.CompletedAt,
		DurationMs:  result.DurationMs,
	}
	if userID != "" {
		log.UserID = &userID
	}
	if result.Error != nil {
		code := result.Error.Code
		message := result.Error.Message
		log.ErrorCode = &code
		log.ErrorMessage = &message
	}
	return log
}
