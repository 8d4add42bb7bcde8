package handlers

import (
	"context"
	"errors"

	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"

	appctx "github.com/Ramsey-B/vine/pkg/context"
	"github.com/Ramsey-B/vine/pkg/execution"
	"github.com/Ramsey-B/vine/pkg/models"
	"github.com/Ramsey-B/vine/pkg/tracing"
	"github.com/Ramsey-B/vine/pkg/utils"
)

// Executor runs chains
type Executor interface {
	Execute(ctx context.Context, req execution.ExecuteRequest) (*models.ExecutionResult, error)
}

// ExecutionLogReader serves finished executions
type ExecutionLogReader interface {
	GetByID(ctx context.Context, id string) (*models.ExecutionLog, error)
	List(ctx context.Context, chainID string, limit int) ([]models.ExecutionLog, error)
}

// ExecutionHandler handles chain invocation and execution log endpoints
type ExecutionHandler struct {
	engine Executor
	logs   ExecutionLogReader
	logger ectologger.Logger
}

func NewExecutionHandler(engine Executor, logs ExecutionLogReader, logger ectologger.Logger) *ExecutionHandler {
	return &ExecutionHandler{
		engine: engine,
		logs:   logs,
		logger: logger,
	}
}

// ExecuteChainRequest is the body of POST /chains/:id/execute
type ExecuteChainRequest struct {
	ChainID string         `param:"id" json:"-" validate:"required"`
	Input   map[string]any `json:"input,omitempty"`
	Env     map[string]any `json:"env,omitempty"`
}

// ExecuteRequest is the body of POST /executions. Chain runs an inline definition.
type ExecuteRequest struct {
	ChainID string                     `json:"chain_id,omitempty" validate:"required_without=Chain"`
	Chain   *models.ChainConfiguration `json:"chain,omitempty"`
	Input   map[string]any             `json:"input,omitempty"`
	Env     map[string]any             `json:"env,omitempty"`
}

// RegisterChainRoutes registers the execute route on the chains group
func (h *ExecutionHandler) RegisterChainRoutes(g *echo.Group) {
	g.POST("/:id/execute", h.ExecuteChain)
}

// Register registers execution routes
func (h *ExecutionHandler) Register(g *echo.Group) {
	g.POST("", h.Execute)
	g.GET("", h.List)
	g.GET("/:id", h.Get)
}

// ExecuteChain runs a stored chain
func (h *ExecutionHandler) ExecuteChain(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "ExecutionHandler.ExecuteChain")
	defer span.End()

	req, err := utils.BindRequest[ExecuteChainRequest](c)
	if err != nil {
		return err
	}

	return h.execute(ctx, c, execution.ExecuteRequest{
		ChainID: req.ChainID,
		Input:   req.Input,
		Env:     req.Env,
	})
}

// Execute runs a stored chain by ID or an inline chain definition
func (h *ExecutionHandler) Execute(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "ExecutionHandler.Execute")
	defer span.End()

	req, err := utils.BindRequest[ExecuteRequest](c)
	if err != nil {
		return err
	}

	return h.execute(ctx, c, execution.ExecuteRequest{
		ChainID: req.ChainID,
		Chain:   req.Chain,
		Input:   req.Input,
		Env:     req.Env,
	})
}

// execute returns 200 with the trace whether or not the chain succeeded
func (h *ExecutionHandler) execute(ctx context.Context, c echo.Context, req execution.ExecuteRequest) error {
	req.UserID = appctx.GetUserID(ctx)

	result, err := h.engine.Execute(ctx, req)
	if errors.Is(err, execution.ErrChainRequired) {
		return BadRequest(err.Error())
	}
	if err != nil {
		h.logger.WithContext(ctx).WithError(err).Error("Failed to execute chain")
		return err
	}

	h.logger.WithContext(ctx).WithFields(map[string]any{
		"execution_id": result.ExecutionID,
		"chain_id":     result.ChainID,
		"status":       result.Status,
		"success":      result.Success,
	}).Info("Execution finished")

	return SuccessResponse(c, result)
}

// List returns recent executions, optionally for one chain
func (h *ExecutionHandler) List(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "ExecutionHandler.List")
	defer span.End()

	limit, err := QueryInt(c, "limit", 50)
	if err != nil {
		return err
	}

	logs, err := h.logs.List(ctx, c.QueryParam("chain_id"), limit)
	if err != nil {
		h.logger.WithContext(ctx).WithError(err).Error("Failed to list executions")
		return err
	}
	return SuccessResponse(c, logs)
}

// Get returns one finished execution
func (h *ExecutionHandler) Get(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "ExecutionHandler.Get")
	defer span.End()

	log, err := h.logs.GetByID(ctx, c.Param("id"))
	if err != nil {
		return err
	}
	return SuccessResponse(c, log)
}
