package handlers

import (
	"context"

	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/vine/pkg/models"
	"github.com/Ramsey-B/vine/pkg/tracing"
)

// ChainReader serves chain definitions
type ChainReader interface {
	GetChain(ctx context.Context, id string) (*models.ChainConfiguration, error)
	ListChains(ctx context.Context, limit, offset int) ([]*models.ChainConfiguration, error)
}

// ChainHandler exposes chain definitions read-only
type ChainHandler struct {
	chains ChainReader
	logger ectologger.Logger
}

func NewChainHandler(chains ChainReader, logger ectologger.Logger) *ChainHandler {
	return &ChainHandler{
		chains: chains,
		logger: logger,
	}
}

// Register registers chain routes
func (h *ChainHandler) Register(g *echo.Group) {
	g.GET("", h.List)
	g.GET("/:id", h.Get)
}

// List returns a page of chain definitions
func (h *ChainHandler) List(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "ChainHandler.List")
	defer span.End()

	limit, err := QueryInt(c, "limit", 50)
	if err != nil {
		return err
	}
	offset, err := QueryInt(c, "offset", 0)
	if err != nil {
		return err
	}

	chains, err := h.chains.ListChains(ctx, limit, offset)
	if err != nil {
		h.logger.WithContext(ctx).WithError(err).Error("Failed to list chains")
		return err
	}
	return SuccessResponse(c, chains)
}

// Get returns one chain definition
func (h *ChainHandler) Get(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "ChainHandler.Get")
	defer span.End()

	chain, err := h.chains.GetChain(ctx, c.Param("id"))
	if err != nil {
		return err
	}
	return SuccessResponse(c, chain)
}
