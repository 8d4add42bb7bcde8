package repositories

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/vine/pkg/database"
	"github.com/Ramsey-B/vine/pkg/models"
	"github.com/Ramsey-B/vine/pkg/tracing"
)

const chainsTable = "chains"

var chainColumns = []string{
	"id", "user_id", "name", "description", "steps", "output_template", "metadata", "created_at", "updated_at",
}

// chainRow is the stored form of a chain. Steps and templates live in jsonb columns.
type chainRow struct {
	ID             string                         `db:"id"`
	UserID         *string                        `db:"user_id"`
	Name           string                         `db:"name"`
	Description    *string                        `db:"description"`
	Steps          database.JSONB[[]models.Step]  `db:"steps"`
	OutputTemplate database.JSONB[map[string]any] `db:"output_template"`
	Metadata       database.JSONB[map[string]any] `db:"metadata"`
	CreatedAt      time.Time                      `db:"created_at"`
	UpdatedAt      time.Time                      `db:"updated_at"`
}

func (row chainRow) toModel() *models.ChainConfiguration {
	chain := &models.ChainConfiguration{
		ID:             row.ID,
		Name:           row.Name,
		Description:    row.Description,
		Steps:          row.Steps.Data,
		OutputTemplate: row.OutputTemplate.Data,
		Metadata:       row.Metadata.Data,
		CreatedAt:      row.CreatedAt,
		UpdatedAt:      row.UpdatedAt,
	}
	if row.UserID != nil {
		chain.UserID = *row.UserID
	}
	return chain
}

// ChainRepository stores chain definitions in Postgres. It implements the chain
// store consumed by the execution engine.
type ChainRepository struct {
	*Repository
}

// NewChainRepository creates a new chain repository
func NewChainRepository(db database.DB, logger ectologger.Logger) *ChainRepository {
	return &ChainRepository{
		Repository: NewRepository(db, logger),
	}
}

// GetChain retrieves a chain by ID
func (r *ChainRepository) GetChain(ctx context.Context, id string) (*models.ChainConfiguration, error) {
	ctx, span := tracing.StartSpan(ctx, "ChainRepository.GetChain")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select(chainColumns...).From(chainsTable).Where(sb.Equal("id", id))
	query, args := sb.Build()

	var row chainRow
	err := r.DB().GetContext(ctx, &row, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, NotFound("chain %s not found", id)
	}
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"chain_id": id,
		}).Error("failed to get chain")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get chain")
	}

	return row.toModel(), nil
}

// ListChains returns a page of chains ordered by ID
func (r *ChainRepository) ListChains(ctx context.Context, limit, offset int) ([]*models.ChainConfiguration, error) {
	ctx, span := tracing.StartSpan(ctx, "ChainRepository.ListChains")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select(chainColumns...).From(chainsTable).OrderBy("id").Limit(clampLimit(limit))
	if offset > 0 {
		sb.Offset(offset)
	}
	query, args := sb.Build()

	var rows []chainRow
	if err := r.DB().SelectContext(ctx, &rows, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to list chains")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list chains")
	}

	chains := make([]*models.ChainConfiguration, 0, len(rows))
	for _, row := range rows {
		chains = append(chains, row.toModel())
	}
	return chains, nil
}

// Upsert inserts or replaces a chain definition
func (r *ChainRepository) Upsert(ctx context.Context, chain *models.ChainConfiguration) error {
	ctx, span := tracing.StartSpan(ctx, "ChainRepository.Upsert")
	defer span.End()

	if err := chain.Validate(); err != nil {
		return BadRequest(err.Error())
	}

	var userID *string
	if chain.UserID != "" {
		userID = &chain.UserID
	}

	now := time.Now().UTC()
	ib := database.NewInsertBuilder()
	ib.InsertInto(chainsTable).
		Cols(chainColumns...).
		Values(
			chain.ID, userID, chain.Name, chain.Description,
			database.NewJSONB(chain.Steps), database.NewJSONB(chain.OutputTemplate), database.NewJSONB(chain.Metadata),
			now, now,
		)
	ib.OnConflictUpdate([]string{"id"}, "user_id", "name", "description", "steps", "output_template", "metadata", "updated_at")
	ib.SQL("RETURNING created_at, updated_at")

	query, args := ib.Build()
	if err := r.DB().QueryRowContext(ctx, query, args...).Scan(&chain.CreatedAt, &chain.UpdatedAt); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"chain_id": chain.ID,
		}).Error("failed to upsert chain")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to upsert chain")
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"chain_id": chain.ID,
	}).Debugf("Upserted %s", chainsTable)
	return nil
}
