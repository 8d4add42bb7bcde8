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

const modulesTable = "modules"

// ModuleRepository is the module registry table. It resolves module base URLs
// for the HTTP module caller.
type ModuleRepository struct {
	*Repository
}

func NewModuleRepository(db database.DB, logger ectologger.Logger) *ModuleRepository {
	return &ModuleRepository{
		Repository: NewRepository(db, logger),
	}
}

// BaseURL returns the base URL of an enabled module
func (r *ModuleRepository) BaseURL(ctx context.Context, name string) (string, error) {
	ctx, span := tracing.StartSpan(ctx, "ModuleRepository.BaseURL")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select("base_url").From(modulesTable).Where(sb.Equal("name", name), sb.Equal("enabled", true))
	query, args := sb.Build()

	var baseURL string
	err := r.DB().GetContext(ctx, &baseURL, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return "", NotFound("module %s not found", name)
	}
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"module": name,
		}).Error("failed to resolve module")
		return "", httperror.NewHTTPError(http.StatusInternalServerError, "failed to resolve module")
	}
	return baseURL, nil
}

// List returns every registered module
func (r *ModuleRepository) List(ctx context.Context) ([]models.Module, error) {
	ctx, span := tracing.StartSpan(ctx, "ModuleRepository.List")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select("name", "base_url", "description", "enabled", "created_at", "updated_at").From(modulesTable).OrderBy("name")
	query, args := sb.Build()

	var modules []models.Module
	if err := r.DB().SelectContext(ctx, &modules, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to list modules")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list modules")
	}
	return modules, nil
}

// Upsert registers or updates a module
func (r *ModuleRepository) Upsert(ctx context.Context, module *models.Module) error {
	ctx, span := tracing.StartSpan(ctx, "ModuleRepository.Upsert")
	defer span.End()

	if module.Name == "" || module.BaseURL == "" {
		return BadRequest("module name and base_url are required")
	}

	now := time.Now().UTC()
	ib := database.NewInsertBuilder()
	ib.InsertInto(modulesTable).
		Cols("name", "base_url", "description", "enabled", "created_at", "updated_at").
		Values(module.Name, module.BaseURL, module.Description, module.Enabled, now, now)
	ib.OnConflictUpdate([]string{"name"}, "base_url", "description", "enabled", "updated_at")
	ib.SQL("RETURNING created_at, updated_at")

	query, args := ib.Build()
	if err := r.DB().QueryRowContext(ctx, query, args...).Scan(&module.CreatedAt, &module.UpdatedAt); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"module": module.Name,
		}).Error("failed to upsert module")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to upsert module")
	}
	return nil
}
