package database

import (
	"context"
	"fmt"

	"github.com/Gobusters/ectologger"
)

// Postgres connects and migrates the database as a startup dependency
type Postgres struct {
	config     Config
	migrations *MigrationConfig
	logger     ectologger.Logger

	instance *DatabaseInstance
}

// NewPostgres creates the dependency. A nil migration config skips migrations.
func NewPostgres(config Config, migrations *MigrationConfig, logger ectologger.Logger) *Postgres {
	return &Postgres{
		config:     config,
		migrations: migrations,
		logger:     logger,
	}
}

func (p *Postgres) GetName() string {
	return "postgres"
}

func (p *Postgres) DependsOn() []string {
	return nil
}

func (p *Postgres) Start(ctx context.Context) error {
	if p.instance == nil {
		instance, err := Connect(ctx, p.config, p.logger)
		if err != nil {
			return err
		}
		p.instance = instance
	}

	if p.migrations != nil {
		if err := NewMigrationService(p.logger, p.migrations).MigratePostgres(p.instance); err != nil {
			return fmt.Errorf("failed to migrate database: %w", err)
		}
	}
	return nil
}

func (p *Postgres) Stop(_ context.Context) error {
	if p.instance == nil {
		return nil
	}
	return p.instance.Close()
}

// Instance returns the connection pool. It is nil until Start succeeds.
func (p *Postgres) Instance() *DatabaseInstance {
	return p.instance
}
