package models

import "time"

// Module is a registered downstream service reachable by module_call steps
type Module struct {
	Name        string    `db:"name" json:"name"`
	BaseURL     string    `db:"base_url" json:"base_url"`
	Description *string   `db:"description" json:"description,omitempty"`
	Enabled     bool      `db:"enabled" json:"enabled"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// TableName returns the database table name
func (Module) TableName() string {
	return "modules"
}

// ModuleRequest is a rendered module endpoint call
type ModuleRequest struct {
	Module   string
	Endpoint string
	Method   string
	Params   map[string]any
	Headers  map[string]string
	Body     any
}

// ModuleResponse is the raw outcome of a module endpoint call
type ModuleResponse struct {
	URL        string
	StatusCode int
	Headers    map[string]string
	Body       any
}
