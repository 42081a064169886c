package audit

import (
	"time"

	"github.com/google/uuid"

	"github.com/latticehq/lattice/pkg/tenant"
)

// TrailType categorizes a change trail entry
type TrailType string

const (
	TrailTypeCreate TrailType = "create"
	TrailTypeUpdate TrailType = "update"
	TrailTypeDelete TrailType = "delete"
)

// Trail records a single entity change. Trails are written in a
// separate transaction after the business change commits, so a trail
// existing implies the change it describes was durably applied.
type Trail struct {
	ID             uuid.UUID              `json:"id"`
	Type           TrailType              `json:"type"`
	EntityName     string                 `json:"entity_name"`
	PrimaryKey     string                 `json:"primary_key"`
	ChangedColumns []string               `json:"changed_columns,omitempty"`
	OldValues      map[string]interface{} `json:"old_values,omitempty"`
	NewValues      map[string]interface{} `json:"new_values,omitempty"`
	TenantPath     *tenant.Path           `json:"tenant_path,omitempty"`
	UserID         *uuid.UUID             `json:"user_id,omitempty"`
	TraceID        string                 `json:"trace_id,omitempty"`
	DateUTC        time.Time              `json:"date_utc"`
}

// Request records one handled HTTP request for the request audit log.
// UserID is the acting principal; during impersonation that is the
// impersonated user, with the driving admin in ImpersonatedBy.
type Request struct {
	ID             uuid.UUID    `json:"id"`
	RequestID      string       `json:"request_id,omitempty"`
	UserID         *uuid.UUID   `json:"user_id,omitempty"`
	ImpersonatedBy *uuid.UUID   `json:"impersonated_by,omitempty"`
	TenantPath     *tenant.Path `json:"tenant_path,omitempty"`
	Method         string       `json:"method"`
	Path           string       `json:"path"`
	QueryString    string       `json:"query_string,omitempty"`
	Body           string       `json:"body,omitempty"`
	StatusCode     int          `json:"status_code"`
	IPAddress      string       `json:"ip_address,omitempty"`
	UserAgent      string       `json:"user_agent,omitempty"`
	DurationMs     int64        `json:"duration_ms"`
	DateUTC        time.Time    `json:"date_utc"`
}

// TrailFilter narrows trail queries
type TrailFilter struct {
	EntityName string
	PrimaryKey string
	Type       TrailType
	UserID     *uuid.UUID
	TenantPath *tenant.Path
	From       *time.Time
	To         *time.Time
}

// RequestFilter narrows request queries
type RequestFilter struct {
	UserID     *uuid.UUID
	TenantPath *tenant.Path
	Method     string
	PathPrefix string
	MinStatus  int
	From       *time.Time
	To         *time.Time
}
