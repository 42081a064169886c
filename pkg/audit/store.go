package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/latticehq/lattice/pkg/httputil"
	"github.com/latticehq/lattice/pkg/tenant"
)

// Store handles audit persistence. Trails are inserted through an
// existing transaction so the unit of work controls commit timing;
// request records are standalone inserts.
type Store struct {
	db *sql.DB
}

// NewStore creates an audit store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying handle for the unit of work
func (s *Store) DB() *sql.DB {
	return s.db
}

// EnsureSchema creates the audit tables if missing
func (s *Store) EnsureSchema(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS audit_trails (
		id VARCHAR(36) PRIMARY KEY,
		type VARCHAR(10) NOT NULL,
		entity_name VARCHAR(100) NOT NULL,
		primary_key VARCHAR(100) NOT NULL,
		changed_columns TEXT,
		old_values TEXT,
		new_values TEXT,
		tenant_path VARCHAR(512),
		user_id VARCHAR(36),
		trace_id VARCHAR(64),
		date_utc TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_audit_trails_entity ON audit_trails(entity_name, primary_key, date_utc, type);
	CREATE INDEX IF NOT EXISTS idx_audit_trails_date ON audit_trails(date_utc);

	CREATE TABLE IF NOT EXISTS audit_requests (
		id VARCHAR(36) PRIMARY KEY,
		request_id VARCHAR(64),
		user_id VARCHAR(36),
		impersonated_by VARCHAR(36),
		tenant_path VARCHAR(512),
		method VARCHAR(10) NOT NULL,
		path VARCHAR(2048) NOT NULL,
		query_string TEXT,
		body TEXT,
		status_code INTEGER NOT NULL,
		ip_address VARCHAR(64),
		user_agent VARCHAR(512),
		duration_ms BIGINT NOT NULL,
		date_utc TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_audit_requests_date ON audit_requests(date_utc);
	`

	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to ensure audit tables: %w", err)
	}
	return nil
}

// InsertTrailsTx writes trail rows inside the given transaction
func (s *Store) InsertTrailsTx(ctx context.Context, tx *sql.Tx, trails []Trail) error {
	query := `
		INSERT INTO audit_trails (id, type, entity_name, primary_key, changed_columns, old_values, new_values, tenant_path, user_id, trace_id, date_utc)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	for i := range trails {
		t := &trails[i]

		changedJSON, err := json.Marshal(t.ChangedColumns)
		if err != nil {
			return fmt.Errorf("failed to marshal changed columns: %w", err)
		}
		oldJSON, err := json.Marshal(t.OldValues)
		if err != nil {
			return fmt.Errorf("failed to marshal old values: %w", err)
		}
		newJSON, err := json.Marshal(t.NewValues)
		if err != nil {
			return fmt.Errorf("failed to marshal new values: %w", err)
		}

		var tenantPath, userID interface{}
		if t.TenantPath != nil {
			tenantPath = string(*t.TenantPath)
		}
		if t.UserID != nil {
			userID = t.UserID.String()
		}

		_, err = tx.ExecContext(ctx, query,
			t.ID.String(), string(t.Type), t.EntityName, t.PrimaryKey,
			string(changedJSON), string(oldJSON), string(newJSON),
			tenantPath, userID, t.TraceID, t.DateUTC)
		if err != nil {
			return fmt.Errorf("failed to insert audit trail: %w", err)
		}
	}
	return nil
}

// InsertRequest writes a request audit record
func (s *Store) InsertRequest(ctx context.Context, record *Request) error {
	query := `
		INSERT INTO audit_requests (id, request_id, user_id, impersonated_by, tenant_path, method, path, query_string, body, status_code, ip_address, user_agent, duration_ms, date_utc)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`

	var tenantPath, userID, impersonatedBy interface{}
	if record.TenantPath != nil {
		tenantPath = string(*record.TenantPath)
	}
	if record.UserID != nil {
		userID = record.UserID.String()
	}
	if record.ImpersonatedBy != nil {
		impersonatedBy = record.ImpersonatedBy.String()
	}

	_, err := s.db.ExecContext(ctx, query,
		record.ID.String(), record.RequestID, userID, impersonatedBy, tenantPath,
		record.Method, record.Path, record.QueryString, record.Body,
		record.StatusCode, record.IPAddress, record.UserAgent,
		record.DurationMs, record.DateUTC)
	if err != nil {
		return fmt.Errorf("failed to insert audit request: %w", err)
	}
	return nil
}

// trailSortColumns and requestSortColumns allow-list the sortable
// columns. Sort parameters come from query strings and are spliced
// into the ORDER BY clause, so anything outside the list falls back to
// date_utc.
var trailSortColumns = map[string]bool{
	"date_utc":    true,
	"entity_name": true,
	"primary_key": true,
	"type":        true,
}

var requestSortColumns = map[string]bool{
	"date_utc":    true,
	"method":      true,
	"path":        true,
	"status_code": true,
	"duration_ms": true,
}

func orderBy(allowed map[string]bool, page httputil.PageParams) string {
	column := page.SortBy
	if !allowed[column] {
		column = "date_utc"
	}
	direction := "ASC"
	if page.SortDesc {
		direction = "DESC"
	}
	return " ORDER BY " + column + " " + direction
}

// ListTrails returns trails matching the filter, sorted per the page
// parameters (newest first by default).
func (s *Store) ListTrails(ctx context.Context, filter TrailFilter, page httputil.PageParams) ([]Trail, int, error) {
	where, args := trailWhere(filter)

	var total int
	countQuery := `SELECT COUNT(*) FROM audit_trails` + where
	if err := s.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count audit trails: %w", err)
	}

	query := `
		SELECT id, type, entity_name, primary_key, changed_columns, old_values, new_values, tenant_path, user_id, trace_id, date_utc
		FROM audit_trails` + where +
		orderBy(trailSortColumns, page) + `
		LIMIT ` + strconv.Itoa(page.PageSize) + ` OFFSET ` + strconv.Itoa(page.Offset())

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list audit trails: %w", err)
	}
	defer rows.Close()

	var trails []Trail
	for rows.Next() {
		trail, err := scanTrail(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan audit trail: %w", err)
		}
		trails = append(trails, *trail)
	}
	return trails, total, rows.Err()
}

// ListRequests returns request records matching the filter, sorted per
// the page parameters (newest first by default).
func (s *Store) ListRequests(ctx context.Context, filter RequestFilter, page httputil.PageParams) ([]Request, int, error) {
	where, args := requestWhere(filter)

	var total int
	countQuery := `SELECT COUNT(*) FROM audit_requests` + where
	if err := s.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count audit requests: %w", err)
	}

	query := `
		SELECT id, request_id, user_id, impersonated_by, tenant_path, method, path, query_string, body, status_code, ip_address, user_agent, duration_ms, date_utc
		FROM audit_requests` + where +
		orderBy(requestSortColumns, page) + `
		LIMIT ` + strconv.Itoa(page.PageSize) + ` OFFSET ` + strconv.Itoa(page.Offset())

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list audit requests: %w", err)
	}
	defer rows.Close()

	var records []Request
	for rows.Next() {
		record, err := scanRequest(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan audit request: %w", err)
		}
		records = append(records, *record)
	}
	return records, total, rows.Err()
}

// DeleteOlderThan removes audit rows past the retention horizon and
// reports how many trail and request rows were purged.
func (s *Store) DeleteOlderThan(ctx context.Context, cutoff time.Time) (trails int64, requests int64, err error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM audit_trails WHERE date_utc < $1`, cutoff.UTC())
	if err != nil {
		return 0, 0, fmt.Errorf("failed to purge audit trails: %w", err)
	}
	trails, _ = res.RowsAffected()

	res, err = s.db.ExecContext(ctx, `DELETE FROM audit_requests WHERE date_utc < $1`, cutoff.UTC())
	if err != nil {
		return trails, 0, fmt.Errorf("failed to purge audit requests: %w", err)
	}
	requests, _ = res.RowsAffected()
	return trails, requests, nil
}

func trailWhere(filter TrailFilter) (string, []interface{}) {
	var clauses []string
	var args []interface{}

	add := func(clause string, value interface{}) {
		args = append(args, value)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}

	if filter.EntityName != "" {
		add("entity_name = $%d", filter.EntityName)
	}
	if filter.PrimaryKey != "" {
		add("primary_key = $%d", filter.PrimaryKey)
	}
	if filter.Type != "" {
		add("type = $%d", string(filter.Type))
	}
	if filter.UserID != nil {
		add("user_id = $%d", filter.UserID.String())
	}
	if filter.TenantPath != nil {
		add("tenant_path = $%d", string(*filter.TenantPath))
	}
	if filter.From != nil {
		add("date_utc >= $%d", filter.From.UTC())
	}
	if filter.To != nil {
		add("date_utc <= $%d", filter.To.UTC())
	}

	return whereClause(clauses), args
}

func requestWhere(filter RequestFilter) (string, []interface{}) {
	var clauses []string
	var args []interface{}

	add := func(clause string, value interface{}) {
		args = append(args, value)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}

	if filter.UserID != nil {
		add("user_id = $%d", filter.UserID.String())
	}
	if filter.TenantPath != nil {
		add("tenant_path = $%d", string(*filter.TenantPath))
	}
	if filter.Method != "" {
		add("method = $%d", filter.Method)
	}
	if filter.PathPrefix != "" {
		add("path LIKE $%d", filter.PathPrefix+"%")
	}
	if filter.MinStatus > 0 {
		add("status_code >= $%d", filter.MinStatus)
	}
	if filter.From != nil {
		add("date_utc >= $%d", filter.From.UTC())
	}
	if filter.To != nil {
		add("date_utc <= $%d", filter.To.UTC())
	}

	return whereClause(clauses), args
}

func whereClause(clauses []string) string {
	if len(clauses) == 0 {
		return ""
	}
	where := " WHERE " + clauses[0]
	for _, c := range clauses[1:] {
		where += " AND " + c
	}
	return where
}

func scanTrail(scanner interface {
	Scan(dest ...interface{}) error
}) (*Trail, error) {
	var trail Trail
	var rawID, rawType string
	var changedJSON, oldJSON, newJSON, tenantPath, userID, traceID sql.NullString

	err := scanner.Scan(&rawID, &rawType, &trail.EntityName, &trail.PrimaryKey,
		&changedJSON, &oldJSON, &newJSON, &tenantPath, &userID, &traceID, &trail.DateUTC)
	if err != nil {
		return nil, err
	}
	trail.TraceID = traceID.String

	if trail.ID, err = uuid.Parse(rawID); err != nil {
		return nil, fmt.Errorf("failed to parse trail id: %w", err)
	}
	trail.Type = TrailType(rawType)

	if changedJSON.Valid && changedJSON.String != "" {
		if err := json.Unmarshal([]byte(changedJSON.String), &trail.ChangedColumns); err != nil {
			return nil, fmt.Errorf("failed to unmarshal changed columns: %w", err)
		}
	}
	if oldJSON.Valid && oldJSON.String != "" {
		if err := json.Unmarshal([]byte(oldJSON.String), &trail.OldValues); err != nil {
			return nil, fmt.Errorf("failed to unmarshal old values: %w", err)
		}
	}
	if newJSON.Valid && newJSON.String != "" {
		if err := json.Unmarshal([]byte(newJSON.String), &trail.NewValues); err != nil {
			return nil, fmt.Errorf("failed to unmarshal new values: %w", err)
		}
	}
	if tenantPath.Valid {
		path := tenant.Path(tenantPath.String)
		trail.TenantPath = &path
	}
	if userID.Valid {
		id, err := uuid.Parse(userID.String)
		if err != nil {
			return nil, fmt.Errorf("failed to parse trail user id: %w", err)
		}
		trail.UserID = &id
	}

	return &trail, nil
}

func scanRequest(scanner interface {
	Scan(dest ...interface{}) error
}) (*Request, error) {
	var record Request
	var rawID string
	var requestID, userID, impersonatedBy, tenantPath, queryString, body, ipAddress, userAgent sql.NullString

	err := scanner.Scan(&rawID, &requestID, &userID, &impersonatedBy, &tenantPath,
		&record.Method, &record.Path, &queryString, &body,
		&record.StatusCode, &ipAddress, &userAgent,
		&record.DurationMs, &record.DateUTC)
	if err != nil {
		return nil, err
	}

	if record.ID, err = uuid.Parse(rawID); err != nil {
		return nil, fmt.Errorf("failed to parse request audit id: %w", err)
	}
	record.RequestID = requestID.String
	record.QueryString = queryString.String
	record.Body = body.String
	record.IPAddress = ipAddress.String
	record.UserAgent = userAgent.String

	if tenantPath.Valid {
		path := tenant.Path(tenantPath.String)
		record.TenantPath = &path
	}
	if userID.Valid {
		id, err := uuid.Parse(userID.String)
		if err != nil {
			return nil, fmt.Errorf("failed to parse request audit user id: %w", err)
		}
		record.UserID = &id
	}
	if impersonatedBy.Valid {
		id, err := uuid.Parse(impersonatedBy.String)
		if err != nil {
			return nil, fmt.Errorf("failed to parse request audit impersonator id: %w", err)
		}
		record.ImpersonatedBy = &id
	}

	return &record, nil
}
