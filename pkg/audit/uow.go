package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/latticehq/lattice/pkg/contextkeys"
	"github.com/latticehq/lattice/pkg/observability"
	"github.com/latticehq/lattice/pkg/tenant"
)

// UnitOfWork couples a business transaction with the change trails it
// produces. Commit is two-phase: the business transaction commits
// first, and only then are the collected trails written in a second,
// independent transaction. If the business commit fails no trail is
// ever written; if the trail write fails the business change stands
// and the failure is logged and counted, never surfaced to the caller.
type UnitOfWork struct {
	tx      *sql.Tx
	store   *Store
	logger  *observability.Logger
	metrics *observability.Metrics

	trails     []Trail
	userID     *uuid.UUID
	tenantPath *tenant.Path
	traceID    string
	committed  bool
}

// Begin starts a unit of work with its business transaction. Trails
// collected by this unit carry the request id found on ctx, tying each
// change back to the request that produced it. metrics may be nil.
func Begin(ctx context.Context, store *Store, logger *observability.Logger, metrics *observability.Metrics) (*UnitOfWork, error) {
	tx, err := store.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &UnitOfWork{
		tx:      tx,
		store:   store,
		logger:  logger,
		metrics: metrics,
		traceID: contextkeys.GetRequestID(ctx),
	}, nil
}

// Tx exposes the business transaction for the caller's own statements
func (u *UnitOfWork) Tx() *sql.Tx {
	return u.tx
}

// Actor attributes subsequent trails to a user and tenant
func (u *UnitOfWork) Actor(userID *uuid.UUID, path *tenant.Path) {
	u.userID = userID
	u.tenantPath = path
}

// TrackCreate records a creation trail carrying the full new state
func (u *UnitOfWork) TrackCreate(entityName, primaryKey string, entity interface{}) error {
	values, columns, err := Snapshot(entity)
	if err != nil {
		return fmt.Errorf("failed to snapshot %s: %w", entityName, err)
	}
	u.append(TrailTypeCreate, entityName, primaryKey, columns, nil, values)
	return nil
}

// TrackUpdate records an update trail with exactly the changed
// columns. An update that changed nothing records no trail.
func (u *UnitOfWork) TrackUpdate(entityName, primaryKey string, before, after interface{}) error {
	changed, oldValues, newValues, err := Diff(before, after)
	if err != nil {
		return fmt.Errorf("failed to diff %s: %w", entityName, err)
	}
	if len(changed) == 0 {
		return nil
	}
	u.append(TrailTypeUpdate, entityName, primaryKey, changed, oldValues, newValues)
	return nil
}

// TrackDelete records a deletion trail carrying the full old state
func (u *UnitOfWork) TrackDelete(entityName, primaryKey string, entity interface{}) error {
	values, columns, err := Snapshot(entity)
	if err != nil {
		return fmt.Errorf("failed to snapshot %s: %w", entityName, err)
	}
	u.append(TrailTypeDelete, entityName, primaryKey, columns, values, nil)
	return nil
}

func (u *UnitOfWork) append(trailType TrailType, entityName, primaryKey string, columns []string, oldValues, newValues map[string]interface{}) {
	u.trails = append(u.trails, Trail{
		ID:             uuid.New(),
		Type:           trailType,
		EntityName:     entityName,
		PrimaryKey:     primaryKey,
		ChangedColumns: columns,
		OldValues:      oldValues,
		NewValues:      newValues,
		TenantPath:     u.tenantPath,
		UserID:         u.userID,
		TraceID:        u.traceID,
		DateUTC:        time.Now().UTC(),
	})
}

// Commit commits the business transaction, then writes the collected
// trails. A business commit failure is returned and discards the
// trails. A trail write failure is swallowed after logging: the
// business change has already committed and must not appear to fail.
func (u *UnitOfWork) Commit(ctx context.Context) error {
	if err := u.tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	u.committed = true

	if len(u.trails) == 0 {
		return nil
	}

	// The business change is durable at this point; cancellation of
	// the request context must not abort the trail write.
	auditCtx := context.WithoutCancel(ctx)
	if err := u.writeTrails(auditCtx); err != nil {
		u.logger.WithError(err).Error("failed to write audit trails")
		if u.metrics != nil {
			u.metrics.AuditWriteFailuresTotal.WithLabelValues("trail").Inc()
		}
		return nil
	}

	if u.metrics != nil {
		u.metrics.AuditTrailsWrittenTotal.Add(float64(len(u.trails)))
	}
	return nil
}

func (u *UnitOfWork) writeTrails(ctx context.Context) error {
	tx, err := u.store.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin audit transaction: %w", err)
	}

	if err := u.store.InsertTrailsTx(ctx, tx, u.trails); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit audit transaction: %w", err)
	}
	return nil
}

// Rollback aborts the business transaction and discards collected
// trails. Safe to defer after a successful Commit.
func (u *UnitOfWork) Rollback() {
	if u.committed {
		return
	}
	_ = u.tx.Rollback()
	u.trails = nil
}
