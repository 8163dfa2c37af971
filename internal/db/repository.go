package db

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/leozw/agentpulse/internal/core"
)

// Repository is the Postgres-backed event store, aggregate table and rule store.
// Every tenant-owned read or write filters on tenant_id.
type Repository struct {
	db *sqlx.DB
}

func NewConnection(databaseURL string, maxOpen, maxIdle int) (*sqlx.DB, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(5 * time.Minute)

	return db, nil
}

func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Tenant operations

func (r *Repository) CreateTenant(ctx context.Context, t *Tenant) error {
	query := `
		INSERT INTO tenants (id, name, key_hash, email, plan, created_at)
		VALUES (:id, :name, :key_hash, :email, :plan, :created_at)`

	if _, err := r.db.NamedExecContext(ctx, query, t); err != nil {
		if isUniqueViolation(err) {
			return core.Conflict("Name or email already registered")
		}
		return core.Internal(err, "failed to create tenant")
	}
	return nil
}

func (r *Repository) GetTenant(ctx context.Context, id string) (*Tenant, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, core.NotFound("tenant not found")
	}
	var t Tenant
	query := `SELECT id, name, key_hash, email, plan, created_at FROM tenants WHERE id = $1`
	if err := r.db.GetContext(ctx, &t, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, core.NotFound("tenant not found")
		}
		return nil, core.Internal(err, "failed to get tenant")
	}
	return &t, nil
}

func (r *Repository) GetTenantByKeyHash(ctx context.Context, keyHash string) (*Tenant, error) {
	var t Tenant
	query := `SELECT id, name, key_hash, email, plan, created_at FROM tenants WHERE key_hash = $1`
	if err := r.db.GetContext(ctx, &t, query, keyHash); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, core.NotFound("tenant not found")
		}
		return nil, core.Internal(err, "failed to look up credential")
	}
	return &t, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
