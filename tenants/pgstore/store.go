// Package pgstore is the PostgreSQL-backed tenant record store.
package pgstore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jrsteele09/tenant-insights/internal/errors"
	"github.com/jrsteele09/tenant-insights/tenants"
)

const DriverName = "pgx"

const Schema = `
CREATE TABLE IF NOT EXISTS tenants (
	id                  TEXT PRIMARY KEY,
	abbreviation        TEXT NOT NULL,
	name                TEXT NOT NULL,
	external_tenant_id  TEXT NOT NULL DEFAULT '',
	rmm_organization_id TEXT NOT NULL DEFAULT '',
	client_id           TEXT NOT NULL DEFAULT '',
	client_secret       TEXT NOT NULL DEFAULT ''
)`

const selectColumns = "SELECT id, abbreviation, name, external_tenant_id, rmm_organization_id, client_id, client_secret FROM tenants"

var _ tenants.Repo = (*Store)(nil)

type Store struct {
	db     *sql.DB
	sealer *Sealer
}

type Option func(*Store)

// WithSealer encrypts client secrets at rest.
func WithSealer(sealer *Sealer) Option {
	return func(s *Store) {
		s.sealer = sealer
	}
}

func New(db *sql.DB, opts ...Option) *Store {
	s := &Store{db: db}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open connects with the pgx driver and verifies the connection.
func Open(ctx context.Context, databaseURL string, opts ...Option) (*Store, error) {
	db, err := sql.Open(DriverName, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("[pgstore Open] failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("[pgstore Open] failed to reach database: %w", err)
	}
	return New(db, opts...), nil
}

func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("[pgstore Migrate] failed to create tenants table: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Upsert(ctx context.Context, t *tenants.Tenant) error {
	if err := t.Validate(); err != nil {
		return err
	}
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	var clientID, clientSecret string
	if t.Credentials != nil {
		clientID, clientSecret = t.Credentials.ClientID, t.Credentials.ClientSecret
	}
	if s.sealer != nil {
		sealed, err := s.sealer.Seal(clientSecret)
		if err != nil {
			return fmt.Errorf("[pgstore Upsert] %w", err)
		}
		clientSecret = sealed
	}

	query := `
		INSERT INTO tenants (id, abbreviation, name, external_tenant_id, rmm_organization_id, client_id, client_secret)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			abbreviation = EXCLUDED.abbreviation,
			name = EXCLUDED.name,
			external_tenant_id = EXCLUDED.external_tenant_id,
			rmm_organization_id = EXCLUDED.rmm_organization_id,
			client_id = EXCLUDED.client_id,
			client_secret = EXCLUDED.client_secret
	`
	_, err := s.db.ExecContext(ctx, query, t.ID, t.Abbreviation, t.Name, t.ExternalTenantID, t.RMMOrganizationID, clientID, clientSecret)
	if err != nil {
		return fmt.Errorf("[pgstore Upsert] failed to persist tenant %s: %w", t.ID, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, tenantID string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM tenants WHERE id = $1", tenantID); err != nil {
		return fmt.Errorf("[pgstore Delete] failed to delete tenant %s: %w", tenantID, err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, tenantID string) (*tenants.Tenant, error) {
	row := s.db.QueryRowContext(ctx, selectColumns+" WHERE id = $1", tenantID)
	t, err := s.scanTenant(row)
	if err == sql.ErrNoRows {
		return nil, errors.ErrTenantNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("[pgstore Get] failed to load tenant %s: %w", tenantID, err)
	}
	return t, nil
}

func (s *Store) List(ctx context.Context, offset, limit int) ([]*tenants.Tenant, error) {
	rows, err := s.db.QueryContext(ctx, selectColumns+" ORDER BY abbreviation, id OFFSET $1 LIMIT $2", offset, limit)
	if err != nil {
		return nil, fmt.Errorf("[pgstore List] failed to list tenants: %w", err)
	}
	return s.collect(rows)
}

func (s *Store) ListAll(ctx context.Context) ([]*tenants.Tenant, error) {
	rows, err := s.db.QueryContext(ctx, selectColumns+" ORDER BY abbreviation, id")
	if err != nil {
		return nil, fmt.Errorf("[pgstore ListAll] failed to list tenants: %w", err)
	}
	return s.collect(rows)
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func (s *Store) scanTenant(row scanner) (*tenants.Tenant, error) {
	var t tenants.Tenant
	var clientID, clientSecret string
	if err := row.Scan(&t.ID, &t.Abbreviation, &t.Name, &t.ExternalTenantID, &t.RMMOrganizationID, &clientID, &clientSecret); err != nil {
		return nil, err
	}
	if s.sealer != nil {
		opened, err := s.sealer.Open(clientSecret)
		if err != nil {
			return nil, err
		}
		clientSecret = opened
	}
	if clientID != "" {
		t.Credentials = &tenants.Credentials{ClientID: clientID, ClientSecret: clientSecret}
	}
	return &t, nil
}

func (s *Store) collect(rows *sql.Rows) ([]*tenants.Tenant, error) {
	defer rows.Close()
	var list []*tenants.Tenant
	for rows.Next() {
		t, err := s.scanTenant(rows)
		if err != nil {
			return nil, fmt.Errorf("[pgstore collect] failed to scan tenant: %w", err)
		}
		list = append(list, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("[pgstore collect] failed to iterate tenants: %w", err)
	}
	return list, nil
}
