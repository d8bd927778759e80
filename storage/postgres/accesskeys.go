package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/jmcleod/sessiongate/accesskey"
)

// AccessKeyRepository implements accesskey.Repository.
type AccessKeyRepository struct {
	db *sql.DB
}

var _ accesskey.Repository = (*AccessKeyRepository)(nil)

func NewAccessKeyRepository(db *sql.DB) *AccessKeyRepository {
	return &AccessKeyRepository{db: db}
}

const accessKeyColumns = `id, key, client_name, active, created_at, last_used_at, permissions`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccessKey(row rowScanner) (*accesskey.Record, error) {
	var (
		rec      accesskey.Record
		lastUsed sql.NullTime
		perms    []string
	)
	if err := row.Scan(&rec.ID, &rec.Key, &rec.ClientName, &rec.Active, &rec.CreatedAt, &lastUsed, pq.Array(&perms)); err != nil {
		return nil, err
	}
	if lastUsed.Valid {
		t := lastUsed.Time
		rec.LastUsedAt = &t
	}
	if len(perms) > 0 {
		rec.Permissions = perms
	}
	return &rec, nil
}

func (r *AccessKeyRepository) FindByKey(ctx context.Context, key string) (*accesskey.Record, error) {
	q := `SELECT ` + accessKeyColumns + ` FROM access_keys WHERE key = $1;`
	rec, err := scanAccessKey(r.db.QueryRowContext(ctx, q, key))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, accesskey.ErrNotFound
		}
		return nil, fmt.Errorf("finding access key: %w", err)
	}
	return rec, nil
}

func (r *AccessKeyRepository) Create(ctx context.Context, rec *accesskey.Record) error {
	const q = `
INSERT INTO access_keys (id, key, client_name, active, created_at, permissions)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT DO NOTHING;
`
	perms := rec.Permissions
	if perms == nil {
		perms = []string{}
	}
	res, err := r.db.ExecContext(ctx, q, rec.ID, rec.Key, rec.ClientName, rec.Active, rec.CreatedAt, pq.Array(perms))
	if err != nil {
		return fmt.Errorf("creating access key: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return accesskey.ErrDuplicate
	}
	return nil
}

func (r *AccessKeyRepository) exec(ctx context.Context, q string, args ...any) error {
	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return accesskey.ErrNotFound
	}
	return nil
}

func (r *AccessKeyRepository) TouchLastUsed(ctx context.Context, id string, at time.Time) error {
	return r.exec(ctx, `UPDATE access_keys SET last_used_at = $2 WHERE id = $1;`, id, at)
}

func (r *AccessKeyRepository) SetActive(ctx context.Context, id string, active bool) error {
	return r.exec(ctx, `UPDATE access_keys SET active = $2 WHERE id = $1;`, id, active)
}

func (r *AccessKeyRepository) List(ctx context.Context) ([]accesskey.Record, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+accessKeyColumns+` FROM access_keys ORDER BY created_at, id;`)
	if err != nil {
		return nil, fmt.Errorf("listing access keys: %w", err)
	}
	defer rows.Close()

	var out []accesskey.Record
	for rows.Next() {
		rec, err := scanAccessKey(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning access key: %w", err)
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}
