package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"
	_ "github.com/lib/pq"

	"github.com/dunamismax/variantforge/internal/domain"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const variantSchemaSQL = `
CREATE TABLE IF NOT EXISTS variants (
	id TEXT PRIMARY KEY,
	position INTEGER NOT NULL,
	definition JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
`

// PostgresVariantRepository persists the variant set between sessions.
type PostgresVariantRepository struct {
	db *sql.DB
}

func NewPostgresVariantRepository(ctx context.Context, dsn string) (*PostgresVariantRepository, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	repo := &PostgresVariantRepository{db: db}
	if err := repo.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return repo, nil
}

func (r *PostgresVariantRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, variantSchemaSQL); err != nil {
		return fmt.Errorf("ensure variants schema: %w", err)
	}
	return nil
}

func (r *PostgresVariantRepository) Close() error {
	return r.db.Close()
}

// Load returns the stored variants in list order.
func (r *PostgresVariantRepository) Load(ctx context.Context) ([]domain.Variant, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT definition FROM variants ORDER BY position ASC`)
	if err != nil {
		return nil, fmt.Errorf("query variants: %w", err)
	}
	defer rows.Close()

	var variants []domain.Variant
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan variant: %w", err)
		}
		v := domain.DefaultVariant()
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("unmarshal variant definition: %w", err)
		}
		variants = append(variants, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate variants: %w", err)
	}
	return variants, nil
}

// Save replaces the stored set with variants in a single transaction.
func (r *PostgresVariantRepository) Save(ctx context.Context, variants []domain.Variant) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin variants transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM variants`); err != nil {
		return fmt.Errorf("clear variants: %w", err)
	}

	now := time.Now().UTC()
	for i, v := range variants {
		definition, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("marshal variant %q: %w", v.ID, err)
		}
		_, err = tx.ExecContext(
			ctx,
			`INSERT INTO variants (id, position, definition, updated_at)
			 VALUES ($1, $2, $3, $4)`,
			v.ID,
			i,
			definition,
			now,
		)
		if err != nil {
			return fmt.Errorf("insert variant %q: %w", v.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit variants: %w", err)
	}
	return nil
}
