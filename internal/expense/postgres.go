package expense

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed 001_create_expenses.sql
var migrationSQL string

// CloudStore defines the interface for the remote relational backend. Every
// operation is scoped to the owning user.
type CloudStore interface {
	// Insert upserts a record for the given owner
	Insert(ctx context.Context, userID string, rec *Record) error

	// Update overwrites a record for the given owner
	Update(ctx context.Context, userID string, rec *Record) error

	// SoftDelete flips a record's status to deleted with a fresh
	// modification time
	SoftDelete(ctx context.Context, userID, id string, now time.Time) error

	// ListActive returns the owner's active records ordered by date
	// descending
	ListActive(ctx context.Context, userID string) ([]Record, error)

	// Close closes the store
	Close()
}

// PostgresConfig holds the relational backend connection settings.
type PostgresConfig struct {
	Host     string
	Port     int
	Database string
	User     string
	Password string
	SSLMode  string
}

// PostgresStore implements CloudStore over a pgx connection pool
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPostgresStore connects to the relational backend and runs migrations.
func NewPostgresStore(ctx context.Context, cfg PostgresConfig, logger *slog.Logger) (*PostgresStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Port == 0 {
		cfg.Port = 5432
	}
	if cfg.SSLMode == "" {
		cfg.SSLMode = "disable"
	}

	connStr := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)

	poolConfig, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("parsing connection string: %w", err)
	}
	poolConfig.MaxConns = 10
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = 1 * time.Hour
	poolConfig.HealthCheckPeriod = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	if _, err := pool.Exec(ctx, migrationSQL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	logger.Info("connected to PostgreSQL", "host", cfg.Host, "database", cfg.Database)

	return &PostgresStore{pool: pool, logger: logger}, nil
}

// Insert upserts a record. Conflicting ids are overwritten so a retried
// save stays idempotent.
func (p *PostgresStore) Insert(ctx context.Context, userID string, rec *Record) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO expenses (
			id, user_id, date, store_name, category, amount, payment_method,
			project, memo, invoice_number, tax_rate, tax_excluded, tax,
			image_url, status, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT (id) DO UPDATE SET
			date = EXCLUDED.date,
			store_name = EXCLUDED.store_name,
			category = EXCLUDED.category,
			amount = EXCLUDED.amount,
			payment_method = EXCLUDED.payment_method,
			project = EXCLUDED.project,
			memo = EXCLUDED.memo,
			invoice_number = EXCLUDED.invoice_number,
			tax_rate = EXCLUDED.tax_rate,
			tax_excluded = EXCLUDED.tax_excluded,
			tax = EXCLUDED.tax,
			image_url = EXCLUDED.image_url,
			status = EXCLUDED.status,
			updated_at = EXCLUDED.updated_at
	`,
		rec.ID, userID, rec.Date, rec.StoreName, rec.Category, rec.Amount,
		rec.PaymentMethod, rec.Project, rec.Memo, rec.InvoiceNumber,
		rec.TaxRate, rec.TaxExcluded, rec.Tax, rec.ImageURL, rec.Status,
		rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting expense: %w", err)
	}
	return nil
}

// Update overwrites a record owned by the user
func (p *PostgresStore) Update(ctx context.Context, userID string, rec *Record) error {
	tag, err := p.pool.Exec(ctx, `
		UPDATE expenses SET
			date = $3, store_name = $4, category = $5, amount = $6,
			payment_method = $7, project = $8, memo = $9, invoice_number = $10,
			tax_rate = $11, tax_excluded = $12, tax = $13, image_url = $14,
			status = $15, updated_at = $16
		WHERE id = $1 AND user_id = $2
	`,
		rec.ID, userID, rec.Date, rec.StoreName, rec.Category, rec.Amount,
		rec.PaymentMethod, rec.Project, rec.Memo, rec.InvoiceNumber,
		rec.TaxRate, rec.TaxExcluded, rec.Tax, rec.ImageURL, rec.Status,
		rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("updating expense: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("expense not found: %s", rec.ID)
	}
	return nil
}

// SoftDelete tombstones a record owned by the user
func (p *PostgresStore) SoftDelete(ctx context.Context, userID, id string, now time.Time) error {
	tag, err := p.pool.Exec(ctx, `
		UPDATE expenses SET status = $3, updated_at = $4
		WHERE id = $1 AND user_id = $2
	`, id, userID, StatusDeleted, now)
	if err != nil {
		return fmt.Errorf("deleting expense: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("expense not found: %s", id)
	}
	return nil
}

// ListActive returns the owner's active records ordered by date descending
func (p *PostgresStore) ListActive(ctx context.Context, userID string) ([]Record, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, to_char(date, 'YYYY-MM-DD'), COALESCE(store_name, ''),
			category, amount, payment_method, COALESCE(project, ''),
			COALESCE(memo, ''), COALESCE(invoice_number, ''), tax_rate,
			tax_excluded, tax, COALESCE(image_url, ''), status,
			created_at, updated_at
		FROM expenses
		WHERE user_id = $1 AND status = $2
		ORDER BY date DESC
	`, userID, StatusActive)
	if err != nil {
		return nil, fmt.Errorf("listing expenses: %w", err)
	}
	defer rows.Close()

	records := make([]Record, 0)
	for rows.Next() {
		var rec Record
		if err := rows.Scan(
			&rec.ID, &rec.Date, &rec.StoreName, &rec.Category, &rec.Amount,
			&rec.PaymentMethod, &rec.Project, &rec.Memo, &rec.InvoiceNumber,
			&rec.TaxRate, &rec.TaxExcluded, &rec.Tax, &rec.ImageURL,
			&rec.Status, &rec.CreatedAt, &rec.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning expense: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading expenses: %w", err)
	}
	return records, nil
}

// Close closes the connection pool
func (p *PostgresStore) Close() {
	p.pool.Close()
	p.logger.Info("closed PostgreSQL connection pool")
}
