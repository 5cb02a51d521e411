// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/opensource-finance/sentinel/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

var _ domain.Repository = (*SQLRepository)(nil)

// New creates a new repository based on configuration and migrates it.
func New(ctx context.Context, cfg domain.RepositoryConfig) (*SQLRepository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(ctx, cfg)
	case "postgres":
		db, err = openPostgres(ctx, cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %q", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	if err := repo.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate(ctx context.Context) error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.ExecContext(ctx, schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveLedger replaces the stored ledger with txs in a single transaction.
func (r *SQLRepository) SaveLedger(ctx context.Context, txs []domain.Transaction) (err error) {
	sqlTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin ledger import: %w", err)
	}
	defer func() {
		if err != nil {
			sqlTx.Rollback()
		}
	}()

	if _, err = sqlTx.ExecContext(ctx, `DELETE FROM ledger_transactions`); err != nil {
		return fmt.Errorf("failed to clear ledger: %w", err)
	}

	stmt, err := sqlTx.PrepareContext(ctx, r.rebind(`
		INSERT INTO ledger_transactions (
			seq, step, type, amount,
			name_orig, old_balance_orig, new_balance_orig,
			name_dest, old_balance_dest, new_balance_dest,
			is_fraud, is_flagged_fraud
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`))
	if err != nil {
		return fmt.Errorf("failed to prepare ledger insert: %w", err)
	}
	defer stmt.Close()

	for i, tx := range txs {
		_, err = stmt.ExecContext(ctx,
			i, tx.Step, string(tx.Type), tx.Amount,
			tx.NameOrig, tx.OldBalanceOrig, tx.NewBalanceOrig,
			tx.NameDest, tx.OldBalanceDest, tx.NewBalanceDest,
			boolInt(tx.IsFraud), boolInt(tx.IsFlaggedFraud),
		)
		if err != nil {
			return fmt.Errorf("failed to insert ledger row %d: %w", i, err)
		}
	}

	if err = sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit ledger import: %w", err)
	}
	return nil
}

// ListLedger returns the stored ledger ordered by step, then import order.
func (r *SQLRepository) ListLedger(ctx context.Context) ([]domain.Transaction, error) {
	query := `
		SELECT step, type, amount,
			   name_orig, old_balance_orig, new_balance_orig,
			   name_dest, old_balance_dest, new_balance_dest,
			   is_fraud, is_flagged_fraud
		FROM ledger_transactions
		ORDER BY step, seq
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txs []domain.Transaction
	for rows.Next() {
		var tx domain.Transaction
		var typ string
		var fraud, flagged int
		if err := rows.Scan(
			&tx.Step, &typ, &tx.Amount,
			&tx.NameOrig, &tx.OldBalanceOrig, &tx.NewBalanceOrig,
			&tx.NameDest, &tx.OldBalanceDest, &tx.NewBalanceDest,
			&fraud, &flagged,
		); err != nil {
			return nil, err
		}

		t, ok := domain.ParseTxType(typ)
		if !ok {
			return nil, fmt.Errorf("%w: unknown transaction type %q in ledger table", ErrInvalidInput, typ)
		}
		tx.Type = t
		tx.IsFraud = fraud != 0
		tx.IsFlaggedFraud = flagged != 0
		txs = append(txs, tx)
	}

	return txs, rows.Err()
}

// CountLedger returns the number of stored ledger rows.
func (r *SQLRepository) CountLedger(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM ledger_transactions`).Scan(&n)
	return n, err
}

// SaveRuleConfig creates or updates a custom rule configuration.
func (r *SQLRepository) SaveRuleConfig(ctx context.Context, rule *domain.RuleConfig) error {
	if rule == nil || rule.ID == "" {
		return fmt.Errorf("%w: rule id is required", ErrInvalidInput)
	}

	now := time.Now().UTC()

	query := `
		INSERT INTO rule_configs (
			id, name, description, version, expression, flag, weight, enabled, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			version = excluded.version,
			expression = excluded.expression,
			flag = excluded.flag,
			weight = excluded.weight,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		rule.ID, rule.Name, rule.Description, rule.Version,
		rule.Expression, string(rule.Flag), rule.Weight, boolInt(rule.Enabled),
		now, now,
	)
	return err
}

// GetRuleConfig retrieves a rule configuration by ID.
func (r *SQLRepository) GetRuleConfig(ctx context.Context, ruleID string) (*domain.RuleConfig, error) {
	query := `
		SELECT id, name, description, version, expression, flag, weight, enabled
		FROM rule_configs
		WHERE id = ?
	`

	rule, err := scanRule(r.db.QueryRowContext(ctx, r.rebind(query), ruleID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return rule, nil
}

// ListRuleConfigs returns all rule configurations ordered by ID.
func (r *SQLRepository) ListRuleConfigs(ctx context.Context) ([]*domain.RuleConfig, error) {
	query := `
		SELECT id, name, description, version, expression, flag, weight, enabled
		FROM rule_configs
		ORDER BY id
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []*domain.RuleConfig
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}

	return rules, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRule(s scanner) (*domain.RuleConfig, error) {
	var rule domain.RuleConfig
	var description sql.NullString
	var flag string
	var enabled int

	if err := s.Scan(
		&rule.ID, &rule.Name, &description, &rule.Version,
		&rule.Expression, &flag, &rule.Weight, &enabled,
	); err != nil {
		return nil, err
	}

	rule.Description = description.String
	rule.Flag = domain.Flag(flag)
	rule.Enabled = enabled == 1
	return &rule, nil
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = strconv.AppendInt(result, int64(n), 10)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
