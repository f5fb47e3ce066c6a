package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/castlemilk/pfinance-insights/internal/model"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schemaSQL string

// PostgresStore implements the Store interface on a pgx connection pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// ConnectPostgres opens a pool and verifies it with a ping.
func ConnectPostgres(ctx context.Context, url string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, err
	}

	// Test connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return pool, nil
}

// NewPostgresStore wraps pool. Call Migrate once before first use.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate creates the tables if they do not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

const transactionColumns = `id, user_id, date, amount, merchant, category, description, type,
	is_recurring, is_anomaly, anomaly_score, created_at`

func scanTransaction(row pgx.Row) (*model.Transaction, error) {
	var tx model.Transaction
	var txType string
	err := row.Scan(&tx.ID, &tx.UserID, &tx.Date, &tx.Amount, &tx.Merchant, &tx.Category,
		&tx.Description, &txType, &tx.IsRecurring, &tx.IsAnomaly, &tx.AnomalyScore, &tx.CreatedAt)
	if err != nil {
		return nil, err
	}
	tx.Type = model.TransactionType(txType)
	return &tx, nil
}

// whereClause renders filter as a WHERE clause with positional arguments.
func whereClause(filter TransactionFilter) (string, []any) {
	var conds []string
	var args []any
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if filter.UserID != "" {
		add("user_id = $%d", filter.UserID)
	}
	if filter.Type != "" {
		add("type = $%d", string(filter.Type))
	}
	if filter.Category != "" {
		add("category = $%d", filter.Category)
	}
	if filter.Merchant != "" {
		add("merchant = $%d", filter.Merchant)
	}
	if !filter.Start.IsZero() {
		add("date >= $%d", filter.Start)
	}
	if !filter.End.IsZero() {
		add("date <= $%d", filter.End)
	}
	if filter.AnomalousOnly {
		conds = append(conds, "is_anomaly")
	}

	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// Transaction operations

func (s *PostgresStore) CreateTransactions(ctx context.Context, txs []*model.Transaction) error {
	if len(txs) == 0 {
		return nil
	}

	now := time.Now().UTC()
	batch := &pgx.Batch{}
	for _, tx := range txs {
		if tx.ID == "" {
			tx.ID = uuid.New().String()
		}
		if tx.CreatedAt.IsZero() {
			tx.CreatedAt = now
		}
		batch.Queue(`
			INSERT INTO transactions (`+transactionColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
			tx.ID, tx.UserID, tx.Date, tx.Amount, tx.Merchant, tx.Category, tx.Description,
			string(tx.Type), tx.IsRecurring, tx.IsAnomaly, tx.AnomalyScore, tx.CreatedAt)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for range txs {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("failed to insert transaction: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) ListTransactions(ctx context.Context, filter TransactionFilter) ([]*model.Transaction, error) {
	where, args := whereClause(filter)
	query := `SELECT ` + transactionColumns + ` FROM transactions` + where + ` ORDER BY date DESC, id`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	var txs []*model.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}
	return txs, rows.Err()
}

func (s *PostgresStore) AggregateTransactions(ctx context.Context, filter TransactionFilter) (Aggregate, error) {
	where, args := whereClause(filter)
	var agg Aggregate
	err := s.pool.QueryRow(ctx, `SELECT COALESCE(SUM(amount), 0), COUNT(*) FROM transactions`+where, args...).
		Scan(&agg.Sum, &agg.Count)
	if err != nil {
		return Aggregate{}, fmt.Errorf("failed to aggregate transactions: %w", err)
	}
	return agg, nil
}

func (s *PostgresStore) MarkRecurring(ctx context.Context, userID, merchant string) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE transactions SET is_recurring = TRUE
		WHERE user_id = $1 AND merchant = $2 AND NOT is_recurring`, userID, merchant)
	if err != nil {
		return 0, fmt.Errorf("failed to mark transactions recurring: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) SetAnomaly(ctx context.Context, transactionID string, score float64) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE transactions SET is_anomaly = TRUE, anomaly_score = $2 WHERE id = $1`, transactionID, score)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("transaction %s: %w", transactionID, ErrNotFound)
	}
	return nil
}

// Recurring charge operations

const recurringColumns = `id, user_id, merchant, average_amount, frequency_days, last_charge_date,
	next_expected_date, category, confidence_score, is_active, created_at, updated_at`

func (s *PostgresStore) UpsertRecurringCharge(ctx context.Context, rc *model.RecurringCharge) (bool, error) {
	// xmax = 0 only for freshly inserted rows
	var inserted bool
	err := s.pool.QueryRow(ctx, `
		INSERT INTO recurring_charges (id, user_id, merchant, average_amount, frequency_days,
			last_charge_date, next_expected_date, category, confidence_score, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, TRUE, NOW(), NOW())
		ON CONFLICT (user_id, merchant) DO UPDATE SET
			average_amount = EXCLUDED.average_amount,
			frequency_days = EXCLUDED.frequency_days,
			last_charge_date = EXCLUDED.last_charge_date,
			next_expected_date = EXCLUDED.next_expected_date,
			category = EXCLUDED.category,
			confidence_score = EXCLUDED.confidence_score,
			updated_at = NOW()
		RETURNING id, is_active, created_at, updated_at, (xmax = 0)`,
		RecurringChargeID(rc.UserID, rc.Merchant), rc.UserID, rc.Merchant, rc.AverageAmount,
		rc.FrequencyDays, rc.LastChargeDate, rc.NextExpectedDate, rc.Category, rc.ConfidenceScore).
		Scan(&rc.ID, &rc.IsActive, &rc.CreatedAt, &rc.UpdatedAt, &inserted)
	if err != nil {
		return false, fmt.Errorf("failed to upsert recurring charge: %w", err)
	}
	return inserted, nil
}

func (s *PostgresStore) ListRecurringCharges(ctx context.Context, userID string, activeOnly bool) ([]*model.RecurringCharge, error) {
	query := `SELECT ` + recurringColumns + ` FROM recurring_charges WHERE ($1 = '' OR user_id = $1)`
	if activeOnly {
		query += ` AND is_active`
	}
	query += ` ORDER BY user_id, merchant`

	rows, err := s.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list recurring charges: %w", err)
	}
	defer rows.Close()

	var out []*model.RecurringCharge
	for rows.Next() {
		var rc model.RecurringCharge
		err := rows.Scan(&rc.ID, &rc.UserID, &rc.Merchant, &rc.AverageAmount, &rc.FrequencyDays,
			&rc.LastChargeDate, &rc.NextExpectedDate, &rc.Category, &rc.ConfidenceScore,
			&rc.IsActive, &rc.CreatedAt, &rc.UpdatedAt)
		if err != nil {
			return nil, err
		}
		out = append(out, &rc)
	}
	return out, rows.Err()
}

// Budget operations

const budgetColumns = `id, user_id, category, amount_monthly, currency, is_active, created_at, updated_at`

func scanBudget(row pgx.Row) (*model.Budget, error) {
	var b model.Budget
	err := row.Scan(&b.ID, &b.UserID, &b.Category, &b.AmountMonthly, &b.Currency, &b.IsActive, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (s *PostgresStore) CreateBudget(ctx context.Context, budget *model.Budget) error {
	if budget.ID == "" {
		budget.ID = uuid.New().String()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO budgets (`+budgetColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		budget.ID, budget.UserID, budget.Category, budget.AmountMonthly, budget.Currency,
		budget.IsActive, budget.CreatedAt, budget.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert budget: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetBudget(ctx context.Context, budgetID string) (*model.Budget, error) {
	b, err := scanBudget(s.pool.QueryRow(ctx, `SELECT `+budgetColumns+` FROM budgets WHERE id = $1`, budgetID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("budget %s: %w", budgetID, ErrNotFound)
	}
	return b, err
}

func (s *PostgresStore) UpdateBudget(ctx context.Context, budget *model.Budget) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE budgets SET category = $2, amount_monthly = $3, currency = $4, is_active = $5, updated_at = $6
		WHERE id = $1`,
		budget.ID, budget.Category, budget.AmountMonthly, budget.Currency, budget.IsActive, budget.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update budget: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("budget %s: %w", budget.ID, ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) ListBudgets(ctx context.Context, userID string, includeInactive bool) ([]*model.Budget, error) {
	query := `SELECT ` + budgetColumns + ` FROM budgets WHERE user_id = $1`
	if !includeInactive {
		query += ` AND is_active`
	}
	query += ` ORDER BY created_at, id`

	rows, err := s.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list budgets: %w", err)
	}
	defer rows.Close()

	var budgets []*model.Budget
	for rows.Next() {
		b, err := scanBudget(rows)
		if err != nil {
			return nil, err
		}
		budgets = append(budgets, b)
	}
	return budgets, rows.Err()
}

func (s *PostgresStore) FindActiveBudget(ctx context.Context, userID, category string) (*model.Budget, error) {
	b, err := scanBudget(s.pool.QueryRow(ctx, `
		SELECT `+budgetColumns+` FROM budgets
		WHERE user_id = $1 AND category = $2 AND is_active
		LIMIT 1`, userID, category))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("active budget for %q: %w", category, ErrNotFound)
	}
	return b, err
}

// Goal operations

const goalColumns = `id, user_id, name, description, target_amount, current_amount, deadline,
	is_active, created_at, updated_at`

func scanGoal(row pgx.Row) (*model.Goal, error) {
	var g model.Goal
	err := row.Scan(&g.ID, &g.UserID, &g.Name, &g.Description, &g.TargetAmount, &g.CurrentAmount,
		&g.Deadline, &g.IsActive, &g.CreatedAt, &g.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &g, nil
}

func (s *PostgresStore) CreateGoal(ctx context.Context, goal *model.Goal) error {
	if goal.ID == "" {
		goal.ID = uuid.New().String()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO goals (`+goalColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		goal.ID, goal.UserID, goal.Name, goal.Description, goal.TargetAmount, goal.CurrentAmount,
		goal.Deadline, goal.IsActive, goal.CreatedAt, goal.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert goal: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetGoal(ctx context.Context, goalID string) (*model.Goal, error) {
	g, err := scanGoal(s.pool.QueryRow(ctx, `SELECT `+goalColumns+` FROM goals WHERE id = $1`, goalID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("goal %s: %w", goalID, ErrNotFound)
	}
	return g, err
}

func (s *PostgresStore) UpdateGoal(ctx context.Context, goal *model.Goal) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE goals SET name = $2, description = $3, target_amount = $4, current_amount = $5,
			deadline = $6, is_active = $7, updated_at = $8
		WHERE id = $1`,
		goal.ID, goal.Name, goal.Description, goal.TargetAmount, goal.CurrentAmount,
		goal.Deadline, goal.IsActive, goal.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update goal: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("goal %s: %w", goal.ID, ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) DeleteGoal(ctx context.Context, goalID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM goals WHERE id = $1`, goalID)
	if err != nil {
		return fmt.Errorf("failed to delete goal: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("goal %s: %w", goalID, ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) ListGoals(ctx context.Context, userID string, activeOnly bool) ([]*model.Goal, error) {
	query := `SELECT ` + goalColumns + ` FROM goals WHERE user_id = $1`
	if activeOnly {
		query += ` AND is_active`
	}
	query += ` ORDER BY created_at, id`

	rows, err := s.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list goals: %w", err)
	}
	defer rows.Close()

	var goals []*model.Goal
	for rows.Next() {
		g, err := scanGoal(rows)
		if err != nil {
			return nil, err
		}
		goals = append(goals, g)
	}
	return goals, rows.Err()
}

// Alert operations

func (s *PostgresStore) CreateAlert(ctx context.Context, alert *model.Alert) error {
	if alert.ID == "" {
		alert.ID = uuid.New().String()
	}
	if alert.CreatedAt.IsZero() {
		alert.CreatedAt = time.Now().UTC()
	}
	meta, err := model.MarshalMetadata(alert.Metadata)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO alerts (id, user_id, type, title, description, is_read, dedup_key, metadata, created_at, read_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		alert.ID, alert.UserID, string(alert.Type), alert.Title, alert.Description, alert.IsRead,
		alert.DedupKey, meta, alert.CreatedAt, alert.ReadAt)
	if err != nil {
		return fmt.Errorf("failed to insert alert: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListAlerts(ctx context.Context, userID string, unreadOnly bool, limit int) ([]*model.Alert, error) {
	query := `SELECT id, user_id, type, title, description, is_read, dedup_key, metadata, created_at, read_at
		FROM alerts WHERE user_id = $1`
	args := []any{userID}
	if unreadOnly {
		query += ` AND NOT is_read`
	}
	query += ` ORDER BY created_at DESC, id`
	if limit > 0 {
		args = append(args, limit)
		query += ` LIMIT $2`
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list alerts: %w", err)
	}
	defer rows.Close()

	var alerts []*model.Alert
	for rows.Next() {
		var a model.Alert
		var alertType string
		var meta []byte
		err := rows.Scan(&a.ID, &a.UserID, &alertType, &a.Title, &a.Description, &a.IsRead,
			&a.DedupKey, &meta, &a.CreatedAt, &a.ReadAt)
		if err != nil {
			return nil, err
		}
		a.Type = model.AlertType(alertType)
		if a.Metadata, err = model.UnmarshalMetadata(meta); err != nil {
			return nil, err
		}
		alerts = append(alerts, &a)
	}
	return alerts, rows.Err()
}

func (s *PostgresStore) MarkAlertsRead(ctx context.Context, userID string, alertIDs []string) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE alerts SET is_read = TRUE, read_at = NOW()
		WHERE user_id = $1 AND id = ANY($2) AND NOT is_read`, userID, alertIDs)
	if err != nil {
		return 0, fmt.Errorf("failed to mark alerts read: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) HasUnreadAlert(ctx context.Context, userID string, alertType model.AlertType, dedupKey string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM alerts
			WHERE user_id = $1 AND type = $2 AND dedup_key = $3 AND NOT is_read
		)`, userID, string(alertType), dedupKey).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check for existing alert: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) UnreadAlertCount(ctx context.Context, userID string) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM alerts WHERE user_id = $1 AND NOT is_read`, userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count unread alerts: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) DeleteUser(ctx context.Context, userID string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, table := range []string{"transactions", "recurring_charges", "budgets", "goals", "alerts"} {
		if _, err := tx.Exec(ctx, `DELETE FROM `+table+` WHERE user_id = $1`, userID); err != nil {
			return fmt.Errorf("failed to delete %s: %w", table, err)
		}
	}
	return tx.Commit(ctx)
}
