// ABOUTME: SQLite implementation of the finance.Ledger contract using modernc.org/sqlite.
// ABOUTME: Provides transaction/project/category persistence with automatic schema creation.

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"github.com/pennyworth/pennyworth/internal/finance"
)

// defaultCategories back user accounts that have not customized theirs.
var defaultCategories = map[string][]string{
	finance.TypeExpense: {"Groceries", "Dining", "Transport", "Housing", "Health", "Entertainment", "Other"},
	finance.TypeIncome:  {"Salary", "Freelance", "Gifts", "Other"},
}

// SQLiteLedger implements finance.Ledger using SQLite.
type SQLiteLedger struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteLedger creates a new SQLite ledger at the given path. The schema
// is created if it doesn't exist; parent directories are created if needed.
func NewSQLiteLedger(path string) (*SQLiteLedger, error) {
	logger := slog.Default().With("component", "store")

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	l := &SQLiteLedger{db: db, logger: logger}
	if err := l.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite ledger initialized", "path", path)
	return l, nil
}

// createSchema creates the database tables if they don't exist.
func (l *SQLiteLedger) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS transactions (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			project_id TEXT,
			type TEXT NOT NULL,
			date DATETIME NOT NULL,
			merchant TEXT NOT NULL,
			category TEXT NOT NULL,
			amount TEXT NOT NULL,
			created_at DATETIME NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_transactions_user_date
			ON transactions(user_id, date);

		CREATE TABLE IF NOT EXISTS projects (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			name TEXT NOT NULL,
			currency TEXT NOT NULL,
			status TEXT NOT NULL,
			created_at DATETIME NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_projects_user_status
			ON projects(user_id, status);

		CREATE TABLE IF NOT EXISTS categories (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			type TEXT NOT NULL,
			name TEXT NOT NULL,
			UNIQUE(user_id, type, name)
		);
	`
	_, err := l.db.Exec(schema)
	return err
}

// Close releases the database handle.
func (l *SQLiteLedger) Close() error {
	return l.db.Close()
}

// PersistTransaction inserts a financial record and returns its id.
func (l *SQLiteLedger) PersistTransaction(ctx context.Context, tx *finance.Transaction) (string, error) {
	id := tx.ID
	if id == "" {
		id = uuid.New().String()
	}
	var projectID sql.NullString
	if tx.ProjectID != nil {
		projectID = sql.NullString{String: *tx.ProjectID, Valid: true}
	}

	_, err := l.db.ExecContext(ctx, `
		INSERT INTO transactions (id, user_id, project_id, type, date, merchant, category, amount, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, tx.UserID, projectID, tx.Type, tx.Date.UTC(), tx.Merchant, tx.Category,
		tx.Amount.String(), tx.CreatedAt.UTC(),
	)
	if err != nil {
		return "", classify("persist transaction", err)
	}
	return id, nil
}

// ListOpenProjects returns the user's open projects, oldest first.
func (l *SQLiteLedger) ListOpenProjects(ctx context.Context, userID string) ([]finance.Project, error) {
	return l.listProjects(ctx, userID, finance.ProjectOpen)
}

// ListClosedProjects returns the user's closed projects, oldest first.
func (l *SQLiteLedger) ListClosedProjects(ctx context.Context, userID string) ([]finance.Project, error) {
	return l.listProjects(ctx, userID, finance.ProjectClosed)
}

func (l *SQLiteLedger) listProjects(ctx context.Context, userID, status string) ([]finance.Project, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, user_id, name, currency, status
		FROM projects WHERE user_id = ? AND status = ?
		ORDER BY created_at`,
		userID, status,
	)
	if err != nil {
		return nil, classify("list projects", err)
	}
	defer rows.Close()

	var projects []finance.Project
	for rows.Next() {
		var p finance.Project
		if err := rows.Scan(&p.ID, &p.UserID, &p.Name, &p.Currency, &p.Status); err != nil {
			return nil, classify("list projects", err)
		}
		projects = append(projects, p)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("list projects", err)
	}
	return projects, nil
}

// SetProjectStatus opens or closes a project.
func (l *SQLiteLedger) SetProjectStatus(ctx context.Context, userID, projectID, status string) error {
	res, err := l.db.ExecContext(ctx,
		`UPDATE projects SET status = ? WHERE id = ? AND user_id = ?`,
		status, projectID, userID,
	)
	if err != nil {
		return classify("set project status", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return classify("set project status", err)
	}
	if affected == 0 {
		return finance.NewError(finance.KindNotFound, "set project status",
			fmt.Errorf("project %s not found for user", projectID))
	}
	return nil
}

// CreateProject inserts a new project.
func (l *SQLiteLedger) CreateProject(ctx context.Context, p *finance.Project) error {
	id := p.ID
	if id == "" {
		id = uuid.New().String()
	}
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO projects (id, user_id, name, currency, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		id, p.UserID, p.Name, p.Currency, p.Status, time.Now().UTC(),
	)
	if err != nil {
		return classify("create project", err)
	}
	return nil
}

// ListCategories returns the user's categories for the transaction type,
// falling back to the built-in defaults for users with none.
func (l *SQLiteLedger) ListCategories(ctx context.Context, userID, txType string) ([]finance.Category, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT id, name FROM categories WHERE user_id = ? AND type = ? ORDER BY name`,
		userID, txType,
	)
	if err != nil {
		return nil, classify("list categories", err)
	}
	defer rows.Close()

	var cats []finance.Category
	for rows.Next() {
		var c finance.Category
		if err := rows.Scan(&c.ID, &c.Name); err != nil {
			return nil, classify("list categories", err)
		}
		cats = append(cats, c)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("list categories", err)
	}

	if len(cats) == 0 {
		for i, name := range defaultCategories[txType] {
			cats = append(cats, finance.Category{ID: fmt.Sprintf("default-%d", i), Name: name})
		}
	}
	return cats, nil
}

// Summarize aggregates one month of expenses by category.
func (l *SQLiteLedger) Summarize(ctx context.Context, userID string, year int, month time.Month) (*finance.MonthSummary, error) {
	start := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0)

	rows, err := l.db.QueryContext(ctx, `
		SELECT category, amount FROM transactions
		WHERE user_id = ? AND type = ? AND date >= ? AND date < ?`,
		userID, finance.TypeExpense, start, end,
	)
	if err != nil {
		return nil, classify("summarize", err)
	}
	defer rows.Close()

	totals := make(map[string]decimal.Decimal)
	var order []string
	grand := decimal.Zero
	for rows.Next() {
		var category, raw string
		if err := rows.Scan(&category, &raw); err != nil {
			return nil, classify("summarize", err)
		}
		amount, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, classify("summarize", fmt.Errorf("corrupt amount %q: %w", raw, err))
		}
		if _, seen := totals[category]; !seen {
			order = append(order, category)
		}
		totals[category] = totals[category].Add(amount)
		grand = grand.Add(amount)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("summarize", err)
	}

	summary := &finance.MonthSummary{Year: year, Month: month, Total: grand}
	for _, name := range order {
		summary.ByCategory = append(summary.ByCategory, finance.CategoryAmount{Name: name, Amount: totals[name]})
	}
	return summary, nil
}

// classify maps low-level database errors onto the shared error kinds.
func classify(op string, err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return finance.NewError(finance.KindTransient, op, err)
	case errors.Is(err, sql.ErrNoRows):
		return finance.NewError(finance.KindNotFound, op, err)
	default:
		return finance.NewError(finance.KindInternal, op, err)
	}
}
