// ABOUTME: Domain records and collaborator contracts for the finance core.
// ABOUTME: Defines Transaction, Project, Category and the narrow interfaces the engine calls.

package finance

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType constants for ledger records
const (
	TypeExpense = "expense"
	TypeIncome  = "income"
)

// Transaction represents a single financial record to be persisted.
type Transaction struct {
	ID        string
	UserID    string
	ProjectID *string // nil means the general (no-project) ledger
	Type      string  // "expense" or "income"
	Date      time.Time
	Merchant  string // store for expenses, source for income
	Category  string
	Amount    decimal.Decimal
	CreatedAt time.Time
}

// ProjectStatus constants
const (
	ProjectOpen   = "open"
	ProjectClosed = "closed"
)

// Project groups transactions under a named budget with its own currency.
type Project struct {
	ID       string
	UserID   string
	Name     string
	Currency string
	Status   string
}

// Category is a user-scoped label for expense or income records.
type Category struct {
	ID   string
	Name string
}

// Receipt is the structured result of extracting a receipt photo.
type Receipt struct {
	Date     time.Time
	Merchant string
	Category string
	Amount   decimal.Decimal
}

// MonthSummary aggregates one month of spending by category.
type MonthSummary struct {
	Year       int
	Month      time.Month
	Total      decimal.Decimal
	ByCategory []CategoryAmount
}

// CategoryAmount is a per-category total within a summary.
type CategoryAmount struct {
	Name   string
	Amount decimal.Decimal
}

// Ledger is the persistence collaborator. Implementations must return
// errors classified via this package's Error type so callers can
// dispatch on kind rather than message text.
type Ledger interface {
	PersistTransaction(ctx context.Context, tx *Transaction) (string, error)
	ListOpenProjects(ctx context.Context, userID string) ([]Project, error)
	ListClosedProjects(ctx context.Context, userID string) ([]Project, error)
	SetProjectStatus(ctx context.Context, userID, projectID, status string) error
	CreateProject(ctx context.Context, p *Project) error
	ListCategories(ctx context.Context, userID, txType string) ([]Category, error)
	Summarize(ctx context.Context, userID string, year int, month time.Month) (*MonthSummary, error)
}

// Extractor is the receipt-extraction collaborator. Single-shot: it must
// complete or fail within the deadline on ctx.
type Extractor interface {
	ExtractReceipt(ctx context.Context, image []byte, mimeType string) (*Receipt, error)
}
