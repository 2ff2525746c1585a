// ABOUTME: Tests for the conversation engine and its step tables.
// ABOUTME: Covers step monotonicity, cancellation totality, branch memoization, and at-most-once commits.

package flow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pennyworth/pennyworth/internal/convo"
	"github.com/pennyworth/pennyworth/internal/finance"
)

// fakeLedger implements finance.Ledger in memory for engine tests.
type fakeLedger struct {
	mu         sync.Mutex
	open       []finance.Project
	closed     []finance.Project
	categories []finance.Category

	persisted   []*finance.Transaction
	created     []*finance.Project
	statusSet   map[string]string
	persistErr  error
	listErr     error
	listCalls   int
	persistTrys int
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		categories: []finance.Category{
			{ID: "c1", Name: "Groceries"},
			{ID: "c2", Name: "Transport"},
		},
		statusSet: make(map[string]string),
	}
}

func (f *fakeLedger) PersistTransaction(_ context.Context, tx *finance.Transaction) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.persistTrys++
	if f.persistErr != nil {
		return "", f.persistErr
	}
	f.persisted = append(f.persisted, tx)
	return tx.ID, nil
}

func (f *fakeLedger) ListOpenProjects(_ context.Context, _ string) ([]finance.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.open, nil
}

func (f *fakeLedger) ListClosedProjects(_ context.Context, _ string) ([]finance.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed, nil
}

func (f *fakeLedger) SetProjectStatus(_ context.Context, _, projectID, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusSet[projectID] = status
	return nil
}

func (f *fakeLedger) CreateProject(_ context.Context, p *finance.Project) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, p)
	return nil
}

func (f *fakeLedger) ListCategories(_ context.Context, _, _ string) ([]finance.Category, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.categories, nil
}

func (f *fakeLedger) Summarize(_ context.Context, _ string, year int, month time.Month) (*finance.MonthSummary, error) {
	return &finance.MonthSummary{Year: year, Month: month}, nil
}

func newTestEngine(t *testing.T, ledger *fakeLedger) (*Engine, *convo.Store) {
	t.Helper()
	sessions := convo.NewStore(0)
	return NewEngine(sessions, ledger, nil, nil), sessions
}

func TestEngine_ExpenseFlowWithoutProjects(t *testing.T) {
	ledger := newFakeLedger()
	eng, sessions := newTestEngine(t, ledger)
	ctx := context.Background()

	prompt, err := eng.Begin(ctx, "user-1", convo.FlowCreateExpense)
	require.NoError(t, err)
	assert.Contains(t, prompt, "When was the expense")

	prompt, err = eng.HandleInput(ctx, "user-1", "2025-01-15")
	require.NoError(t, err)
	assert.Contains(t, prompt, "Which store")

	prompt, err = eng.HandleInput(ctx, "user-1", "Walmart")
	require.NoError(t, err)
	assert.Contains(t, prompt, "1) Groceries")

	prompt, err = eng.HandleInput(ctx, "user-1", "1")
	require.NoError(t, err)
	assert.Contains(t, prompt, "How much")

	reply, err := eng.HandleInput(ctx, "user-1", "25.99")
	require.NoError(t, err)
	assert.Contains(t, reply, "Recorded expense of 25.99 on 2025-01-15 at Walmart")

	require.Len(t, ledger.persisted, 1)
	tx := ledger.persisted[0]
	assert.Equal(t, finance.TypeExpense, tx.Type)
	assert.Nil(t, tx.ProjectID, "no open projects means the general ledger")
	assert.Equal(t, "Groceries", tx.Category)
	assert.True(t, tx.Amount.Equal(decimal.RequireFromString("25.99")))
	assert.Equal(t, time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC), tx.Date)

	_, active := sessions.Get("user-1")
	assert.False(t, active, "session must be gone after commit")
}

func TestEngine_ExpenseFlowWithProjectSelection(t *testing.T) {
	ledger := newFakeLedger()
	ledger.open = []finance.Project{{ID: "p1", Name: "Kitchen remodel", Currency: "EUR"}}
	eng, _ := newTestEngine(t, ledger)
	ctx := context.Background()

	_, err := eng.Begin(ctx, "user-1", convo.FlowCreateExpense)
	require.NoError(t, err)

	for _, input := range []string{"2025-01-15", "Walmart", "1"} {
		_, err = eng.HandleInput(ctx, "user-1", input)
		require.NoError(t, err)
	}

	prompt, err := eng.HandleInput(ctx, "user-1", "25.99")
	require.NoError(t, err)
	assert.Contains(t, prompt, "1) Kitchen remodel", "project step follows the amount when projects exist")

	reply, err := eng.HandleInput(ctx, "user-1", "1")
	require.NoError(t, err)
	assert.Contains(t, reply, "Recorded")

	require.Len(t, ledger.persisted, 1)
	require.NotNil(t, ledger.persisted[0].ProjectID)
	assert.Equal(t, "p1", *ledger.persisted[0].ProjectID)
	assert.Equal(t, 1, ledger.listCalls, "project list is memoized at flow start")
}

func TestEngine_ProjectSelectionZeroMeansGeneral(t *testing.T) {
	ledger := newFakeLedger()
	ledger.open = []finance.Project{{ID: "p1", Name: "Trip", Currency: "USD"}}
	eng, _ := newTestEngine(t, ledger)
	ctx := context.Background()

	_, err := eng.Begin(ctx, "user-1", convo.FlowCreateExpense)
	require.NoError(t, err)
	for _, input := range []string{"2025-01-15", "Walmart", "1", "25.99"} {
		_, err = eng.HandleInput(ctx, "user-1", input)
		require.NoError(t, err)
	}

	_, err = eng.HandleInput(ctx, "user-1", "0")
	require.NoError(t, err)
	require.Len(t, ledger.persisted, 1)
	assert.Nil(t, ledger.persisted[0].ProjectID)
}

func TestEngine_InvalidInputNeverAdvances(t *testing.T) {
	ledger := newFakeLedger()
	eng, sessions := newTestEngine(t, ledger)
	ctx := context.Background()

	_, err := eng.Begin(ctx, "user-1", convo.FlowCreateExpense)
	require.NoError(t, err)

	for _, bad := range []string{"not a date", "15/01/2025", "2025-13-99", ""} {
		reply, err := eng.HandleInput(ctx, "user-1", bad)
		require.NoError(t, err)
		assert.Contains(t, reply, "When was the expense", "error reply repeats the step's instructions")

		sess, ok := sessions.Get("user-1")
		require.True(t, ok)
		assert.Equal(t, 0, sess.Step, "step index must not advance on invalid input")
	}

	_, err = eng.HandleInput(ctx, "user-1", "2025-01-15")
	require.NoError(t, err)
	sess, _ := sessions.Get("user-1")
	assert.Equal(t, 1, sess.Step)
}

func TestEngine_StepIndexMonotonic(t *testing.T) {
	ledger := newFakeLedger()
	eng, sessions := newTestEngine(t, ledger)
	ctx := context.Background()

	_, err := eng.Begin(ctx, "user-1", convo.FlowCreateExpense)
	require.NoError(t, err)

	last := 0
	inputs := []string{"garbage", "2025-01-15", "", "Walmart", "9", "1", "-4", "x"}
	for _, input := range inputs {
		_, err := eng.HandleInput(ctx, "user-1", input)
		require.NoError(t, err)
		sess, ok := sessions.Get("user-1")
		require.True(t, ok)
		assert.GreaterOrEqual(t, sess.Step, last, "step index never decreases")
		last = sess.Step
	}
}

func TestEngine_CancellationAtEveryStep(t *testing.T) {
	ledger := newFakeLedger()
	ledger.open = []finance.Project{{ID: "p1", Name: "Trip", Currency: "USD"}}
	eng, sessions := newTestEngine(t, ledger)
	ctx := context.Background()

	inputs := []string{"2025-01-15", "Walmart", "1", "25.99"}
	for stop := 0; stop <= len(inputs); stop++ {
		_, err := eng.Begin(ctx, "user-1", convo.FlowCreateExpense)
		require.NoError(t, err)

		for i := 0; i < stop; i++ {
			_, err = eng.HandleInput(ctx, "user-1", inputs[i])
			require.NoError(t, err)
		}

		reply, err := eng.HandleInput(ctx, "user-1", "/cancel")
		require.NoError(t, err)
		assert.Contains(t, reply, "cancelled")

		_, active := sessions.Get("user-1")
		assert.False(t, active, "cancel at step %d must clear the session", stop)
		assert.Empty(t, ledger.persisted, "cancel must never commit")
	}
}

func TestEngine_CommitFailureEndsSession(t *testing.T) {
	ledger := newFakeLedger()
	ledger.persistErr = finance.NewError(finance.KindTransient, "persist", errors.New("db down"))
	eng, sessions := newTestEngine(t, ledger)
	ctx := context.Background()

	_, err := eng.Begin(ctx, "user-1", convo.FlowCreateExpense)
	require.NoError(t, err)
	for _, input := range []string{"2025-01-15", "Walmart", "1"} {
		_, err = eng.HandleInput(ctx, "user-1", input)
		require.NoError(t, err)
	}

	reply, err := eng.HandleInput(ctx, "user-1", "25.99")
	require.NoError(t, err)
	assert.Contains(t, reply, "re-issue the command")

	_, active := sessions.Get("user-1")
	assert.False(t, active, "failed commit must not leave a resumable session")
	assert.Equal(t, 1, ledger.persistTrys, "commit is attempted exactly once, never retried")

	// A fresh flow starts from scratch.
	prompt, err := eng.Begin(ctx, "user-1", convo.FlowCreateExpense)
	require.NoError(t, err)
	assert.Contains(t, prompt, "When was the expense")
}

func TestEngine_BeginWhileBusy(t *testing.T) {
	ledger := newFakeLedger()
	eng, _ := newTestEngine(t, ledger)
	ctx := context.Background()

	_, err := eng.Begin(ctx, "user-1", convo.FlowCreateExpense)
	require.NoError(t, err)

	reply, err := eng.Begin(ctx, "user-1", convo.FlowCreateIncome)
	require.NoError(t, err)
	assert.Contains(t, reply, "/cancel")
}

func TestEngine_BeginNoCategories(t *testing.T) {
	ledger := newFakeLedger()
	ledger.categories = nil
	eng, sessions := newTestEngine(t, ledger)

	reply, err := eng.Begin(context.Background(), "user-1", convo.FlowCreateExpense)
	require.NoError(t, err)
	assert.Contains(t, reply, "no categories")
	_, active := sessions.Get("user-1")
	assert.False(t, active)
}

func TestEngine_BeginTransientListFailure(t *testing.T) {
	ledger := newFakeLedger()
	ledger.listErr = finance.NewError(finance.KindTransient, "list", errors.New("timeout"))
	eng, sessions := newTestEngine(t, ledger)

	reply, err := eng.Begin(context.Background(), "user-1", convo.FlowCloseProject)
	require.NoError(t, err)
	assert.Contains(t, reply, "re-issue the command")
	_, active := sessions.Get("user-1")
	assert.False(t, active)
}

func TestEngine_IncomeFlow(t *testing.T) {
	ledger := newFakeLedger()
	eng, _ := newTestEngine(t, ledger)
	ctx := context.Background()

	prompt, err := eng.Begin(ctx, "user-1", convo.FlowCreateIncome)
	require.NoError(t, err)
	assert.Contains(t, prompt, "When was the income")

	for _, input := range []string{"2025-02-01", "Acme Corp", "2"} {
		_, err = eng.HandleInput(ctx, "user-1", input)
		require.NoError(t, err)
	}
	reply, err := eng.HandleInput(ctx, "user-1", "1500")
	require.NoError(t, err)
	assert.Contains(t, reply, "Recorded income of 1500.00 on 2025-02-01 from Acme Corp")

	require.Len(t, ledger.persisted, 1)
	assert.Equal(t, finance.TypeIncome, ledger.persisted[0].Type)
	assert.Equal(t, "Transport", ledger.persisted[0].Category)
}

func TestEngine_CreateProjectFlow(t *testing.T) {
	ledger := newFakeLedger()
	eng, _ := newTestEngine(t, ledger)
	ctx := context.Background()

	prompt, err := eng.Begin(ctx, "user-1", convo.FlowCreateProject)
	require.NoError(t, err)
	assert.Contains(t, prompt, "called")

	_, err = eng.HandleInput(ctx, "user-1", "Kitchen remodel")
	require.NoError(t, err)

	// Bad currency is re-prompted.
	reply, err := eng.HandleInput(ctx, "user-1", "euros")
	require.NoError(t, err)
	assert.Contains(t, reply, "three-letter")

	reply, err = eng.HandleInput(ctx, "user-1", "eur")
	require.NoError(t, err)
	assert.Contains(t, reply, `Project "Kitchen remodel" created (EUR)`)

	require.Len(t, ledger.created, 1)
	assert.Equal(t, "EUR", ledger.created[0].Currency)
	assert.Equal(t, finance.ProjectOpen, ledger.created[0].Status)
}

func TestEngine_CloseProjectFlow(t *testing.T) {
	ledger := newFakeLedger()
	ledger.open = []finance.Project{
		{ID: "p1", Name: "Trip", Currency: "USD"},
		{ID: "p2", Name: "Kitchen", Currency: "EUR"},
	}
	eng, _ := newTestEngine(t, ledger)
	ctx := context.Background()

	prompt, err := eng.Begin(ctx, "user-1", convo.FlowCloseProject)
	require.NoError(t, err)
	assert.Contains(t, prompt, "2) Kitchen")

	reply, err := eng.HandleInput(ctx, "user-1", "2")
	require.NoError(t, err)
	assert.Contains(t, reply, "closed")
	assert.Equal(t, finance.ProjectClosed, ledger.statusSet["p2"])
}

func TestEngine_OpenProjectFlow(t *testing.T) {
	ledger := newFakeLedger()
	ledger.closed = []finance.Project{{ID: "p9", Name: "Garden", Currency: "EUR"}}
	eng, _ := newTestEngine(t, ledger)
	ctx := context.Background()

	_, err := eng.Begin(ctx, "user-1", convo.FlowOpenProject)
	require.NoError(t, err)

	reply, err := eng.HandleInput(ctx, "user-1", "1")
	require.NoError(t, err)
	assert.Contains(t, reply, "reopened")
	assert.Equal(t, finance.ProjectOpen, ledger.statusSet["p9"])
}

func TestEngine_CloseProjectNothingToClose(t *testing.T) {
	ledger := newFakeLedger()
	eng, sessions := newTestEngine(t, ledger)

	reply, err := eng.Begin(context.Background(), "user-1", convo.FlowCloseProject)
	require.NoError(t, err)
	assert.Contains(t, reply, "no open projects")
	_, active := sessions.Get("user-1")
	assert.False(t, active)
}

func TestEngine_BeginReceiptNoProjectsCommitsDirectly(t *testing.T) {
	ledger := newFakeLedger()
	eng, sessions := newTestEngine(t, ledger)

	receipt := &finance.Receipt{
		Date:     time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC),
		Merchant: "Lidl",
		Category: "Groceries",
		Amount:   decimal.RequireFromString("12.50"),
	}
	reply, err := eng.BeginReceipt(context.Background(), "user-1", receipt)
	require.NoError(t, err)
	assert.Contains(t, reply, "Recorded expense of 12.50")

	require.Len(t, ledger.persisted, 1)
	assert.Nil(t, ledger.persisted[0].ProjectID)
	_, active := sessions.Get("user-1")
	assert.False(t, active)
}

func TestEngine_BeginReceiptWithProjectsStartsSelection(t *testing.T) {
	ledger := newFakeLedger()
	ledger.open = []finance.Project{{ID: "p1", Name: "Trip", Currency: "USD"}}
	eng, sessions := newTestEngine(t, ledger)
	ctx := context.Background()

	receipt := &finance.Receipt{
		Date:     time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC),
		Merchant: "Lidl",
		Category: "Groceries",
		Amount:   decimal.RequireFromString("12.50"),
	}
	prompt, err := eng.BeginReceipt(ctx, "user-1", receipt)
	require.NoError(t, err)
	assert.Contains(t, prompt, "1) Trip")
	assert.Empty(t, ledger.persisted, "nothing committed until the selection is made")

	sess, active := sessions.Get("user-1")
	require.True(t, active)
	assert.Equal(t, convo.FlowProjectSelect, sess.Flow)

	reply, err := eng.HandleInput(ctx, "user-1", "1")
	require.NoError(t, err)
	assert.Contains(t, reply, "Recorded")
	require.Len(t, ledger.persisted, 1)
	require.NotNil(t, ledger.persisted[0].ProjectID)
	assert.Equal(t, "p1", *ledger.persisted[0].ProjectID)
}

func TestEngine_BeginReceiptWhileBusy(t *testing.T) {
	ledger := newFakeLedger()
	eng, _ := newTestEngine(t, ledger)
	ctx := context.Background()

	_, err := eng.Begin(ctx, "user-1", convo.FlowCreateExpense)
	require.NoError(t, err)

	receipt := &finance.Receipt{Date: time.Now(), Merchant: "Lidl", Amount: decimal.New(1, 0)}
	reply, err := eng.BeginReceipt(ctx, "user-1", receipt)
	require.NoError(t, err)
	assert.Contains(t, reply, "/cancel")
	assert.Empty(t, ledger.persisted)
}

func TestEngine_HandleInputWithoutSession(t *testing.T) {
	ledger := newFakeLedger()
	eng, _ := newTestEngine(t, ledger)

	_, err := eng.HandleInput(context.Background(), "user-1", "hello")
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestIsCancel(t *testing.T) {
	assert.True(t, IsCancel("/cancel"))
	assert.True(t, IsCancel("CANCEL"))
	assert.True(t, IsCancel("  /Cancel "))
	assert.False(t, IsCancel("cancellation"))
	assert.False(t, IsCancel("/expense"))
}
