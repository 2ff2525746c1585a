// ABOUTME: The conversation state machine - advances sessions step by step.
// ABOUTME: One generic loop consumes the declarative step tables and runs commits.

package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/pennyworth/pennyworth/internal/convo"
	"github.com/pennyworth/pennyworth/internal/finance"
	"github.com/pennyworth/pennyworth/internal/logdedupe"
)

// ErrNoSession indicates HandleInput was dispatched without an active
// conversation. This is a routing bug, not a user error.
var ErrNoSession = errors.New("no active session for input")

// ErrUnknownFlow indicates a session references a flow kind missing from the
// step tables.
var ErrUnknownFlow = errors.New("unknown flow kind")

// CancelToken is the in-band cancellation command, honored at every step
// before any validation.
const CancelToken = "/cancel"

// IsCancel reports whether the input is the cancellation token.
func IsCancel(input string) bool {
	t := strings.ToLower(strings.TrimSpace(input))
	return t == CancelToken || t == "cancel"
}

const defaultCommitTimeout = 10 * time.Second

// Engine drives guided flows: it validates one input at a time, advances the
// session, and runs the terminal commit against the ledger.
type Engine struct {
	sessions *convo.Store
	ledger   finance.Ledger
	flows    map[convo.FlowKind]*Definition
	logger   *slog.Logger
	errLog   *logdedupe.Suppressor
	timeout  time.Duration
	now      func() time.Time
}

// NewEngine creates an engine over the given session store and ledger.
// errLog may be nil to disable error-log suppression.
func NewEngine(sessions *convo.Store, ledger finance.Ledger, errLog *logdedupe.Suppressor, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	now := time.Now
	return &Engine{
		sessions: sessions,
		ledger:   ledger,
		flows:    definitions(now),
		logger:   logger.With("component", "flow"),
		errLog:   errLog,
		timeout:  defaultCommitTimeout,
		now:      now,
	}
}

// Begin starts a flow for the user and returns the first prompt. Flow-start
// collaborator queries (open projects, categories) run here once and are
// memoized into the session so later steps never re-query.
func (e *Engine) Begin(ctx context.Context, userID string, kind convo.FlowKind) (string, error) {
	def, ok := e.flows[kind]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownFlow, kind)
	}

	initial, earlyReply, err := e.seedFields(ctx, userID, kind)
	if err != nil {
		return e.collaboratorFailReply(userID, "flow start", err), nil
	}
	if earlyReply != "" {
		return earlyReply, nil
	}

	sess, err := e.sessions.Start(userID, kind, initial)
	if err != nil {
		if errors.Is(err, convo.ErrAlreadyInConversation) {
			return "You're in the middle of something. Finish it or send /cancel first.", nil
		}
		return "", err
	}

	idx, step, ok := nextApplicable(def, sess, 0)
	if !ok {
		// Every flow has at least one step; defend anyway.
		e.sessions.End(userID)
		return "", fmt.Errorf("flow %s has no applicable steps", kind)
	}
	if idx != sess.Step {
		if err := e.sessions.Advance(userID, idx, nil); err != nil {
			return "", err
		}
	}
	return step.Prompt(sess), nil
}

// BeginReceipt starts the project-selection flow seeded with extracted
// receipt data. With no open projects it commits directly against the
// general ledger, skipping the dialog entirely.
func (e *Engine) BeginReceipt(ctx context.Context, userID string, receipt *finance.Receipt) (string, error) {
	if _, busy := e.sessions.Get(userID); busy {
		return "You're in the middle of something. Finish it or send /cancel before sending receipts.", nil
	}

	fields := map[string]any{
		fieldType:     finance.TypeExpense,
		fieldDate:     receipt.Date,
		fieldMerchant: receipt.Merchant,
		fieldCategory: receipt.Category,
		fieldAmount:   receipt.Amount,
	}

	qctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	projects, err := e.ledger.ListOpenProjects(qctx, userID)
	if err != nil {
		return e.collaboratorFailReply(userID, "list open projects", err), nil
	}

	if len(projects) == 0 {
		fields[fieldProject] = (*string)(nil)
		return e.commitTransaction(ctx, userID, fields), nil
	}

	fields[fieldProjects] = projects
	sess, err := e.sessions.Start(userID, convo.FlowProjectSelect, fields)
	if err != nil {
		return "", err
	}
	return "Got it: " + describeTransaction(fields) + "\n" + promptProject(sess), nil
}

// HandleInput advances the user's active flow by one step per the state
// machine: cancellation first, then validation, then advance or commit.
func (e *Engine) HandleInput(ctx context.Context, userID, input string) (string, error) {
	sess, ok := e.sessions.Get(userID)
	if !ok {
		return "", ErrNoSession
	}
	def, ok := e.flows[sess.Flow]
	if !ok {
		e.sessions.End(userID)
		return "", fmt.Errorf("%w: %s", ErrUnknownFlow, sess.Flow)
	}

	if IsCancel(input) {
		e.sessions.End(userID)
		return "Okay, cancelled.", nil
	}

	idx, step, ok := nextApplicable(def, sess, sess.Step)
	if !ok {
		e.sessions.End(userID)
		return "", fmt.Errorf("flow %s ran past its last step", sess.Flow)
	}

	value, problem := step.Validate(sess, input)
	if problem != "" {
		// Re-issue the same step's instructions; the step index never
		// advances on invalid input.
		return problem + " " + step.Prompt(sess), nil
	}

	if err := e.sessions.Advance(userID, idx+1, map[string]any{step.Field: value}); err != nil {
		return "", err
	}

	if nextIdx, next, more := nextApplicable(def, sess, idx+1); more {
		if nextIdx != sess.Step {
			if err := e.sessions.Advance(userID, nextIdx, nil); err != nil {
				return "", err
			}
		}
		return next.Prompt(sess), nil
	}

	return e.commit(ctx, sess), nil
}

// nextApplicable finds the first step at or after from whose Applies gate
// passes.
func nextApplicable(def *Definition, sess *convo.Session, from int) (int, *Step, bool) {
	for i := from; i < len(def.Steps); i++ {
		step := &def.Steps[i]
		if step.Applies == nil || step.Applies(sess) {
			return i, step, true
		}
	}
	return 0, nil, false
}

// seedFields runs the flow-start queries and builds the initial collected
// fields. earlyReply short-circuits flows that cannot start (e.g. nothing to
// close).
func (e *Engine) seedFields(ctx context.Context, userID string, kind convo.FlowKind) (initial map[string]any, earlyReply string, err error) {
	qctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	switch kind {
	case convo.FlowCreateExpense, convo.FlowCreateIncome:
		txType := finance.TypeExpense
		if kind == convo.FlowCreateIncome {
			txType = finance.TypeIncome
		}
		cats, err := e.ledger.ListCategories(qctx, userID, txType)
		if err != nil {
			return nil, "", err
		}
		if len(cats) == 0 {
			return nil, "You have no categories set up yet.", nil
		}
		projects, err := e.ledger.ListOpenProjects(qctx, userID)
		if err != nil {
			return nil, "", err
		}
		return map[string]any{
			fieldType:       txType,
			fieldCategories: cats,
			fieldProjects:   projects,
		}, "", nil

	case convo.FlowCloseProject:
		projects, err := e.ledger.ListOpenProjects(qctx, userID)
		if err != nil {
			return nil, "", err
		}
		if len(projects) == 0 {
			return nil, "You have no open projects.", nil
		}
		return map[string]any{fieldProjects: projects}, "", nil

	case convo.FlowOpenProject:
		projects, err := e.ledger.ListClosedProjects(qctx, userID)
		if err != nil {
			return nil, "", err
		}
		if len(projects) == 0 {
			return nil, "You have no closed projects.", nil
		}
		return map[string]any{fieldProjects: projects}, "", nil

	default:
		return map[string]any{}, "", nil
	}
}

// commit runs the flow's terminal action. The session always ends here,
// success or failure; a failed commit is reported with guidance to restart
// the flow, never retried.
func (e *Engine) commit(ctx context.Context, sess *convo.Session) string {
	userID := sess.UserID
	fields := sess.Fields

	switch sess.Flow {
	case convo.FlowCreateExpense, convo.FlowCreateIncome, convo.FlowProjectSelect:
		return e.commitTransaction(ctx, userID, fields)

	case convo.FlowCreateProject:
		e.sessions.End(userID)
		name, _ := fields[fieldName].(string)
		currency, _ := fields[fieldCurrency].(string)
		p := &finance.Project{
			ID:       uuid.New().String(),
			UserID:   userID,
			Name:     name,
			Currency: currency,
			Status:   finance.ProjectOpen,
		}
		cctx, cancel := context.WithTimeout(ctx, e.timeout)
		defer cancel()
		if err := e.ledger.CreateProject(cctx, p); err != nil {
			return e.collaboratorFailReply(userID, "create project", err)
		}
		return fmt.Sprintf("Project %q created (%s).", name, currency)

	case convo.FlowCloseProject, convo.FlowOpenProject:
		e.sessions.End(userID)
		status := finance.ProjectClosed
		verb := "closed"
		if sess.Flow == convo.FlowOpenProject {
			status = finance.ProjectOpen
			verb = "reopened"
		}
		id, _ := fields[fieldProject].(*string)
		if id == nil {
			e.logger.Error("project flow committed without a selection", "user_id", userID, "flow", sess.Flow)
			return "Something went wrong. Please start over."
		}
		cctx, cancel := context.WithTimeout(ctx, e.timeout)
		defer cancel()
		if err := e.ledger.SetProjectStatus(cctx, userID, *id, status); err != nil {
			return e.collaboratorFailReply(userID, "set project status", err)
		}
		return fmt.Sprintf("Project %s.", verb)

	default:
		e.sessions.End(userID)
		e.logger.Error("commit reached for unknown flow", "user_id", userID, "flow", sess.Flow)
		return "Something went wrong. Please start over."
	}
}

// commitTransaction persists an expense or income record built from the
// collected fields.
func (e *Engine) commitTransaction(ctx context.Context, userID string, fields map[string]any) string {
	e.sessions.End(userID)

	txType, _ := fields[fieldType].(string)
	date, _ := fields[fieldDate].(time.Time)
	merchant, _ := fields[fieldMerchant].(string)
	category, _ := fields[fieldCategory].(string)
	amount, _ := fields[fieldAmount].(decimal.Decimal)
	project, _ := fields[fieldProject].(*string)

	tx := &finance.Transaction{
		ID:        uuid.New().String(),
		UserID:    userID,
		ProjectID: project,
		Type:      txType,
		Date:      date,
		Merchant:  merchant,
		Category:  category,
		Amount:    amount,
		CreatedAt: e.now(),
	}

	cctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	if _, err := e.ledger.PersistTransaction(cctx, tx); err != nil {
		return e.collaboratorFailReply(userID, "persist transaction", err)
	}

	e.logger.Debug("transaction committed",
		"user_id", userID,
		"type", txType,
		"amount", amount.String(),
		"has_project", project != nil)
	return "Recorded " + describeTransaction(fields) + "."
}

// collaboratorFailReply logs a collaborator failure (deduplicated per user)
// and renders the user-facing message for its kind.
func (e *Engine) collaboratorFailReply(userID, op string, err error) string {
	kind := finance.KindOf(err)
	signature := op + ":" + kind.String()
	if e.errLog == nil || !e.errLog.Suppress(userID, signature) {
		e.logger.Error("collaborator call failed",
			"user_id", userID,
			"op", op,
			"kind", kind.String(),
			"error", err)
	}

	if kind == finance.KindTransient {
		return "I couldn't reach the ledger just now. Nothing was saved - please re-issue the command to try again."
	}
	return "Something went wrong and nothing was saved. Please start over."
}

// describeTransaction renders a short confirmation line from collected fields.
func describeTransaction(fields map[string]any) string {
	txType, _ := fields[fieldType].(string)
	date, _ := fields[fieldDate].(time.Time)
	merchant, _ := fields[fieldMerchant].(string)
	amount, _ := fields[fieldAmount].(decimal.Decimal)

	kind := "expense"
	prep := "at"
	if txType == finance.TypeIncome {
		kind = "income"
		prep = "from"
	}
	return fmt.Sprintf("%s of %s on %s %s %s", kind, amount.StringFixed(2), date.Format(dateLayout), prep, merchant)
}
