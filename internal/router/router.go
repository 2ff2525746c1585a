// ABOUTME: Classifies inbound events and dispatches to the engine or command handlers.
// ABOUTME: Photos terminate into the same state machine as manual entry - one commit path.

package router

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/pennyworth/pennyworth/internal/convo"
	"github.com/pennyworth/pennyworth/internal/finance"
	"github.com/pennyworth/pennyworth/internal/flow"
	"github.com/pennyworth/pennyworth/internal/logdedupe"
	"github.com/pennyworth/pennyworth/internal/ratelimit"
)

// Photo is an inbound receipt image.
type Photo struct {
	Data     []byte
	MimeType string
	// Grouped marks photos sent as part of an album. Only single
	// submissions are accepted, to bound extraction cost.
	Grouped bool
}

// Event is one inbound message from a user's transport session. Exactly one
// of Text or Photo is set.
type Event struct {
	Text  string
	Photo *Photo
}

// Limits holds the rate-limit budgets the router enforces.
type Limits struct {
	TextLimit      int
	TextWindow     time.Duration
	PhotoLimit     int
	PhotoWindow    time.Duration
	ExtractTimeout time.Duration
}

// DefaultLimits returns the production defaults.
func DefaultLimits() Limits {
	return Limits{
		TextLimit:      20,
		TextWindow:     time.Minute,
		PhotoLimit:     3,
		PhotoWindow:    time.Minute,
		ExtractTimeout: 30 * time.Second,
	}
}

const (
	replyRateLimited      = "Slow down a little - try again in a minute."
	replyPhotoRateLimited = "I can only read a few receipts per minute. Give me a moment."
	replyGroupedPhoto     = "Please send receipts one photo at a time."
	replyNotUnderstood    = "I didn't understand that. Send /help to see what I can do."
	replyNothingToCancel  = "Nothing to cancel."
	replyInternal         = "Something went wrong on my side. Please try again."
)

const helpText = `Here's what I can do:
/expense - record an expense step by step
/income - record an income
/newproject - create a project
/closeproject - close an open project
/openproject - reopen a closed project
/projects - list your open projects
/summary [YYYY-MM] - monthly totals by category
/cancel - abort the current dialog
You can also just send me a photo of a receipt.`

// Router routes one user's inbound events. It holds no per-user state of its
// own; conversation state lives in the session store and is only ever
// written through the engine.
type Router struct {
	engine    *flow.Engine
	sessions  *convo.Store
	limiter   *ratelimit.Limiter
	ledger    finance.Ledger
	extractor finance.Extractor
	limits    Limits
	logger    *slog.Logger
	errLog    *logdedupe.Suppressor

	commands map[string]func(ctx context.Context, userID, args string) string
}

// New creates a router. errLog may be nil to disable log deduplication.
func New(engine *flow.Engine, sessions *convo.Store, limiter *ratelimit.Limiter, ledger finance.Ledger, extractor finance.Extractor, limits Limits, errLog *logdedupe.Suppressor, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Router{
		engine:    engine,
		sessions:  sessions,
		limiter:   limiter,
		ledger:    ledger,
		extractor: extractor,
		limits:    limits,
		logger:    logger.With("component", "router"),
		errLog:    errLog,
	}
	r.commands = map[string]func(ctx context.Context, userID, args string) string{
		"/start":        r.cmdHelp,
		"/help":         r.cmdHelp,
		"/expense":      r.startFlow(convo.FlowCreateExpense),
		"/income":       r.startFlow(convo.FlowCreateIncome),
		"/newproject":   r.startFlow(convo.FlowCreateProject),
		"/closeproject": r.startFlow(convo.FlowCloseProject),
		"/openproject":  r.startFlow(convo.FlowOpenProject),
		"/projects":     r.cmdProjects,
		"/summary":      r.cmdSummary,
	}
	return r
}

// Route handles one inbound event and returns the reply to send. It never
// returns an error: faults are logged and answered with a generic message so
// a single bad event cannot take down the session worker.
func (r *Router) Route(ctx context.Context, userID string, ev Event) string {
	if ev.Photo != nil {
		return r.routePhoto(ctx, userID, ev.Photo)
	}
	return r.routeText(ctx, userID, ev.Text)
}

func (r *Router) routeText(ctx context.Context, userID, text string) string {
	if !r.limiter.Allow(userID, ratelimit.ActionText, r.limits.TextLimit, r.limits.TextWindow) {
		return replyRateLimited
	}

	// Cancellation is honored before anything else.
	if flow.IsCancel(text) {
		if _, active := r.sessions.Get(userID); !active {
			return replyNothingToCancel
		}
		return r.handleConversation(ctx, userID, text)
	}

	if _, active := r.sessions.Get(userID); active {
		return r.handleConversation(ctx, userID, text)
	}

	name, args := splitCommand(text)
	if handler, ok := r.commands[name]; ok {
		return handler(ctx, userID, args)
	}
	return replyNotUnderstood
}

func (r *Router) routePhoto(ctx context.Context, userID string, photo *Photo) string {
	if !r.limiter.Allow(userID, ratelimit.ActionPhoto, r.limits.PhotoLimit, r.limits.PhotoWindow) {
		return replyPhotoRateLimited
	}
	if photo.Grouped {
		return replyGroupedPhoto
	}

	ectx, cancel := context.WithTimeout(ctx, r.limits.ExtractTimeout)
	defer cancel()
	receipt, err := r.extractor.ExtractReceipt(ectx, photo.Data, photo.MimeType)
	if err != nil {
		r.logFault(userID, "extract receipt", err)
		if finance.IsTransient(err) {
			return "I couldn't read that receipt just now. Please send it again in a bit."
		}
		return "I couldn't make sense of that photo. You can enter it manually with /expense."
	}

	reply, err := r.engine.BeginReceipt(ctx, userID, receipt)
	if err != nil {
		r.logFault(userID, "begin receipt flow", err)
		return replyInternal
	}
	return reply
}

// handleConversation forwards input to the engine, shielding the worker from
// engine faults.
func (r *Router) handleConversation(ctx context.Context, userID, text string) string {
	reply, err := r.engine.HandleInput(ctx, userID, text)
	if err != nil {
		r.logFault(userID, "handle input", err)
		return replyInternal
	}
	return reply
}

func (r *Router) startFlow(kind convo.FlowKind) func(ctx context.Context, userID, args string) string {
	return func(ctx context.Context, userID, _ string) string {
		reply, err := r.engine.Begin(ctx, userID, kind)
		if err != nil {
			r.logFault(userID, "begin flow "+string(kind), err)
			return replyInternal
		}
		return reply
	}
}

func (r *Router) cmdHelp(_ context.Context, _, _ string) string {
	return helpText
}

func (r *Router) cmdProjects(ctx context.Context, userID, _ string) string {
	projects, err := r.ledger.ListOpenProjects(ctx, userID)
	if err != nil {
		r.logFault(userID, "list open projects", err)
		if finance.IsTransient(err) {
			return "I couldn't fetch your projects just now. Please try again."
		}
		return replyInternal
	}
	if len(projects) == 0 {
		return "You have no open projects. Start one with /newproject."
	}
	var b strings.Builder
	b.WriteString("Open projects:\n")
	for _, p := range projects {
		fmt.Fprintf(&b, "- %s (%s)\n", p.Name, p.Currency)
	}
	return strings.TrimRight(b.String(), "\n")
}

func (r *Router) cmdSummary(ctx context.Context, userID, args string) string {
	year, month, err := parseMonthArg(args)
	if err != nil {
		return "Use /summary or /summary YYYY-MM."
	}

	summary, lerr := r.ledger.Summarize(ctx, userID, year, month)
	if lerr != nil {
		r.logFault(userID, "summarize", lerr)
		if finance.IsTransient(lerr) {
			return "I couldn't build the summary just now. Please try again."
		}
		return replyInternal
	}

	if len(summary.ByCategory) == 0 {
		return fmt.Sprintf("No expenses recorded for %04d-%02d.", year, int(month))
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Spending in %04d-%02d: %s\n", year, int(month), summary.Total.StringFixed(2))
	for _, c := range summary.ByCategory {
		fmt.Fprintf(&b, "- %s: %s\n", c.Name, c.Amount.StringFixed(2))
	}
	return strings.TrimRight(b.String(), "\n")
}

// logFault records an unexpected failure, deduplicating repeated signatures
// from the same user.
func (r *Router) logFault(userID, op string, err error) {
	signature := op + ":" + finance.KindOf(err).String()
	if r.errLog != nil && r.errLog.Suppress(userID, signature) {
		return
	}
	r.logger.Error("event handling failed",
		"user_id", userID,
		"op", op,
		"error", err)
}

// splitCommand separates "/summary 2025-01" into the command name and its
// argument string. Matching is case-insensitive on the name.
func splitCommand(text string) (name, args string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ""
	}
	parts := strings.SplitN(text, " ", 2)
	name = strings.ToLower(parts[0])
	if i := strings.Index(name, "@"); i > 0 {
		// Commands may arrive addressed as /summary@botname.
		name = name[:i]
	}
	if len(parts) == 2 {
		args = strings.TrimSpace(parts[1])
	}
	return name, args
}

// parseMonthArg parses an optional YYYY-MM argument, defaulting to the
// current month.
func parseMonthArg(args string) (int, time.Month, error) {
	if strings.TrimSpace(args) == "" {
		now := time.Now()
		return now.Year(), now.Month(), nil
	}
	t, err := time.Parse("2006-01", strings.TrimSpace(args))
	if err != nil {
		return 0, 0, err
	}
	return t.Year(), t.Month(), nil
}
