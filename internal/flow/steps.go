// ABOUTME: Declarative step specifications and input validators for guided flows.
// ABOUTME: Adding a flow means adding a table entry, not branching logic.

package flow

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pennyworth/pennyworth/internal/convo"
	"github.com/pennyworth/pennyworth/internal/finance"
)

// Field names written into a session's collected fields.
const (
	fieldType       = "type"       // finance.TypeExpense or TypeIncome
	fieldDate       = "date"       // time.Time
	fieldMerchant   = "merchant"   // string
	fieldCategory   = "category"   // string
	fieldAmount     = "amount"     // decimal.Decimal
	fieldProject    = "project"    // *string, nil for the general ledger
	fieldName       = "name"       // string, create-project
	fieldCurrency   = "currency"   // string, create-project
	fieldProjects   = "projects"   // []finance.Project, memoized at flow start
	fieldCategories = "categories" // []finance.Category, memoized at flow start
)

// Step is one prompt/validate/advance unit within a flow. Validate returns
// the parsed value on success, or a user-facing problem description that is
// prepended to the re-issued prompt. Applies gates steps whose presence was
// decided at flow start (nil means always).
type Step struct {
	Field    string
	Prompt   func(sess *convo.Session) string
	Validate func(sess *convo.Session, input string) (any, string)
	Applies  func(sess *convo.Session) bool
}

// Definition is the ordered step table for one flow kind plus its terminal
// commit action.
type Definition struct {
	Kind  convo.FlowKind
	Steps []Step
}

const dateLayout = "2006-01-02"

// dayOf drops the time-of-day component.
func dayOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// parseDate accepts YYYY-MM-DD plus the today/yesterday shorthands.
func parseDate(now func() time.Time) func(*convo.Session, string) (any, string) {
	return func(_ *convo.Session, input string) (any, string) {
		switch strings.ToLower(strings.TrimSpace(input)) {
		case "today":
			return dayOf(now()), ""
		case "yesterday":
			return dayOf(now().AddDate(0, 0, -1)), ""
		}
		d, err := time.Parse(dateLayout, strings.TrimSpace(input))
		if err != nil {
			return nil, "That doesn't look like a date."
		}
		return d, ""
	}
}

// parseText accepts any non-empty line.
func parseText(_ *convo.Session, input string) (any, string) {
	text := strings.TrimSpace(input)
	if text == "" {
		return nil, "I need a non-empty answer."
	}
	return text, ""
}

// parseAmount accepts a positive decimal with at most two fraction digits.
func parseAmount(_ *convo.Session, input string) (any, string) {
	raw := strings.TrimSpace(strings.ReplaceAll(input, ",", "."))
	amount, err := decimal.NewFromString(raw)
	if err != nil {
		return nil, "That doesn't look like a number."
	}
	if !amount.IsPositive() {
		return nil, "The amount must be positive."
	}
	if amount.Exponent() < -2 {
		return nil, "Use at most two decimal places."
	}
	return amount, ""
}

// parseCategorySelection resolves a 1-based index into the memoized
// category list and stores the category name.
func parseCategorySelection(sess *convo.Session, input string) (any, string) {
	cats := sessionCategories(sess)
	idx, err := strconv.Atoi(strings.TrimSpace(input))
	if err != nil || idx < 1 || idx > len(cats) {
		return nil, fmt.Sprintf("Pick a number between 1 and %d.", len(cats))
	}
	return cats[idx-1].Name, ""
}

// parseProjectSelection resolves a selection against the memoized project
// list. 0 books against the general ledger.
func parseProjectSelection(sess *convo.Session, input string) (any, string) {
	projects := sessionProjects(sess)
	idx, err := strconv.Atoi(strings.TrimSpace(input))
	if err != nil || idx < 0 || idx > len(projects) {
		return nil, fmt.Sprintf("Pick a number between 0 and %d.", len(projects))
	}
	if idx == 0 {
		return (*string)(nil), ""
	}
	id := projects[idx-1].ID
	return &id, ""
}

// parseCurrency accepts a three-letter currency code.
func parseCurrency(_ *convo.Session, input string) (any, string) {
	code := strings.ToUpper(strings.TrimSpace(input))
	if len(code) != 3 {
		return nil, "Use a three-letter currency code, like EUR or USD."
	}
	for _, r := range code {
		if r < 'A' || r > 'Z' {
			return nil, "Use a three-letter currency code, like EUR or USD."
		}
	}
	return code, ""
}

func promptDate(sess *convo.Session) string {
	what := "expense"
	if sess.Fields[fieldType] == finance.TypeIncome {
		what = "income"
	}
	return fmt.Sprintf("When was the %s? (YYYY-MM-DD, today or yesterday)", what)
}

func promptMerchant(sess *convo.Session) string {
	if sess.Fields[fieldType] == finance.TypeIncome {
		return "Where did the income come from?"
	}
	return "Which store was it?"
}

func promptCategory(sess *convo.Session) string {
	var b strings.Builder
	b.WriteString("Pick a category:\n")
	for i, c := range sessionCategories(sess) {
		fmt.Fprintf(&b, "%d) %s\n", i+1, c.Name)
	}
	return strings.TrimRight(b.String(), "\n")
}

func promptAmount(_ *convo.Session) string {
	return "How much? (e.g. 25.99)"
}

func promptProject(sess *convo.Session) string {
	var b strings.Builder
	b.WriteString("Book it on a project?\n0) General ledger\n")
	for i, p := range sessionProjects(sess) {
		fmt.Fprintf(&b, "%d) %s (%s)\n", i+1, p.Name, p.Currency)
	}
	return strings.TrimRight(b.String(), "\n")
}

func promptClosableProject(sess *convo.Session) string {
	var b strings.Builder
	b.WriteString("Which project should I close?\n")
	for i, p := range sessionProjects(sess) {
		fmt.Fprintf(&b, "%d) %s (%s)\n", i+1, p.Name, p.Currency)
	}
	return strings.TrimRight(b.String(), "\n")
}

func promptReopenableProject(sess *convo.Session) string {
	var b strings.Builder
	b.WriteString("Which project should I reopen?\n")
	for i, p := range sessionProjects(sess) {
		fmt.Fprintf(&b, "%d) %s (%s)\n", i+1, p.Name, p.Currency)
	}
	return strings.TrimRight(b.String(), "\n")
}

// parseMandatoryProjectSelection resolves a 1-based index, no general option.
func parseMandatoryProjectSelection(sess *convo.Session, input string) (any, string) {
	projects := sessionProjects(sess)
	idx, err := strconv.Atoi(strings.TrimSpace(input))
	if err != nil || idx < 1 || idx > len(projects) {
		return nil, fmt.Sprintf("Pick a number between 1 and %d.", len(projects))
	}
	id := projects[idx-1].ID
	return &id, ""
}

func hasProjects(sess *convo.Session) bool {
	return len(sessionProjects(sess)) > 0
}

func sessionProjects(sess *convo.Session) []finance.Project {
	projects, _ := sess.Fields[fieldProjects].([]finance.Project)
	return projects
}

func sessionCategories(sess *convo.Session) []finance.Category {
	cats, _ := sess.Fields[fieldCategories].([]finance.Category)
	return cats
}

// transactionSteps is the shared tail of the expense and income flows. The
// project step only applies when open projects were found at flow start.
func transactionSteps(now func() time.Time) []Step {
	return []Step{
		{Field: fieldDate, Prompt: promptDate, Validate: parseDate(now)},
		{Field: fieldMerchant, Prompt: promptMerchant, Validate: parseText},
		{Field: fieldCategory, Prompt: promptCategory, Validate: parseCategorySelection},
		{Field: fieldAmount, Prompt: promptAmount, Validate: parseAmount},
		{Field: fieldProject, Prompt: promptProject, Validate: parseProjectSelection, Applies: hasProjects},
	}
}

// definitions builds the full flow table.
func definitions(now func() time.Time) map[convo.FlowKind]*Definition {
	return map[convo.FlowKind]*Definition{
		convo.FlowCreateExpense: {
			Kind:  convo.FlowCreateExpense,
			Steps: transactionSteps(now),
		},
		convo.FlowCreateIncome: {
			Kind:  convo.FlowCreateIncome,
			Steps: transactionSteps(now),
		},
		convo.FlowCreateProject: {
			Kind: convo.FlowCreateProject,
			Steps: []Step{
				{Field: fieldName, Prompt: func(*convo.Session) string { return "What's the project called?" }, Validate: parseText},
				{Field: fieldCurrency, Prompt: func(*convo.Session) string { return "Project currency? (e.g. EUR)" }, Validate: parseCurrency},
			},
		},
		convo.FlowCloseProject: {
			Kind: convo.FlowCloseProject,
			Steps: []Step{
				{Field: fieldProject, Prompt: promptClosableProject, Validate: parseMandatoryProjectSelection},
			},
		},
		convo.FlowOpenProject: {
			Kind: convo.FlowOpenProject,
			Steps: []Step{
				{Field: fieldProject, Prompt: promptReopenableProject, Validate: parseMandatoryProjectSelection},
			},
		},
		convo.FlowProjectSelect: {
			Kind: convo.FlowProjectSelect,
			Steps: []Step{
				{Field: fieldProject, Prompt: promptProject, Validate: parseProjectSelection},
			},
		},
	}
}
