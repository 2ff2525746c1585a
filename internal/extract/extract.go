// ABOUTME: Receipt field extraction from photos using a vision chat model.
// ABOUTME: Sends the image to the model and parses the structured JSON reply.

package extract

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/shopspring/decimal"

	"github.com/pennyworth/pennyworth/internal/finance"
)

const systemPrompt = `You extract structured data from receipt photos.
Reply with a single JSON object and nothing else:
{"date": "YYYY-MM-DD", "merchant": "...", "category": "...", "amount": "123.45"}
Use the receipt's purchase date. If a field is unreadable, use an empty string.`

// Config holds the vision model settings.
type Config struct {
	APIKey  string
	Model   string
	BaseURL string
}

// Extractor implements finance.Extractor on top of a vision chat model.
type Extractor struct {
	model  model.BaseChatModel
	logger *slog.Logger
}

// New creates an extractor backed by an Ark vision model.
func New(ctx context.Context, cfg Config) (*Extractor, error) {
	cm, err := ark.NewChatModel(ctx, &ark.ChatModelConfig{
		BaseURL: cfg.BaseURL,
		APIKey:  cfg.APIKey,
		Model:   cfg.Model,
	})
	if err != nil {
		return nil, fmt.Errorf("creating vision model: %w", err)
	}
	return NewWithModel(cm), nil
}

// NewWithModel creates an extractor around an existing chat model.
func NewWithModel(cm model.BaseChatModel) *Extractor {
	return &Extractor{
		model:  cm,
		logger: slog.Default().With("component", "extract"),
	}
}

// ExtractReceipt sends the photo to the model and parses its reply into a
// Receipt. Timeouts and cancellations surface as transient errors so callers
// can invite a retry.
func (e *Extractor) ExtractReceipt(ctx context.Context, image []byte, mimeType string) (*finance.Receipt, error) {
	dataURL := fmt.Sprintf("data:%s;base64,%s", mimeType, base64.StdEncoding.EncodeToString(image))

	messages := []*schema.Message{
		schema.SystemMessage(systemPrompt),
		{
			Role: schema.User,
			MultiContent: []schema.ChatMessagePart{
				{
					Type:     schema.ChatMessagePartTypeImageURL,
					ImageURL: &schema.ChatMessageImageURL{URL: dataURL},
				},
				{
					Type: schema.ChatMessagePartTypeText,
					Text: "Extract the receipt fields.",
				},
			},
		},
	}

	reply, err := e.model.Generate(ctx, messages)
	if err != nil {
		// Model invocation failures are retryable from the user's side,
		// whether timeout, cancellation, or an upstream API error.
		return nil, finance.NewError(finance.KindTransient, "extract receipt", err)
	}
	if reply == nil || strings.TrimSpace(reply.Content) == "" {
		return nil, finance.NewError(finance.KindInvalid, "extract receipt",
			errors.New("model returned an empty reply"))
	}

	receipt, err := parseReply(reply.Content)
	if err != nil {
		e.logger.Warn("unparseable extraction reply", "error", err)
		return nil, finance.NewError(finance.KindInvalid, "extract receipt", err)
	}
	return receipt, nil
}

type rawReceipt struct {
	Date     string `json:"date"`
	Merchant string `json:"merchant"`
	Category string `json:"category"`
	Amount   string `json:"amount"`
}

// parseReply decodes the model's JSON output, tolerating markdown fences.
func parseReply(content string) (*finance.Receipt, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)

	var raw rawReceipt
	if err := json.Unmarshal([]byte(content), &raw); err != nil {
		return nil, fmt.Errorf("decoding model reply: %w", err)
	}

	if raw.Amount == "" {
		return nil, errors.New("model reply is missing the amount")
	}
	amount, err := decimal.NewFromString(strings.ReplaceAll(raw.Amount, ",", "."))
	if err != nil {
		return nil, fmt.Errorf("parsing amount %q: %w", raw.Amount, err)
	}
	if !amount.IsPositive() {
		return nil, fmt.Errorf("amount %s is not positive", amount)
	}

	now := time.Now().UTC()
	date := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	if raw.Date != "" {
		parsed, err := time.Parse("2006-01-02", raw.Date)
		if err != nil {
			return nil, fmt.Errorf("parsing date %q: %w", raw.Date, err)
		}
		date = parsed
	}

	merchant := strings.TrimSpace(raw.Merchant)
	if merchant == "" {
		merchant = "Unknown"
	}
	category := strings.TrimSpace(raw.Category)
	if category == "" {
		category = "Other"
	}

	return &finance.Receipt{
		Date:     date,
		Merchant: merchant,
		Category: category,
		Amount:   amount,
	}, nil
}
