package generate

import (
	"context"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// NonTextBlock is the completion used when the first content block of a
// reply is not text.
const NonTextBlock = "ERR: got a block type other than text!"

// Model issues the single blocking request behind a completion: a user turn
// carrying the notebook and an assistant turn carrying the current draft.
type Model interface {
	Generate(ctx context.Context, userTurn, assistantTurn string) (string, error)
}

// GeneratorOptions configures a Generator.
type GeneratorOptions struct {
	BaseURL    string // empty = SDK default
	APIKey     string // empty = unauthenticated (SDK env fallback applies)
	Model      string
	MaxTokens  int
	MaxRetries int
	Timeout    time.Duration
}

// Generator performs text generation via the Anthropic Messages API.
// One Generator is built per extension activation and shared by every call.
type Generator struct {
	client    anthropic.Client
	model     string
	maxTokens int64
}

// NewGenerator creates a generator from options.
func NewGenerator(opts GeneratorOptions) *Generator {
	reqOpts := []option.RequestOption{option.WithMaxRetries(opts.MaxRetries)}
	if opts.APIKey != "" {
		reqOpts = append(reqOpts, option.WithAPIKey(opts.APIKey))
	}
	if opts.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(opts.BaseURL))
	}
	if opts.Timeout > 0 {
		reqOpts = append(reqOpts, option.WithRequestTimeout(opts.Timeout))
	}
	return &Generator{
		client:    anthropic.NewClient(reqOpts...),
		model:     opts.Model,
		maxTokens: int64(opts.MaxTokens),
	}
}

// Generate sends the two-turn exchange and returns the text of the first
// content block, or NonTextBlock when that block is not text.
func (g *Generator) Generate(ctx context.Context, userTurn, assistantTurn string) (string, error) {
	messages := []anthropic.MessageParam{
		anthropic.NewUserMessage(anthropic.NewTextBlock(strings.TrimSpace(userTurn))),
	}
	// The API rejects empty text blocks, so an empty draft drops the turn.
	if draft := strings.TrimSpace(assistantTurn); draft != "" {
		messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(draft)))
	}

	msg, err := g.client.Messages.New(ctx, anthropic.MessageNewParams{
		MaxTokens: g.maxTokens,
		Messages:  messages,
		Model:     anthropic.Model(g.model),
	})
	if err != nil {
		return "", err
	}
	return firstText(msg.Content), nil
}

func firstText(blocks []anthropic.ContentBlockUnion) string {
	if len(blocks) == 0 || blocks[0].Type != "text" {
		return NonTextBlock
	}
	return blocks[0].Text
}
