package llm

import (
	"context"
	"errors"
	"fmt"

	"dealsense/internal/extraction"

	openai "github.com/sashabaranov/go-openai"
)

// CallContext is the live context handed to the answering collaborator with
// a push-to-talk query.
type CallContext struct {
	RecentTranscript string
	AccountName      string
	DealID           int
}

// Answer is a grounded response to an ad-hoc question during a call.
type Answer struct {
	Answer     string   `json:"answer"`
	Sources    []string `json:"sources"`
	SourceType string   `json:"source_type,omitempty"`
	Confidence float64  `json:"confidence"`
}

// Answerer answers ad-hoc questions grounded in recent call context.
type Answerer interface {
	AnswerWithContext(ctx context.Context, query string, cctx CallContext) (Answer, error)
}

// Config controls the OpenAI-backed client.
type Config struct {
	APIKey string
	Model  string
}

func (c Config) withDefaults() Config {
	out := c
	if out.Model == "" {
		out.Model = openai.GPT4oMini
	}
	return out
}

// Client is the OpenAI-backed implementation of both model collaborators:
// extraction.ModelClient for post-call summarization and Answerer for live
// queries. Prompt content stays deliberately thin; the extraction pipeline
// owns all output parsing and recovery.
type Client struct {
	api *openai.Client
	cfg Config
}

var _ extraction.ModelClient = (*Client)(nil)
var _ Answerer = (*Client)(nil)

func NewClient(cfg Config) (*Client, error) {
	cfg = cfg.withDefaults()
	if cfg.APIKey == "" {
		return nil, errors.New("llm: api key is required")
	}
	return &Client{api: openai.NewClient(cfg.APIKey), cfg: cfg}, nil
}

func (c *Client) complete(ctx context.Context, system, user string) (string, error) {
	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.cfg.Model,
		Temperature: 0,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("chat completion: empty response")
	}
	return resp.Choices[0].Message.Content, nil
}

func (c *Client) GenerateSummary(ctx context.Context, transcript string, meta extraction.Metadata) (string, error) {
	system := "You analyze sales call transcripts and respond with a single JSON object, no prose."
	user := fmt.Sprintf(
		`Summarize this sales call.

Customer: %s
Industry: %s
Deal stage: %s
Duration: %d minutes

Transcript:
%s

Respond as JSON with keys: executive_summary (string), key_points (array of strings), pain_points (array of {description, severity: low|medium|high, context}), objections (array of {description, category: pricing|timeline|features|competition|general, response_suggested}), next_steps (string), deal_health_score (integer 1-10, 1=lost 10=won), deal_health_reason (string).`,
		meta.AccountName, meta.Industry, meta.DealStage, meta.DurationMinutes, transcript,
	)
	return c.complete(ctx, system, user)
}

func (c *Client) GenerateActionItems(ctx context.Context, transcript string, meta extraction.Metadata) (string, error) {
	system := "You extract follow-up tasks from sales call transcripts and respond with a single JSON object, no prose."
	user := fmt.Sprintf(
		`Extract action items from this call with %s. The seller is %q.

Transcript:
%s

Respond as JSON: {"action_items": [{"task": string, "owner": string, "due_date": "YYYY-MM-DD" or a relative phrase or null, "priority": "high"|"medium"|"low"}]}. Include only concrete commitments.`,
		meta.AccountName, meta.SellerName, transcript,
	)
	return c.complete(ctx, system, user)
}

func (c *Client) AnswerWithContext(ctx context.Context, query string, cctx CallContext) (Answer, error) {
	system := "You assist a seller during a live sales call. Answer briefly and concretely from the given context."
	user := query
	if cctx.RecentTranscript != "" {
		user = fmt.Sprintf("Recent conversation with %s:\n%s\n\nQuestion: %s", cctx.AccountName, cctx.RecentTranscript, query)
	} else if cctx.AccountName != "" {
		user = fmt.Sprintf("In the context of a call with %s: %s", cctx.AccountName, query)
	}

	text, err := c.complete(ctx, system, user)
	if err != nil {
		return Answer{}, err
	}
	return Answer{
		Answer:     text,
		Sources:    []string{},
		SourceType: "llm",
		Confidence: 1.0,
	}, nil
}
