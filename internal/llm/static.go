package llm

import (
	"context"
	"fmt"
)

// StaticAnswerer serves canned answers when no model backend is configured.
// It keeps the push-to-talk path exercisable in development mode.
type StaticAnswerer struct{}

func (StaticAnswerer) AnswerWithContext(_ context.Context, query string, cctx CallContext) (Answer, error) {
	answer := fmt.Sprintf("No knowledge backend is configured. Logged question for follow-up: %q", query)
	if cctx.AccountName != "" {
		answer = fmt.Sprintf("No knowledge backend is configured for the %s call. Logged question for follow-up: %q", cctx.AccountName, query)
	}
	return Answer{Answer: answer, Sources: []string{}, SourceType: "static", Confidence: 0.0}, nil
}
