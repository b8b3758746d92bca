package extraction

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

type stubModel struct {
	summaryResp string
	summaryErr  error
	itemsResp   string
	itemsErr    error
}

func (s *stubModel) GenerateSummary(context.Context, string, Metadata) (string, error) {
	return s.summaryResp, s.summaryErr
}

func (s *stubModel) GenerateActionItems(context.Context, string, Metadata) (string, error) {
	return s.itemsResp, s.itemsErr
}

func testPipeline(model ModelClient) *Pipeline {
	p := New(model)
	p.SetClock(func() time.Time {
		return time.Date(2025, 3, 10, 15, 0, 0, 0, time.UTC)
	})
	return p
}

const longTranscript = "Seller: Thanks for making time today, I wanted to walk through the rollout plan.\n" +
	"Customer: Great, the onboarding timeline is our biggest concern right now."

func TestGenerateShortCircuitsTinyTranscripts(t *testing.T) {
	model := &stubModel{summaryErr: errors.New("should not be called")}
	p := testPipeline(model)

	summary, items := p.Generate(context.Background(), "Seller: hi", Metadata{AccountName: "Acme"})

	if !strings.Contains(summary.ExecutiveSummary, "too short") {
		t.Fatalf("expected insufficient-data summary, got %q", summary.ExecutiveSummary)
	}
	if len(items) != 1 {
		t.Fatalf("items = %d, want exactly 1", len(items))
	}
	if items[0].Owner.Role != "seller" {
		t.Fatalf("default item owner = %+v, want seller", items[0].Owner)
	}
	if items[0].DueDate != "2025-03-17" {
		t.Fatalf("default item due = %q, want call date + 7 days", items[0].DueDate)
	}
}

func TestGenerateParsesModelOutput(t *testing.T) {
	model := &stubModel{
		summaryResp: `{"executive_summary":"Great momentum.","key_points":["budget set"],"next_steps":"Send proposal","deal_health_score":9,"deal_health_reason":"clear next steps"}`,
		itemsResp:   `{"action_items":[{"task":"Send proposal","owner":"me","due_date":"friday","priority":"high"}]}`,
	}
	p := testPipeline(model)

	summary, items := p.Generate(context.Background(), longTranscript, Metadata{AccountName: "Acme"})

	if summary.ExecutiveSummary != "Great momentum." || summary.DealHealthScore != 9 {
		t.Fatalf("summary = %+v", summary)
	}
	if len(items) != 1 || items[0].Task != "Send proposal" {
		t.Fatalf("items = %+v", items)
	}
	if items[0].DueDate != "2025-03-14" {
		t.Fatalf("due date = %q, want next Friday", items[0].DueDate)
	}
}

func TestGenerateSurvivesModelFailure(t *testing.T) {
	model := &stubModel{
		summaryErr: errors.New("rate limited"),
		itemsErr:   errors.New("rate limited"),
	}
	p := testPipeline(model)

	summary, items := p.Generate(context.Background(), longTranscript, Metadata{AccountName: "Acme"})

	if !strings.Contains(summary.ExecutiveSummary, "Call with Acme") {
		t.Fatalf("expected manual-review summary, got %q", summary.ExecutiveSummary)
	}
	if summary.DealHealthScore < 1 || summary.DealHealthScore > 10 {
		t.Fatalf("score out of range: %d", summary.DealHealthScore)
	}
	if len(items) != 1 {
		t.Fatalf("model failure must still synthesize one follow-up, got %d", len(items))
	}
	if !strings.Contains(items[0].Task, "Follow up with Acme") {
		t.Fatalf("default task = %q", items[0].Task)
	}
}

func TestGenerateSurvivesMalformedOutput(t *testing.T) {
	model := &stubModel{
		summaryResp: "I could not produce JSON, sorry.\nExecutive Summary:\nShort but productive call.",
		itemsResp:   "No JSON here either, but I will send the proposal by Friday.",
	}
	p := testPipeline(model)

	summary, items := p.Generate(context.Background(), longTranscript, Metadata{AccountName: "Acme"})

	if summary.ExecutiveSummary != "Short but productive call." {
		t.Fatalf("fallback summary = %q", summary.ExecutiveSummary)
	}
	if len(items) == 0 {
		t.Fatalf("commitment scan should find the proposal line")
	}
	if !strings.Contains(items[0].Task, "send the proposal") {
		t.Fatalf("task = %q", items[0].Task)
	}
}

func TestGenerateNeverReturnsZeroItems(t *testing.T) {
	model := &stubModel{
		summaryResp: `{"executive_summary":"ok","deal_health_score":5}`,
		itemsResp:   `{"action_items":[]}`,
	}
	p := testPipeline(model)

	_, items := p.Generate(context.Background(), longTranscript, Metadata{AccountName: "Acme"})
	if len(items) != 1 {
		t.Fatalf("empty extraction must synthesize exactly one default item, got %d", len(items))
	}
}

func TestGenerateCapsActionItems(t *testing.T) {
	var tasks []string
	for i := 0; i < 15; i++ {
		tasks = append(tasks, fmt.Sprintf(`{"task":"task number %d"}`, i))
	}
	model := &stubModel{
		summaryResp: `{"executive_summary":"ok","deal_health_score":5}`,
		itemsResp:   `{"action_items":[` + strings.Join(tasks, ",") + `]}`,
	}
	p := testPipeline(model)

	_, items := p.Generate(context.Background(), longTranscript, Metadata{AccountName: "Acme"})
	if len(items) != maxActionItems {
		t.Fatalf("items = %d, want capped at %d", len(items), maxActionItems)
	}
}
