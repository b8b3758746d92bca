package extraction

import (
	"context"
	"fmt"
	"strings"
	"time"

	"dealsense/internal/calls"
	"dealsense/pkg/logger"
)

// ModelClient is the external language-model collaborator. Both methods
// return raw model text; the pipeline owns all parsing and recovery.
type ModelClient interface {
	GenerateSummary(ctx context.Context, transcript string, meta Metadata) (string, error)
	GenerateActionItems(ctx context.Context, transcript string, meta Metadata) (string, error)
}

// Metadata is the call context handed to the model.
type Metadata struct {
	AccountName     string
	DealID          int
	Industry        string
	DealStage       string
	DurationMinutes int
	SellerName      string
}

func (m Metadata) withDefaults() Metadata {
	out := m
	if out.AccountName == "" {
		out.AccountName = "Unknown"
	}
	if out.Industry == "" {
		out.Industry = "Unknown"
	}
	if out.DealStage == "" {
		out.DealStage = "Discovery"
	}
	if out.SellerName == "" {
		out.SellerName = "Seller"
	}
	return out
}

// Summary is the normalized structured summary produced by the pipeline.
type Summary struct {
	ExecutiveSummary string
	KeyPoints        []string
	PainPoints       []calls.PainPoint
	Objections       []calls.Objection
	NextSteps        string
	DealHealthScore  int
	DealHealthReason string
}

// ActionItemDraft is an extracted task before repository identity is
// assigned.
type ActionItemDraft struct {
	Task     string
	Owner    calls.Owner
	DueDate  string // YYYY-MM-DD, empty = none
	Priority calls.ItemPriority
}

const (
	// minTranscriptChars is the short-circuit threshold: anything shorter
	// skips model invocation entirely.
	minTranscriptChars = 50

	maxActionItems     = 10
	maxTaskChars       = 200
	summaryInputLimit  = 15000
	itemsInputLimit    = 10000
	defaultDueDateDays = 7
)

// Pipeline turns a raw transcript into a structured summary and action-item
// list. Every failure mode degrades to a deterministic result; Generate
// never returns an error and never returns zero action items for a
// non-trivial transcript.
type Pipeline struct {
	model ModelClient

	// clock anchors relative due dates to the call date.
	clock func() time.Time
}

func New(model ModelClient) *Pipeline {
	return &Pipeline{model: model, clock: time.Now}
}

// SetClock replaces the pipeline clock. Tests only.
func (p *Pipeline) SetClock(clock func() time.Time) { p.clock = clock }

func (p *Pipeline) Generate(ctx context.Context, transcript string, meta Metadata) (Summary, []ActionItemDraft) {
	meta = meta.withDefaults()
	callDate := p.clock().UTC()
	log := logger.From(ctx)

	if len(strings.TrimSpace(transcript)) < minTranscriptChars {
		log.Warn("transcript too short for extraction", "account", meta.AccountName)
		return insufficientDataSummary(meta.AccountName), []ActionItemDraft{defaultFollowUp(meta.AccountName, callDate)}
	}

	summary := p.generateSummary(ctx, transcript, meta)
	items := p.generateActionItems(ctx, transcript, meta, callDate)

	if len(items) == 0 {
		items = []ActionItemDraft{defaultFollowUp(meta.AccountName, callDate)}
	}
	if len(items) > maxActionItems {
		items = items[:maxActionItems]
	}
	return summary, items
}

func (p *Pipeline) generateSummary(ctx context.Context, transcript string, meta Metadata) Summary {
	if p.model == nil {
		return manualReviewSummary(transcript, meta.AccountName)
	}
	raw, err := p.model.GenerateSummary(ctx, truncate(transcript, summaryInputLimit), meta)
	if err != nil {
		logger.From(ctx).Error("summary model call failed", "account", meta.AccountName, "err", err)
		return manualReviewSummary(transcript, meta.AccountName)
	}
	return parseSummaryResponse(raw)
}

func (p *Pipeline) generateActionItems(ctx context.Context, transcript string, meta Metadata, callDate time.Time) []ActionItemDraft {
	if p.model == nil {
		return scanTextForActionItems(transcript, callDate)
	}
	raw, err := p.model.GenerateActionItems(ctx, truncate(transcript, itemsInputLimit), meta)
	if err != nil {
		logger.From(ctx).Error("action items model call failed", "account", meta.AccountName, "err", err)
		return nil
	}
	return parseActionItemsResponse(raw, callDate)
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit]
}

func defaultFollowUp(accountName string, callDate time.Time) ActionItemDraft {
	return ActionItemDraft{
		Task:     fmt.Sprintf("Follow up with %s regarding next steps", accountName),
		Owner:    calls.SellerOwner(),
		DueDate:  callDate.AddDate(0, 0, defaultDueDateDays).Format(dateLayout),
		Priority: calls.PriorityMedium,
	}
}

func insufficientDataSummary(accountName string) Summary {
	return Summary{
		ExecutiveSummary: fmt.Sprintf("Call with %s - transcript too short for analysis.", accountName),
		KeyPoints:        []string{"Insufficient transcript data for analysis"},
		PainPoints:       []calls.PainPoint{},
		Objections:       []calls.Objection{},
		NextSteps:        "Review call recording if available",
		DealHealthScore:  5,
		DealHealthReason: "Unable to assess - insufficient data",
	}
}

// manualReviewSummary is the last-resort summary when the model call itself
// fails: speaker and word counts from plain text analysis.
func manualReviewSummary(transcript, accountName string) Summary {
	speakers := map[string]bool{}
	for _, line := range strings.Split(transcript, "\n") {
		if speaker, _, ok := strings.Cut(line, ":"); ok {
			speaker = strings.TrimSpace(speaker)
			if speaker != "" && len(speaker) < 30 {
				speakers[speaker] = true
			}
		}
	}
	names := make([]string, 0, len(speakers))
	for s := range speakers {
		names = append(names, s)
	}
	wordCount := len(strings.Fields(transcript))

	return Summary{
		ExecutiveSummary: fmt.Sprintf("Call with %s involving %d participants. Approximately %d words exchanged.", accountName, len(names), wordCount),
		KeyPoints: []string{
			fmt.Sprintf("Participants: %s", strings.Join(names, ", ")),
			fmt.Sprintf("Transcript length: %d words", wordCount),
			"Manual review recommended for detailed analysis",
		},
		PainPoints:       []calls.PainPoint{},
		Objections:       []calls.Objection{},
		NextSteps:        "Review transcript manually and extract key insights",
		DealHealthScore:  5,
		DealHealthReason: "Automated analysis failed - manual review recommended",
	}
}
