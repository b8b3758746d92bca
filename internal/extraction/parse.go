package extraction

import (
	"encoding/json"
	"strings"
	"time"

	"dealsense/internal/calls"
)

// isolateJSON strips markdown code fences and locates the first top-level
// JSON object by brace-depth counting, so prose before or after the payload
// is ignored. Returns the input unchanged when no object is found.
func isolateJSON(s string) string {
	if idx := strings.Index(s, "```json"); idx >= 0 {
		rest := s[idx+len("```json"):]
		if end := strings.Index(rest, "```"); end >= 0 {
			s = strings.TrimSpace(rest[:end])
		}
	} else if idx := strings.Index(s, "```"); idx >= 0 {
		rest := s[idx+3:]
		if end := strings.Index(rest, "```"); end >= 0 {
			s = strings.TrimSpace(rest[:end])
		}
	}

	start := strings.IndexByte(s, '{')
	if start < 0 {
		return s
	}
	depth := 0
	for i := start; i < len(s); i++ {
		switch s[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return s[start:]
}

// clampScore forces a deal-health score into [1,10].
func clampScore(n int) int {
	if n < 1 {
		return 1
	}
	if n > 10 {
		return 10
	}
	return n
}

// rawSummary mirrors the JSON shape requested from the model. Pain points,
// objections and the score tolerate loose typing.
type rawSummary struct {
	ExecutiveSummary string            `json:"executive_summary"`
	KeyPoints        []string          `json:"key_points"`
	PainPoints       []json.RawMessage `json:"pain_points"`
	Objections       []json.RawMessage `json:"objections"`
	NextSteps        string            `json:"next_steps"`
	DealHealthScore  json.Number       `json:"deal_health_score"`
	DealHealthReason string            `json:"deal_health_reason"`
}

func parseSummaryResponse(responseText string) Summary {
	payload := isolateJSON(responseText)

	var raw rawSummary
	if err := json.Unmarshal([]byte(payload), &raw); err != nil {
		return parseTextSummary(responseText)
	}

	score := 5
	if f, err := raw.DealHealthScore.Float64(); err == nil {
		score = int(f)
	}

	keyPoints := raw.KeyPoints
	if keyPoints == nil {
		keyPoints = []string{}
	}

	return Summary{
		ExecutiveSummary: raw.ExecutiveSummary,
		KeyPoints:        keyPoints,
		PainPoints:       normalizePainPoints(raw.PainPoints),
		Objections:       normalizeObjections(raw.Objections),
		NextSteps:        raw.NextSteps,
		DealHealthScore:  clampScore(score),
		DealHealthReason: raw.DealHealthReason,
	}
}

// normalizePainPoints coerces bare strings and partial objects into the full
// structured shape with default severity.
func normalizePainPoints(items []json.RawMessage) []calls.PainPoint {
	out := make([]calls.PainPoint, 0, len(items))
	for _, item := range items {
		var s string
		if err := json.Unmarshal(item, &s); err == nil {
			out = append(out, calls.PainPoint{Description: s, Severity: "medium"})
			continue
		}
		var pp calls.PainPoint
		if err := json.Unmarshal(item, &pp); err != nil || pp.Description == "" {
			continue
		}
		if pp.Severity != "low" && pp.Severity != "medium" && pp.Severity != "high" {
			pp.Severity = "medium"
		}
		out = append(out, pp)
	}
	return out
}

func normalizeObjections(items []json.RawMessage) []calls.Objection {
	out := make([]calls.Objection, 0, len(items))
	for _, item := range items {
		var s string
		if err := json.Unmarshal(item, &s); err == nil {
			out = append(out, calls.Objection{Description: s, Category: "general"})
			continue
		}
		var obj calls.Objection
		if err := json.Unmarshal(item, &obj); err != nil || obj.Description == "" {
			continue
		}
		switch obj.Category {
		case "pricing", "timeline", "features", "competition", "general":
		default:
			obj.Category = "general"
		}
		out = append(out, obj)
	}
	return out
}

type rawActionItems struct {
	ActionItems []json.RawMessage `json:"action_items"`
}

func parseActionItemsResponse(responseText string, callDate time.Time) []ActionItemDraft {
	payload := isolateJSON(responseText)

	var raw rawActionItems
	if err := json.Unmarshal([]byte(payload), &raw); err != nil {
		return scanTextForActionItems(responseText, callDate)
	}

	out := make([]ActionItemDraft, 0, len(raw.ActionItems))
	for _, item := range raw.ActionItems {
		if draft, ok := normalizeActionItem(item, callDate); ok {
			out = append(out, draft)
		}
	}
	return out
}

type rawActionItem struct {
	Task     string `json:"task"`
	Owner    string `json:"owner"`
	DueDate  string `json:"due_date"`
	Priority string `json:"priority"`
}

// normalizeActionItem accepts a bare task string or a partial object.
// First-person owners resolve to the seller role; unrecognized priorities
// default to medium.
func normalizeActionItem(item json.RawMessage, callDate time.Time) (ActionItemDraft, bool) {
	var s string
	if err := json.Unmarshal(item, &s); err == nil {
		s = strings.TrimSpace(s)
		if s == "" {
			return ActionItemDraft{}, false
		}
		return ActionItemDraft{
			Task:     truncate(s, maxTaskChars),
			Owner:    calls.SellerOwner(),
			DueDate:  callDate.AddDate(0, 0, defaultDueDateDays).Format(dateLayout),
			Priority: calls.PriorityMedium,
		}, true
	}

	var raw rawActionItem
	if err := json.Unmarshal(item, &raw); err != nil {
		return ActionItemDraft{}, false
	}
	task := strings.TrimSpace(raw.Task)
	if task == "" {
		return ActionItemDraft{}, false
	}

	priority := calls.ItemPriority(strings.ToLower(raw.Priority))
	if !calls.ValidPriority(priority) {
		priority = calls.PriorityMedium
	}

	return ActionItemDraft{
		Task:     truncate(task, maxTaskChars),
		Owner:    calls.ParseOwner(raw.Owner),
		DueDate:  ResolveDueDate(raw.DueDate, callDate),
		Priority: priority,
	}, true
}
