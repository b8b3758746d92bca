package extraction

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"dealsense/internal/calls"
)

// parseTextSummary is the line-oriented fallback for non-JSON model output.
// It scans for section headers and assigns subsequent lines to the active
// section.
func parseTextSummary(text string) Summary {
	summary := Summary{
		KeyPoints:        []string{},
		PainPoints:       []calls.PainPoint{},
		Objections:       []calls.Objection{},
		DealHealthScore:  5,
		DealHealthReason: "Unable to parse structured response",
	}

	var section string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		lower := strings.ToLower(line)

		switch {
		case strings.Contains(lower, "executive summary") || strings.Contains(lower, "summary:"):
			section = "executive_summary"
			continue
		case strings.Contains(lower, "key point") || strings.Contains(lower, "discussion point"):
			section = "key_points"
			continue
		case strings.Contains(lower, "pain point"):
			section = "pain_points"
			continue
		case strings.Contains(lower, "objection"):
			section = "objections"
			continue
		case strings.Contains(lower, "next step"):
			section = "next_steps"
			continue
		case strings.Contains(lower, "health") && strings.Contains(lower, "score"):
			section = "deal_health"
			// The score is often inline on the header line itself.
			if m := firstNumberPattern.FindString(line); m != "" {
				if n, err := strconv.Atoi(m); err == nil {
					summary.DealHealthScore = clampScore(n)
					summary.DealHealthReason = line
				}
			}
			continue
		}

		if section == "" {
			continue
		}
		line = stripBullet(line)

		switch section {
		case "executive_summary":
			summary.ExecutiveSummary = line
		case "key_points":
			summary.KeyPoints = append(summary.KeyPoints, line)
		case "pain_points":
			summary.PainPoints = append(summary.PainPoints, calls.PainPoint{Description: line, Severity: "medium"})
		case "objections":
			summary.Objections = append(summary.Objections, calls.Objection{Description: line, Category: "general"})
		case "next_steps":
			summary.NextSteps = line
		case "deal_health":
			if m := firstNumberPattern.FindString(line); m != "" {
				if n, err := strconv.Atoi(m); err == nil {
					summary.DealHealthScore = clampScore(n)
				}
			}
			summary.DealHealthReason = line
		}
	}
	return summary
}

var firstNumberPattern = regexp.MustCompile(`\d+`)

// commitmentIndicators mark lines likely to contain a promised follow-up.
var commitmentIndicators = []string{
	"will send",
	"will provide",
	"follow up",
	"schedule",
	"send you",
	"get back to",
	"prepare",
	"create",
	"draft",
	"review",
	"action item",
	"next step",
	"to do",
	"need to",
}

// scanTextForActionItems is the fallback extractor when action-item JSON
// parsing fails: lines containing a commitment indicator become tasks,
// deduplicated by a case-insensitive 50-character prefix.
func scanTextForActionItems(text string, callDate time.Time) []ActionItemDraft {
	defaultDue := callDate.AddDate(0, 0, defaultDueDateDays).Format(dateLayout)

	var drafts []ActionItemDraft
	for _, line := range strings.Split(text, "\n") {
		lower := strings.ToLower(line)
		for _, indicator := range commitmentIndicators {
			if !strings.Contains(lower, indicator) {
				continue
			}
			task := stripBullet(strings.TrimSpace(line))
			if len(task) > 10 {
				// Relative dates mentioned in the line ("by Friday", "in 3
				// days") resolve against the call date.
				due := ResolveDueDate(task, callDate)
				if due == "" {
					due = defaultDue
				}
				drafts = append(drafts, ActionItemDraft{
					Task:     truncate(task, maxTaskChars),
					Owner:    calls.SellerOwner(),
					DueDate:  due,
					Priority: calls.PriorityMedium,
				})
			}
			break
		}
	}

	seen := map[string]bool{}
	unique := drafts[:0]
	for _, d := range drafts {
		key := strings.ToLower(truncate(d.Task, 50))
		if seen[key] {
			continue
		}
		seen[key] = true
		unique = append(unique, d)
	}
	if len(unique) > maxActionItems {
		unique = unique[:maxActionItems]
	}
	return unique
}

func stripBullet(line string) string {
	for _, prefix := range []string{"-", "•", "*"} {
		if strings.HasPrefix(line, prefix) {
			return strings.TrimSpace(strings.TrimPrefix(line, prefix))
		}
	}
	return line
}
