package tools

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sel-agent/sel/internal/usage"
)

// UsageToolName is the tool that reports the agent's own token spend.
const UsageToolName = "usage"

// UsageReporter is the part of the usage ledger the tool reads.
type UsageReporter interface {
	Summary(ctx context.Context, start, end time.Time) (usage.Summary, error)
	SummaryByModel(ctx context.Context, start, end time.Time) (map[string]usage.Summary, error)
	SummaryByPurpose(ctx context.Context, start, end time.Time) (map[string]usage.Summary, error)
}

// UsageTool answers "agent:usage [today|yesterday|week|month|all] [by
// model|purpose]" from the ledger. Days start at midnight in loc.
type UsageTool struct {
	store UsageReporter
	loc   *time.Location
	now   func() time.Time
}

// NewUsageTool creates the tool. A nil loc is UTC.
func NewUsageTool(store UsageReporter, loc *time.Location) *UsageTool {
	if loc == nil {
		loc = time.UTC
	}
	return &UsageTool{store: store, loc: loc, now: time.Now}
}

// Tool returns the registry entry.
func (u *UsageTool) Tool() *Tool {
	return &Tool{
		Name:        UsageToolName,
		Description: "Report token usage and cost: [today|yesterday|week|month|all] [by model|purpose]",
		Source:      SourceNative,
		Handler:     u.Report,
	}
}

// Report renders the summary for arg.
func (u *UsageTool) Report(ctx context.Context, arg string) (string, error) {
	period, groupBy, err := parseUsageArg(arg)
	if err != nil {
		return "", err
	}
	start, end := u.period(period)

	total, err := u.store.Summary(ctx, start, end)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Usage (%s): %d requests, %s in / %s out tokens, $%.4f\n",
		period, total.Requests, formatTokenCount(total.InputTokens), formatTokenCount(total.OutputTokens), total.CostUSD)

	var groups map[string]usage.Summary
	switch groupBy {
	case "model":
		groups, err = u.store.SummaryByModel(ctx, start, end)
	case "purpose":
		groups, err = u.store.SummaryByPurpose(ctx, start, end)
	}
	if err != nil {
		return "", err
	}

	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		s := groups[k]
		fmt.Fprintf(&sb, "- %s: %d requests, %s in / %s out, $%.4f\n",
			k, s.Requests, formatTokenCount(s.InputTokens), formatTokenCount(s.OutputTokens), s.CostUSD)
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}

func parseUsageArg(arg string) (period, groupBy string, err error) {
	period = "today"
	fields := strings.Fields(strings.ToLower(arg))
	for i := 0; i < len(fields); i++ {
		switch f := fields[i]; f {
		case "today", "yesterday", "week", "month", "all":
			period = f
		case "by":
			if i+1 >= len(fields) {
				return "", "", fmt.Errorf("usage: missing group after \"by\"")
			}
			i++
			groupBy = fields[i]
			if groupBy != "model" && groupBy != "purpose" {
				return "", "", fmt.Errorf("usage: unknown group %q (model or purpose)", groupBy)
			}
		default:
			return "", "", fmt.Errorf("usage: unknown period %q", f)
		}
	}
	return period, groupBy, nil
}

// period converts a period name to [start, end).
func (u *UsageTool) period(name string) (time.Time, time.Time) {
	now := u.now().In(u.loc)
	end := now.Add(time.Minute)
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, u.loc)

	switch name {
	case "today":
		return midnight, end
	case "yesterday":
		return midnight.AddDate(0, 0, -1), midnight
	case "week":
		return now.AddDate(0, 0, -7), end
	case "month":
		return now.AddDate(0, -1, 0), end
	default:
		return time.Time{}, end
	}
}

// formatTokenCount formats a token count compactly ("1.23M", "456.0K").
func formatTokenCount(n int64) string {
	if n >= 1_000_000 {
		return fmt.Sprintf("%.2fM", float64(n)/1_000_000.0)
	}
	if n >= 1_000 {
		return fmt.Sprintf("%.1fK", float64(n)/1_000.0)
	}
	return fmt.Sprintf("%d", n)
}
