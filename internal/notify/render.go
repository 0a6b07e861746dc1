package notify

import (
	"fmt"
	"html"
	"strings"

	"github.com/GoPolymarket/trading-gateway/internal/command"
	"github.com/GoPolymarket/trading-gateway/internal/gateway"
)

// RenderEvent formats an alert-worthy event in HTML parse mode.
func RenderEvent(e gateway.Event) string {
	var b strings.Builder
	switch e.Type {
	case gateway.EventDecision:
		b.WriteString("<b>Command Blocked</b>\n")
	case gateway.EventExpired:
		b.WriteString("<b>Confirmation Expired</b>\n")
	case gateway.EventDegraded:
		b.WriteString("<b>CRITICAL DISPATCH DEGRADED</b>\n")
	default:
		b.WriteString(fmt.Sprintf("<b>%s</b>\n", html.EscapeString(string(e.Type))))
	}
	if e.CommandID != "" {
		b.WriteString(fmt.Sprintf("Command: <code>%s</code>\n", html.EscapeString(e.CommandID)))
	}
	if e.Command != nil {
		b.WriteString(fmt.Sprintf("Action: %s/%s\n",
			html.EscapeString(string(e.Command.Category)), html.EscapeString(e.Command.Action)))
	}
	if d := e.Decision; d != nil {
		b.WriteString(fmt.Sprintf("Risk: %s\n", strings.ToUpper(string(d.RiskLevel))))
		if len(d.TriggeredRules) > 0 {
			b.WriteString("Rules: " + html.EscapeString(strings.Join(d.TriggeredRules, ", ")) + "\n")
		}
	}
	b.WriteString(fmt.Sprintf("Severity: %d\n", e.Severity))
	if e.Reason != "" {
		b.WriteString("Reason: " + html.EscapeString(e.Reason) + "\n")
	}
	b.WriteString("At: " + e.At.UTC().Format("2006-01-02 15:04:05 UTC"))
	return b.String()
}

// RenderSummary formats gateway counters as a periodic digest.
func RenderSummary(c gateway.Counters) string {
	var b strings.Builder
	b.WriteString("<b>Gateway Summary</b>\n")
	b.WriteString(fmt.Sprintf("Decisions: %d\nApproved: %d\nBlocked: %d\nRejected: %d\n",
		c.Total, c.Approved, c.Blocked, c.Rejected))
	b.WriteString(fmt.Sprintf("Awaiting Confirmation: %d\nConfirmed: %d\nExpired: %d\nModified: %d\n",
		c.RequiresConfirmation, c.Confirmed, c.Expired, c.Modified))
	if c.AvgProcessing > 0 {
		b.WriteString(fmt.Sprintf("Avg Latency: %s\n", c.AvgProcessing))
	}
	if len(c.ByRisk) > 0 {
		b.WriteString("\n<b>By Risk</b>\n")
		for _, r := range command.RiskLevels {
			if n := c.ByRisk[r]; n > 0 {
				b.WriteString(fmt.Sprintf("- %s: %d\n", r, n))
			}
		}
	}
	return strings.TrimSpace(b.String())
}
