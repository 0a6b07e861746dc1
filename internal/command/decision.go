package command

import "time"

// Result is the externally visible verdict for a command.
type Result string

const (
	ResultApproved             Result = "approved"
	ResultRejected             Result = "rejected"
	ResultBlocked              Result = "blocked"
	ResultRequiresConfirmation Result = "requires_confirmation"
	ResultQueued               Result = "queued"
)

// Action tells the caller what to do with the command.
type Action string

const (
	ActionAllow  Action = "ALLOW"
	ActionBlock  Action = "BLOCK"
	ActionModify Action = "MODIFY"
)

// Modifications is a bounded set of adjustments proposed instead of a block.
type Modifications struct {
	SizeMultiplier float64       `json:"size_multiplier"`
	AdjustedAmount float64       `json:"adjusted_amount,omitempty"`
	Splits         int           `json:"splits,omitempty"`
	Delay          time.Duration `json:"delay,omitempty"`
	StopLossPct    float64       `json:"stop_loss_pct,omitempty"`
	ClosePosition  bool          `json:"close_position,omitempty"`
	Notes          []string      `json:"notes,omitempty"`
}

// Decision is the verdict returned for one command.
//
// Severity measures how dangerous the command is; Confidence measures how
// certain the classification is. They are never merged.
type Decision struct {
	CommandID            string         `json:"command_id"`
	Category             Category       `json:"category"`
	Result               Result         `json:"result"`
	Action               Action         `json:"action"`
	RiskLevel            RiskLevel      `json:"risk_level"`
	Severity             int            `json:"severity"`
	Confidence           float64        `json:"confidence"`
	Reason               string         `json:"reason"`
	TriggeredRules       []string       `json:"triggered_rules,omitempty"`
	Modifications        *Modifications `json:"modifications,omitempty"`
	RequiresConfirmation bool           `json:"requires_confirmation"`
	ExpiresAt            time.Time      `json:"expires_at,omitempty"`
	DecidedAt            time.Time      `json:"decided_at"`
	ProcessingTime       time.Duration  `json:"processing_time"`
}

// Allowed reports whether the command may proceed right now.
func (d Decision) Allowed() bool {
	return d.Result == ResultApproved && d.Action != ActionBlock
}
