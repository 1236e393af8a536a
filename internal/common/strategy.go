package common

const (
	ActionAccept    = "accept"
	ActionNegotiate = "negotiate"
	ActionDecline   = "decline_politely"
	ActionFlag      = "flag_for_review"
)

// Strategy is the decision computed from a classification and the deal's
// budget constraints. Status is the stage the deal should move to.
type Strategy struct {
	Action                string `json:"action"`
	Status                string `json:"status"`
	AutoRespond           bool   `json:"autoRespond"`
	RequiresHumanApproval bool   `json:"requiresHumanApproval"`

	WithinBudget bool  `json:"withinBudget"`
	ComputedAt   int32 `json:"computedAt,omitempty"`
}
