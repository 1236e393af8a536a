package common

const (
	EscalationPending  = "pending"
	EscalationApproved = "approved"
	EscalationRejected = "rejected"

	DecisionApprove = "approve"
	DecisionReject  = "reject"
)

// EscalationRequest asks a human for judgment on a deal. At most one may be
// pending per deal at any time.
type EscalationRequest struct {
	Id     string `json:"id"`
	DealId string `json:"dealId"`

	Reason  string             `json:"reason"`
	Payload *EscalationPayload `json:"payload"`

	Status string `json:"status"`
	Note   string `json:"note,omitempty"`

	CreatedAt  int32 `json:"createdAt"`
	ResolvedAt int32 `json:"resolvedAt,omitempty"`
}

// EscalationPayload carries everything the approver needs so they never have
// to re-derive context.
type EscalationPayload struct {
	Classification *Classification    `json:"classification"`
	Strategy       *Strategy          `json:"strategy"`
	Budget         *BudgetConstraints `json:"budget,omitempty"`
}
