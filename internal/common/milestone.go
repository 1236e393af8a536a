package common

const (
	MilestoneCreated  = "created"
	MilestoneInvoiced = "invoiced"
	MilestonePaid     = "paid"
	MilestoneFailed   = "failed"
)

// A failed charge may be retried later, so failed can still reach paid.
// paid is terminal and irreversible.
var milestoneTransitions = map[string][]string{
	MilestoneCreated:  {MilestoneInvoiced},
	MilestoneInvoiced: {MilestonePaid, MilestoneFailed},
	MilestoneFailed:   {MilestonePaid, MilestoneFailed},
}

// PaymentMilestone is one billable unit of a contract.
type PaymentMilestone struct {
	Id         string `json:"id"`
	ContractId string `json:"contractId"`

	Description string  `json:"description"`
	Amount      float64 `json:"amount"`
	DueDate     string  `json:"dueDate,omitempty"`

	Status string `json:"status"`

	InvoiceId  string `json:"invoiceId,omitempty"`
	FailReason string `json:"failReason,omitempty"` // gateway's reason, verbatim

	// Set while a charge is in flight; blocks concurrent charge attempts
	ChargeStartedAt int32 `json:"chargeStartedAt,omitempty"`

	PaidAt    int32 `json:"paidAt,omitempty"`
	CreatedAt int32 `json:"createdAt,omitempty"`
	UpdatedAt int32 `json:"updatedAt,omitempty"`
}

func (m *PaymentMilestone) CanTransition(to string) bool {
	for _, next := range milestoneTransitions[m.Status] {
		if next == to {
			return true
		}
	}
	return false
}

func (m *PaymentMilestone) Transition(to string) error {
	if !m.CanTransition(to) {
		return ErrStageTransition
	}
	m.Status = to
	return nil
}

// PaymentRecord is the proof of a single successful charge. One per
// milestone, ever.
type PaymentRecord struct {
	MilestoneId   string  `json:"milestoneId"`
	ContractId    string  `json:"contractId"`
	InvoiceId     string  `json:"invoiceId,omitempty"`
	TransactionId string  `json:"transactionId"`
	Amount        float64 `json:"amount"`
	ChargedAt     int32   `json:"chargedAt"`
}
