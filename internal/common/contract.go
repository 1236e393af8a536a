package common

import (
	"errors"
	"math"
)

const (
	ContractDrafting  = "drafting"
	ContractAwaiting  = "awaiting_signatures"
	ContractSigned    = "signed"
	ContractActive    = "active"
	ContractCompleted = "completed"
)

var (
	ErrContractStatus = errors.New("illegal contract status transition")
	ErrNoTerms        = errors.New("terms snapshot missing")
	ErrBadTotal       = errors.New("payment amount must be positive")
	ErrMilestoneSum   = errors.New("milestone amounts must sum to the payment amount")
)

var contractOrder = map[string]int{
	ContractDrafting:  0,
	ContractAwaiting:  1,
	ContractSigned:    2,
	ContractActive:    3,
	ContractCompleted: 4,
}

// Contract is the commercial agreement derived from an agreed deal. A deal
// produces at most one contract; Terms freeze once status reaches
// awaiting_signatures.
type Contract struct {
	Id     string `json:"id"`
	DealId string `json:"dealId"`

	BillingCustomerId string `json:"billingCustomerId,omitempty"`

	Terms  *TermsSnapshot `json:"terms"`
	Status string         `json:"status"`

	DocumentURL string `json:"documentUrl,omitempty"`

	CreatedAt int32 `json:"createdAt,omitempty"`
	UpdatedAt int32 `json:"updatedAt,omitempty"`
}

// AdvanceTo only ever moves the status forward.
func (ct *Contract) AdvanceTo(status string) error {
	next, ok := contractOrder[status]
	if !ok || next <= contractOrder[ct.Status] {
		return ErrContractStatus
	}
	ct.Status = status
	return nil
}

type TermsSnapshot struct {
	Deliverables  []string         `json:"deliverables,omitempty"`
	PaymentAmount float64          `json:"paymentAmount"`
	Currency      string           `json:"currency,omitempty"`
	Milestones    []*MilestoneTerm `json:"milestones"`
	Deadlines     []string         `json:"deadlines,omitempty"`
}

type MilestoneTerm struct {
	Description string  `json:"description"`
	Amount      float64 `json:"amount"`
	DueDate     string  `json:"dueDate,omitempty"`
}

func (t *TermsSnapshot) Validate() error {
	if t == nil {
		return ErrNoTerms
	}

	if t.PaymentAmount <= 0 {
		return ErrBadTotal
	}

	if len(t.Milestones) == 0 {
		return ErrMilestoneSum
	}

	var sum float64
	for _, m := range t.Milestones {
		if m.Amount <= 0 {
			return ErrMilestoneSum
		}
		sum += m.Amount
	}

	// Cent tolerance; amounts are dollars
	if math.Abs(sum-t.PaymentAmount) > 0.005 {
		return ErrMilestoneSum
	}

	return nil
}
