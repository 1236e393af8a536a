package ledger

import (
	"github.com/swayops/dealflow/internal/common"
	"github.com/swayops/dealflow/misc"
)

const (
	StatusPending       = "pending"
	StatusPartiallyPaid = "partially_paid"
	StatusCompleted     = "completed"
)

// Summary is the contract's payment position, derived at read time from the
// milestones. It is never stored, so it can never drift from them.
type Summary struct {
	ContractId string `json:"contractId"`

	TotalAmount float64 `json:"totalAmount"`
	TotalPaid   float64 `json:"totalPaid"`
	Remaining   float64 `json:"remaining"`

	Status string `json:"status"`
}

func Summarize(contractId string, milestones []*common.PaymentMilestone) *Summary {
	sum := &Summary{ContractId: contractId, Status: StatusPending}

	for _, m := range milestones {
		sum.TotalAmount += m.Amount
		if m.Status == common.MilestonePaid {
			sum.TotalPaid += m.Amount
		}
	}

	sum.TotalAmount = misc.TruncateFloat(sum.TotalAmount, 2)
	sum.TotalPaid = misc.TruncateFloat(sum.TotalPaid, 2)
	sum.Remaining = misc.TruncateFloat(sum.TotalAmount-sum.TotalPaid, 2)

	switch {
	case sum.TotalAmount > 0 && sum.Remaining <= 0:
		sum.Status = StatusCompleted
	case sum.TotalPaid > 0:
		sum.Status = StatusPartiallyPaid
	}

	return sum
}
