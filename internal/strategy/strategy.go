package strategy

import (
	"time"

	"github.com/swayops/dealflow/internal/common"
)

// Determine maps a classification and the deal's budget constraints to a
// negotiation decision. Rules are evaluated in order; first match wins, then
// the over-budget override is applied on top.
func Determine(cl *common.Classification, budget *common.BudgetConstraints, overMultiplier float64) *common.Strategy {
	if overMultiplier <= 1 {
		overMultiplier = 1.2
	}

	var maxBudget float64
	if budget != nil {
		maxBudget = budget.MaxBudget
	}

	within := cl.ProposedAmount > 0 && maxBudget > 0 && cl.ProposedAmount <= maxBudget

	st := &common.Strategy{
		WithinBudget: within,
		ComputedAt:   int32(time.Now().Unix()),
	}

	switch {
	case within && cl.Sentiment == common.SentimentPositive:
		st.Action = common.ActionAccept
		st.Status = common.DealReadyForContract
		st.AutoRespond = true

	case !within && cl.RiskLevel == common.RiskHigh:
		st.Action = common.ActionFlag
		st.Status = common.DealPendingReview
		st.RequiresHumanApproval = true

	case cl.NegotiationPotential == common.PotentialLow || cl.Sentiment == common.SentimentNegative:
		st.Action = common.ActionDecline
		st.Status = common.DealDeclined
		st.AutoRespond = true

	default:
		st.Action = common.ActionNegotiate
		st.Status = common.DealInNegotiation
	}

	// Highest precedence: proposals far above budget always go to a human,
	// whatever the branch said.
	if maxBudget > 0 && cl.ProposedAmount > maxBudget*overMultiplier {
		st.RequiresHumanApproval = true
		st.AutoRespond = false
	}

	return st
}
