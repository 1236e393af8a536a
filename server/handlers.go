package server

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/swayops/dealflow/internal/common"
	"github.com/swayops/dealflow/internal/contracts"
	"github.com/swayops/dealflow/internal/escalation"
	"github.com/swayops/dealflow/internal/negotiation"
	"github.com/swayops/dealflow/internal/payments"
)

func (s *Server) initRoutes(r *gin.Engine) {
	api := r.Group("/api/v1")

	///////// Deals /////////
	api.POST("/deal", putDeal(s))
	api.GET("/deal/:id", getDeal(s))
	api.GET("/deal/:id/conversation", getConversation(s))
	api.POST("/deal/:id/reply", processReply(s))
	api.GET("/dealsForCampaign/:id", getDealsForCampaign(s))

	///////// Escalations /////////
	api.GET("/escalations", getPendingEscalations(s))
	api.GET("/escalation/:id", getEscalation(s))
	api.POST("/escalation/:id/resolve", resolveEscalation(s))

	///////// Contracts /////////
	api.POST("/deal/:id/contract", createContract(s))
	api.GET("/contract/:id", getContract(s))
	api.GET("/contract/:id/milestones", getMilestones(s))
	api.GET("/contract/:id/ledger", getLedger(s))
	api.POST("/contract/:id/status/:status", advanceContract(s))

	///////// Payments /////////
	api.POST("/contract/:id/initMilestones", initMilestones(s))
	api.POST("/contract/:id/milestone/:milestoneId/pay", payMilestone(s))
	api.POST("/webhook/payment", paymentWebhook(s))
}

// httpCode maps engine errors onto response codes; invariant and
// precondition problems are the caller's fault, anything else is ours.
func httpCode(err error) int {
	switch {
	case errors.Is(err, common.ErrNotFound):
		return 404
	case errors.Is(err, common.ErrInvariant),
		errors.Is(err, common.ErrStageTransition),
		errors.Is(err, common.ErrTerminalDeal),
		errors.Is(err, common.ErrContractStatus),
		errors.Is(err, contracts.ErrDealNotReady),
		errors.Is(err, escalation.ErrDecision),
		errors.Is(err, payments.ErrContractNotActive),
		errors.Is(err, payments.ErrMilestoneNotInvoiced),
		errors.Is(err, negotiation.ErrEmptyReply),
		errors.Is(err, negotiation.ErrMissingDeal),
		errors.Is(err, negotiation.ErrNoBudget):
		return 400
	default:
		return 500
	}
}
