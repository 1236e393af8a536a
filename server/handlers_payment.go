package server

import (
	"github.com/gin-gonic/gin"
	"github.com/swayops/dealflow/misc"
)

func initMilestones(s *Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		results, err := s.Payments.InitializeMilestones(c.Param("id"))
		if err != nil {
			c.JSON(httpCode(err), misc.StatusErr(err.Error()))
			return
		}
		c.JSON(200, results)
	}
}

func payMilestone(s *Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		rec, err := s.Payments.ProcessMilestonePayment(c.Param("id"), c.Param("milestoneId"))
		if err != nil {
			s.Alert("Milestone payment failed for contract "+c.Param("id"), err)
			c.JSON(httpCode(err), misc.StatusErr(err.Error()))
			return
		}
		c.JSON(200, rec)
	}
}

type paymentWebhookRequest struct {
	ContractId  string `json:"contractId"`
	MilestoneId string `json:"milestoneId"`
}

func paymentWebhook(s *Server) gin.HandlerFunc {
	// Gateway callback. Deliveries can repeat or race; the payment engine
	// guarantees at most one charge per milestone regardless.
	return func(c *gin.Context) {
		var req paymentWebhookRequest
		if err := misc.BindJSON(c, &req); err != nil {
			c.JSON(400, misc.StatusErr("Error unmarshalling request body"))
			return
		}
		if req.ContractId == "" || req.MilestoneId == "" {
			c.JSON(400, misc.StatusErr("contractId and milestoneId are required"))
			return
		}

		rec, err := s.Payments.ProcessMilestonePayment(req.ContractId, req.MilestoneId)
		if err != nil {
			s.Alert("Webhook payment failed for milestone "+req.MilestoneId, err)
			c.JSON(httpCode(err), misc.StatusErr(err.Error()))
			return
		}

		// the gateway only needs an ack; the transaction id ties the
		// delivery back to the charge
		c.JSON(200, misc.StatusOK(rec.TransactionId))
	}
}
