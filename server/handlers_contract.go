package server

import (
	"github.com/gin-gonic/gin"
	"github.com/swayops/dealflow/internal/ledger"
	"github.com/swayops/dealflow/misc"
)

func createContract(s *Server) gin.HandlerFunc {
	// Fires the contract trigger for a ready deal. Safe to call twice; the
	// second call returns the contract the first one made.
	return func(c *gin.Context) {
		dealId := c.Param("id")

		history, err := s.Negotiations.Conversation(dealId)
		if err != nil {
			c.JSON(httpCode(err), misc.StatusErr(err.Error()))
			return
		}

		ct, err := s.Contracts.CreateContractFromDeal(dealId, history)
		if err != nil {
			s.Alert("Failed to create contract for deal "+dealId, err)
			c.JSON(httpCode(err), misc.StatusErr(err.Error()))
			return
		}

		c.JSON(200, ct)
	}
}

func getContract(s *Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		ct, err := s.Contracts.GetContract(c.Param("id"))
		if err != nil {
			c.JSON(httpCode(err), misc.StatusErr(err.Error()))
			return
		}
		c.JSON(200, ct)
	}
}

func advanceContract(s *Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		ct, err := s.Contracts.AdvanceStatus(c.Param("id"), c.Param("status"))
		if err != nil {
			c.JSON(httpCode(err), misc.StatusErr(err.Error()))
			return
		}
		c.JSON(200, ct)
	}
}

func getMilestones(s *Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		contractId := c.Param("id")

		if _, err := s.Contracts.GetContract(contractId); err != nil {
			c.JSON(httpCode(err), misc.StatusErr(err.Error()))
			return
		}

		milestones, err := s.Contracts.Milestones(contractId)
		if err != nil {
			c.JSON(httpCode(err), misc.StatusErr(err.Error()))
			return
		}
		c.JSON(200, milestones)
	}
}

func getLedger(s *Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		contractId := c.Param("id")

		if _, err := s.Contracts.GetContract(contractId); err != nil {
			c.JSON(httpCode(err), misc.StatusErr(err.Error()))
			return
		}

		milestones, err := s.Payments.MilestonesFor(contractId)
		if err != nil {
			c.JSON(httpCode(err), misc.StatusErr(err.Error()))
			return
		}

		c.JSON(200, ledger.Summarize(contractId, milestones))
	}
}
