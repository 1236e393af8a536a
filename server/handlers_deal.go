package server

import (
	"github.com/gin-gonic/gin"
	"github.com/swayops/dealflow/internal/common"
	"github.com/swayops/dealflow/misc"
)

type dealRequest struct {
	CampaignId string `json:"campaignId"`
	CreatorId  string `json:"creatorId"`

	CreatorName  string `json:"creatorName"`
	CreatorEmail string `json:"creatorEmail"`

	BillingCustomerId string `json:"billingCustomerId"`

	Budget *common.BudgetConstraints `json:"budget"`

	Intro string `json:"intro"`
}

func putDeal(s *Server) gin.HandlerFunc {
	// Outreach entry point; the deal starts life in initiated
	return func(c *gin.Context) {
		var req dealRequest
		if err := misc.BindJSON(c, &req); err != nil {
			c.JSON(400, misc.StatusErr("Error unmarshalling request body"))
			return
		}

		deal := &common.Deal{
			CampaignId:        req.CampaignId,
			CreatorId:         req.CreatorId,
			CreatorName:       req.CreatorName,
			CreatorEmail:      req.CreatorEmail,
			BillingCustomerId: req.BillingCustomerId,
			Budget:            req.Budget,
		}

		deal, err := s.Negotiations.CreateDeal(deal, req.Intro)
		if err != nil {
			c.JSON(httpCode(err), misc.StatusErr(err.Error()))
			return
		}

		c.JSON(200, deal)
	}
}

func getDeal(s *Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		deal, err := s.Negotiations.GetDeal(c.Param("id"))
		if err != nil {
			c.JSON(httpCode(err), misc.StatusErr(err.Error()))
			return
		}
		c.JSON(200, deal)
	}
}

func getDealsForCampaign(s *Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		deals, err := s.Negotiations.DealsForCampaign(c.Param("id"))
		if err != nil {
			c.JSON(httpCode(err), misc.StatusErr(err.Error()))
			return
		}
		c.JSON(200, deals)
	}
}

func getConversation(s *Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		records, err := s.Negotiations.Conversation(c.Param("id"))
		if err != nil {
			c.JSON(httpCode(err), misc.StatusErr(err.Error()))
			return
		}
		c.JSON(200, records)
	}
}

type replyRequest struct {
	Content string `json:"content"`
}

func processReply(s *Server) gin.HandlerFunc {
	// Transport callback for an inbound creator reply
	return func(c *gin.Context) {
		var req replyRequest
		if err := misc.BindJSON(c, &req); err != nil {
			c.JSON(400, misc.StatusErr("Error unmarshalling request body"))
			return
		}

		deal, err := s.Negotiations.ProcessReply(c.Param("id"), req.Content)
		if err != nil {
			s.Alert("Failed to process reply for deal "+c.Param("id"), err)
			c.JSON(httpCode(err), misc.StatusErr(err.Error()))
			return
		}

		c.JSON(200, deal)
	}
}
