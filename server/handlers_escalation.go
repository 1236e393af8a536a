package server

import (
	"github.com/gin-gonic/gin"
	"github.com/swayops/dealflow/misc"
)

func getPendingEscalations(s *Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		reqs, err := s.Escalations.Pending()
		if err != nil {
			c.JSON(httpCode(err), misc.StatusErr(err.Error()))
			return
		}
		c.JSON(200, reqs)
	}
}

func getEscalation(s *Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		req, err := s.Escalations.Get(c.Param("id"))
		if err != nil {
			c.JSON(httpCode(err), misc.StatusErr(err.Error()))
			return
		}
		c.JSON(200, req)
	}
}

type resolveRequest struct {
	Decision string `json:"decision"`
	Note     string `json:"note"`
}

func resolveEscalation(s *Server) gin.HandlerFunc {
	// The human verdict. Resolving clears the pending marker so automation
	// resumes, then the decision is applied to the deal itself.
	return func(c *gin.Context) {
		var req resolveRequest
		if err := misc.BindJSON(c, &req); err != nil {
			c.JSON(400, misc.StatusErr("Error unmarshalling request body"))
			return
		}

		resolved, err := s.Escalations.Resolve(c.Param("id"), req.Decision, req.Note)
		if err != nil {
			c.JSON(httpCode(err), misc.StatusErr(err.Error()))
			return
		}

		deal, err := s.Negotiations.ApplyDecision(resolved)
		if err != nil {
			s.Alert("Escalation "+resolved.Id+" resolved but decision failed to apply", err)
			c.JSON(httpCode(err), misc.StatusErr(err.Error()))
			return
		}

		c.JSON(200, deal)
	}
}
