package server

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	chargedomain "github.com/smallbiznis/voicemeter/internal/charge/domain"
	enforcementdomain "github.com/smallbiznis/voicemeter/internal/enforcement/domain"
	"github.com/smallbiznis/voicemeter/internal/scheduler"
)

const headerCronSecret = "X-Cron-Secret"

// BillingJobs runs one pass of a scheduled billing job on demand.
type BillingJobs interface {
	FinalizeUsage(ctx context.Context) (scheduler.FinalizeSummary, error)
	ChargeUsage(ctx context.Context) (chargedomain.Summary, error)
	Enforce(ctx context.Context) (enforcementdomain.Summary, error)
}

// CronSecretRequired accepts the secret as a bearer token or X-Cron-Secret.
// An unset secret disables the endpoints.
func (s *Server) CronSecretRequired() gin.HandlerFunc {
	expected := strings.TrimSpace(s.cfg.CronSecret)
	return func(c *gin.Context) {
		if expected == "" {
			AbortWithError(c, ErrForbidden)
			return
		}
		provided := strings.TrimSpace(c.GetHeader(headerCronSecret))
		if provided == "" {
			provided = strings.TrimSpace(strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer "))
		}
		if subtle.ConstantTimeCompare([]byte(provided), []byte(expected)) != 1 {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		c.Next()
	}
}

func (s *Server) TriggerFinalize(c *gin.Context) {
	summary, err := s.jobs.FinalizeUsage(c.Request.Context())
	respondSummary(c, summary, err)
}

func (s *Server) TriggerCharge(c *gin.Context) {
	summary, err := s.jobs.ChargeUsage(c.Request.Context())
	respondSummary(c, summary, err)
}

func (s *Server) TriggerEnforce(c *gin.Context) {
	summary, err := s.jobs.Enforce(c.Request.Context())
	respondSummary(c, summary, err)
}

func (s *Server) EnforceClient(c *gin.Context) {
	outcome, err := s.enforcementSvc.Enforce(c.Request.Context(), c.Param("clientId"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, outcome)
}

// respondSummary reports partial failures with the summary so the caller
// sees what did run.
func respondSummary(c *gin.Context, summary any, err error) {
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"summary": summary,
			"error":   errorPayload{Type: "job_failed", Message: err.Error()},
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"summary": summary})
}
