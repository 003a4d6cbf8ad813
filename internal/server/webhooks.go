package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/voicemeter/internal/usage/telemetry"
	"go.uber.org/zap"
)

// CallIngestor records voice platform call reports.
type CallIngestor interface {
	IngestCall(ctx context.Context, payload []byte) (telemetry.Ack, error)
}

// HandlePaddleWebhook answers 401 for a bad signature and 500 for storage
// failures so Paddle redelivers; every other outcome is acknowledged.
func (s *Server) HandlePaddleWebhook(c *gin.Context) {
	payload, err := readBody(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	ack, err := s.webhookSvc.IngestWebhook(c.Request.Context(), payload, c.Request.Header)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, ack)
}

func (s *Server) HandleVoiceWebhook(c *gin.Context) {
	if s.callIngestor == nil {
		AbortWithError(c, ErrServiceUnavailable)
		return
	}
	payload, err := readBody(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	ack, err := s.callIngestor.IngestCall(c.Request.Context(), payload)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, ack)
}

// IngestRateLimit throttles voice deliveries per source address. Limiter
// failures let the request through.
func (s *Server) IngestRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.ingestLimiter.Enabled() {
			c.Next()
			return
		}
		res, err := s.ingestLimiter.Allow(c.Request.Context(), c.ClientIP())
		if err != nil {
			s.log.Warn("voice ingest rate limit unavailable", zap.Error(err))
			c.Next()
			return
		}
		if !res.Allowed {
			c.Header("Retry-After", strconv.Itoa(int(res.RetryAfter.Seconds())))
			AbortWithError(c, ErrTooManyRequests)
			return
		}
		c.Next()
	}
}

func readBody(c *gin.Context) ([]byte, error) {
	payload, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, newValidationError("body", "payload_too_large", "payload too large")
		}
		return nil, invalidRequestError()
	}
	return payload, nil
}
