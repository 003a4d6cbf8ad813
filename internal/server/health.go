package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

const (
	statusHealthy   = "healthy"
	statusDegraded  = "degraded"
	statusUnhealthy = "unhealthy"
)

type dependencyStatus struct {
	Status    string `json:"status"`
	Message   string `json:"message,omitempty"`
	LatencyMS int64  `json:"latency_ms"`
}

// Health fails when the database is unreachable. Redis only guards the
// scheduler lock, so losing it degrades the service.
func (s *Server) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	status := statusHealthy
	deps := map[string]dependencyStatus{}

	deps["database"] = s.checkDatabase(ctx)
	if deps["database"].Status != statusHealthy {
		status = statusUnhealthy
	}
	if s.redis != nil {
		deps["redis"] = s.checkRedis(ctx)
		if deps["redis"].Status != statusHealthy && status == statusHealthy {
			status = statusDegraded
		}
	}

	code := http.StatusOK
	if status == statusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"status":       status,
		"version":      s.cfg.AppVersion,
		"dependencies": deps,
	})
}

func (s *Server) checkDatabase(ctx context.Context) dependencyStatus {
	start := time.Now()
	sqlDB, err := s.db.DB()
	if err == nil {
		err = sqlDB.PingContext(ctx)
	}
	return dependencyResult(start, err)
}

func (s *Server) checkRedis(ctx context.Context) dependencyStatus {
	start := time.Now()
	return dependencyResult(start, s.redis.Ping(ctx).Err())
}

func dependencyResult(start time.Time, err error) dependencyStatus {
	status := dependencyStatus{
		Status:    statusHealthy,
		LatencyMS: time.Since(start).Milliseconds(),
	}
	if err != nil {
		status.Status = statusUnhealthy
		status.Message = err.Error()
	}
	return status
}
