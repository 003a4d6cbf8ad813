package service

import (
	"context"

	"go.uber.org/zap"
)

// LoggingController records transitions when no voice platform is wired.
type LoggingController struct {
	log *zap.Logger
}

func NewLoggingController(log *zap.Logger) *LoggingController {
	return &LoggingController{log: log.Named("agent.controller")}
}

func (c *LoggingController) ResumeAgent(_ context.Context, clientID string) error {
	c.log.Info("agent resumed", zap.String("client_id", clientID))
	return nil
}

func (c *LoggingController) PauseAgent(_ context.Context, clientID string, reason string) error {
	c.log.Info("agent paused", zap.String("client_id", clientID), zap.String("reason", reason))
	return nil
}
