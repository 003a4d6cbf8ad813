package service

import (
	"context"
	"time"

	agentdomain "github.com/smallbiznis/voicemeter/internal/agent/domain"
	clientdomain "github.com/smallbiznis/voicemeter/internal/client/domain"
	"github.com/smallbiznis/voicemeter/internal/clock"
	"github.com/smallbiznis/voicemeter/internal/config"
	obsmetrics "github.com/smallbiznis/voicemeter/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const defaultHookTimeout = 5 * time.Second

type Params struct {
	fx.In

	Log        *zap.Logger
	Clock      clock.Clock
	ClientRepo clientdomain.Repository
	Controller agentdomain.Controller
	Config     config.Config       `optional:"true"`
	ObsMetrics *obsmetrics.Billing `optional:"true"`
}

type Service struct {
	log         *zap.Logger
	clock       clock.Clock
	clientRepo  clientdomain.Repository
	controller  agentdomain.Controller
	hookTimeout time.Duration
	obsMetrics  *obsmetrics.Billing
}

func NewService(p Params) agentdomain.Service {
	timeout := p.Config.AgentHookTimeout
	if timeout <= 0 {
		timeout = defaultHookTimeout
	}
	return &Service{
		log:         p.Log.Named("agent.service"),
		clock:       p.Clock,
		clientRepo:  p.ClientRepo,
		controller:  p.Controller,
		hookTimeout: timeout,
		obsMetrics:  p.ObsMetrics,
	}
}

func (s *Service) Resume(ctx context.Context, db *gorm.DB, clientID string) (bool, error) {
	return s.clientRepo.Resume(ctx, db, clientID, s.clock.Now())
}

func (s *Service) Pause(ctx context.Context, db *gorm.DB, clientID string, reason string) (bool, error) {
	return s.clientRepo.Pause(ctx, db, clientID, reason, s.clock.Now())
}

func (s *Service) Notify(ctx context.Context, action agentdomain.Action, clientID string, reason string) {
	if s.controller == nil {
		return
	}

	hookCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.hookTimeout)
	defer cancel()

	var err error
	switch action {
	case agentdomain.ActionResume:
		err = s.controller.ResumeAgent(hookCtx, clientID)
	case agentdomain.ActionPause:
		err = s.controller.PauseAgent(hookCtx, clientID, reason)
	default:
		return
	}
	if err != nil {
		s.obsMetrics.RecordAgentHookFailure(string(action))
		s.log.Error("agent controller notification failed",
			zap.String("client_id", clientID),
			zap.String("action", string(action)),
			zap.Error(err),
		)
	}
}
