package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	chargedomain "github.com/smallbiznis/voicemeter/internal/charge/domain"
	clientdomain "github.com/smallbiznis/voicemeter/internal/client/domain"
	"github.com/smallbiznis/voicemeter/internal/clock"
	"github.com/smallbiznis/voicemeter/internal/config"
	enforcementdomain "github.com/smallbiznis/voicemeter/internal/enforcement/domain"
	invoicedomain "github.com/smallbiznis/voicemeter/internal/invoice/domain"
	obsmetrics "github.com/smallbiznis/voicemeter/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Job names, also used as lock keys and metric labels.
const (
	JobFinalizeUsage = "finalize_usage"
	JobChargeUsage   = "charge_usage"
	JobEnforce       = "enforce"
)

var ErrInvalidConfig = errors.New("invalid_scheduler_config")

type Params struct {
	fx.In

	DB             *gorm.DB
	Log            *zap.Logger
	Clock          clock.Clock
	GenID          *snowflake.Node
	ClientRepo     clientdomain.Repository
	InvoiceRepo    invoicedomain.Repository
	InvoiceSvc     invoicedomain.Service
	ChargeSvc      chargedomain.Service
	EnforcementSvc enforcementdomain.Service
	Billing        *config.BillingConfigHolder `optional:"true"`
	Locker         *Locker                     `optional:"true"`
	Metrics        *obsmetrics.Scheduler       `optional:"true"`
	Config         Config                      `optional:"true"`
}

type Scheduler struct {
	db             *gorm.DB
	log            *zap.Logger
	cfg            Config
	clock          clock.Clock
	genID          *snowflake.Node
	clientRepo     clientdomain.Repository
	invoiceRepo    invoicedomain.Repository
	invoiceSvc     invoicedomain.Service
	chargeSvc      chargedomain.Service
	enforcementSvc enforcementdomain.Service
	billing        *config.BillingConfigHolder
	locker         *Locker
	metrics        *obsmetrics.Scheduler
}

// FinalizeSummary aggregates one finalize_usage pass.
type FinalizeSummary struct {
	Checked   int `json:"checked"`
	Finalized int `json:"finalized"`
	Duplicate int `json:"duplicate"`
	ZeroUsage int `json:"zero_usage"`
	Failed    int `json:"failed"`
}

func New(p Params) (*Scheduler, error) {
	if p.DB == nil || p.Log == nil || p.Clock == nil || p.GenID == nil || p.ClientRepo == nil ||
		p.InvoiceRepo == nil || p.InvoiceSvc == nil || p.ChargeSvc == nil || p.EnforcementSvc == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		db:             p.DB,
		log:            p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:            p.Config.withDefaults(),
		clock:          p.Clock,
		genID:          p.GenID,
		clientRepo:     p.ClientRepo,
		invoiceRepo:    p.InvoiceRepo,
		invoiceSvc:     p.InvoiceSvc,
		chargeSvc:      p.ChargeSvc,
		enforcementSvc: p.EnforcementSvc,
		billing:        p.Billing,
		locker:         p.Locker,
		metrics:        p.Metrics,
	}, nil
}

// RunOnce runs every job in pipeline order: finalize, charge, enforce.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	var err error
	_, finalizeErr := s.FinalizeUsage(ctx)
	err = errors.Join(err, finalizeErr)
	_, chargeErr := s.ChargeUsage(ctx)
	err = errors.Join(err, chargeErr)
	_, enforceErr := s.Enforce(ctx)
	return errors.Join(err, enforceErr)
}

// FinalizeUsage closes the usage window of every billable client at the
// last whole minute at least SettleDelay behind the clock.
func (s *Scheduler) FinalizeUsage(ctx context.Context) (FinalizeSummary, error) {
	var summary FinalizeSummary
	err := s.runJob(ctx, JobFinalizeUsage, s.cfg.FinalizeTimeout, func(ctx context.Context, run *jobRun) error {
		var err error
		summary, err = s.finalizeUsage(ctx, run)
		return err
	})
	return summary, err
}

func (s *Scheduler) ChargeUsage(ctx context.Context) (chargedomain.Summary, error) {
	var summary chargedomain.Summary
	err := s.runJob(ctx, JobChargeUsage, s.cfg.ChargeTimeout, func(ctx context.Context, run *jobRun) error {
		var err error
		summary, err = s.chargeSvc.ChargeDue(ctx)
		run.AddProcessed(summary.Charged)
		run.AddErrors(summary.Failed)
		return err
	})
	return summary, err
}

func (s *Scheduler) Enforce(ctx context.Context) (enforcementdomain.Summary, error) {
	var summary enforcementdomain.Summary
	err := s.runJob(ctx, JobEnforce, s.cfg.EnforceTimeout, func(ctx context.Context, run *jobRun) error {
		var err error
		summary, err = s.enforcementSvc.Sweep(ctx)
		run.AddProcessed(summary.Checked)
		run.AddErrors(summary.Failed)
		return err
	})
	return summary, err
}

func (s *Scheduler) finalizeUsage(ctx context.Context, run *jobRun) (FinalizeSummary, error) {
	var (
		summary FinalizeSummary
		errs    []error
		afterID string
	)
	policy := s.policy()
	to := s.clock.Now().UTC().Add(-s.cfg.SettleDelay).Truncate(time.Minute)

	for {
		clients, err := s.clientRepo.ListBillable(ctx, s.db, afterID, policy.BatchSize)
		if err != nil {
			errs = append(errs, fmt.Errorf("list billable clients: %w", err))
			break
		}
		if len(clients) == 0 {
			break
		}

		for i := range clients {
			client := clients[i]
			afterID = client.ID
			if ctx.Err() != nil {
				return summary, errors.Join(append(errs, ctx.Err())...)
			}

			from, err := s.windowStart(ctx, client)
			if err != nil {
				summary.Failed++
				errs = append(errs, fmt.Errorf("client %s: %w", client.ID, err))
				continue
			}
			if !to.After(from) {
				continue
			}
			summary.Checked++

			result, err := s.invoiceSvc.FinalizeUsageInvoice(ctx, invoicedomain.FinalizeRequest{
				ClientID:       client.ID,
				EventID:        invoicedomain.WindowEventID(client.ID, to),
				From:           from,
				To:             to,
				PricePerMinute: client.PricePerMinute,
				GraceDays:      policy.GraceDays,
				Currency:       policy.Currency,
			})
			if err != nil {
				summary.Failed++
				s.logJobError(ctx, run, client.ID, err)
				errs = append(errs, fmt.Errorf("client %s: %w", client.ID, err))
				continue
			}
			switch result.Outcome {
			case invoicedomain.OutcomeFinalized:
				summary.Finalized++
				run.AddProcessed(1)
			case invoicedomain.OutcomeDuplicate:
				summary.Duplicate++
			default:
				summary.ZeroUsage++
			}
		}

		if len(clients) < policy.BatchSize {
			break
		}
	}
	return summary, errors.Join(errs...)
}

// windowStart is the end of the last invoiced window, else the last billed
// instant, else the client's creation time.
func (s *Scheduler) windowStart(ctx context.Context, client clientdomain.BillingRecord) (time.Time, error) {
	latest, err := s.invoiceRepo.LatestWindowEnd(ctx, s.db, client.ID)
	if err != nil {
		return time.Time{}, fmt.Errorf("latest window end: %w", err)
	}
	switch {
	case latest != nil:
		return latest.UTC(), nil
	case client.LastUsageBilledAt != nil:
		return client.LastUsageBilledAt.UTC(), nil
	default:
		return client.CreatedAt.UTC(), nil
	}
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	timeout time.Duration,
	fn func(ctx context.Context, run *jobRun) error,
) error {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	release, err := s.acquire(ctx, name, timeout)
	if err != nil {
		s.metrics.RecordJobError(name, err)
		if errors.Is(err, obsmetrics.ErrLockHeld) {
			s.log.Debug("scheduler.job.skipped", zap.String("job", name), zap.String("reason", "lock_held"))
			return nil
		}
		return fmt.Errorf("%s: %w", name, err)
	}
	defer release()

	ctx, run := s.startJobRun(ctx, name)
	log := s.logger(ctx)

	err = fn(ctx, run)
	s.metrics.RecordJobRun(name, s.clock.Now().Sub(start))
	s.metrics.AddBatchProcessed(name, entityFor(name), run.processedCount)
	if err != nil && run.errorCount == 0 {
		run.IncError()
	}
	s.logJobFinish(ctx, run)
	if err == nil {
		return nil
	}

	isTimeout := errors.Is(err, context.DeadlineExceeded)
	if isTimeout {
		s.metrics.RecordJobTimeout(name)
	}
	s.metrics.RecordJobError(name, err)
	if isTimeout {
		log.Warn("job timed out",
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}
	return fmt.Errorf("%s: %w", name, err)
}

// acquire takes the cross-replica lock when Redis is configured.
func (s *Scheduler) acquire(ctx context.Context, name string, ttl time.Duration) (func(), error) {
	if s.locker == nil {
		return func() {}, nil
	}
	token, ok, err := s.locker.TryLock(ctx, name, ttl)
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return nil, obsmetrics.ErrLockHeld
	}
	return func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := s.locker.Release(releaseCtx, name, token); err != nil {
			s.log.Warn("scheduler lock release failed", zap.String("job", name), zap.Error(err))
		}
	}, nil
}

func (s *Scheduler) policy() config.BillingPolicy {
	policy := config.DefaultBillingPolicy()
	if s.billing != nil {
		policy = s.billing.Policy()
	}
	if policy.BatchSize <= 0 {
		policy.BatchSize = config.DefaultBillingPolicy().BatchSize
	}
	if policy.GraceDays < 0 {
		policy.GraceDays = config.DefaultBillingPolicy().GraceDays
	}
	policy.Currency = strings.ToUpper(strings.TrimSpace(policy.Currency))
	return policy
}

func entityFor(job string) string {
	switch job {
	case JobFinalizeUsage, JobChargeUsage:
		return "usage_invoice"
	default:
		return "client"
	}
}
