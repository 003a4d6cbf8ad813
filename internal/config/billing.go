package config

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// PlanEntry is one row of the price catalog as written in billing.yml.
type PlanEntry struct {
	PriceID        string `mapstructure:"price_id"`
	Plan           string `mapstructure:"plan"`
	Amount         string `mapstructure:"amount"`
	Minutes        int64  `mapstructure:"minutes"`
	Rank           int    `mapstructure:"rank"`
	PricePerMinute string `mapstructure:"price_per_minute"`
	PaymentKind    string `mapstructure:"payment_kind"`
}

// BillingPolicy holds the tunables that may change while the process runs.
type BillingPolicy struct {
	GraceDays        int    `mapstructure:"grace_days"`
	Currency         string `mapstructure:"currency"`
	FinalizeSchedule string `mapstructure:"finalize_schedule"`
	ChargeSchedule   string `mapstructure:"charge_schedule"`
	EnforceSchedule  string `mapstructure:"enforce_schedule"`
	BatchSize        int    `mapstructure:"batch_size"`
}

func DefaultBillingPolicy() BillingPolicy {
	return BillingPolicy{
		GraceDays:        7,
		Currency:         "USD",
		FinalizeSchedule: "0 0 * * *",
		ChargeSchedule:   "*/15 * * * *",
		EnforceSchedule:  "*/5 * * * *",
		BatchSize:        100,
	}
}

// DefaultPlanEntries mirrors the production price table.
func DefaultPlanEntries() []PlanEntry {
	return []PlanEntry{
		{PriceID: "pri_01kcgn71kmeypsjan8aqw1snf6", Plan: "starter", Amount: "297", Minutes: 1000, Rank: 1, PricePerMinute: "0.29", PaymentKind: "subscription"},
		{PriceID: "pri_01kcgp2hssyxaq4kyrxxegjvjv", Plan: "growth", Amount: "497", Minutes: 2500, Rank: 2, PricePerMinute: "0.26", PaymentKind: "subscription"},
		{PriceID: "pri_01kcgpmajyawrje6emz4edyet5", Plan: "scale", Amount: "697", Minutes: 5000, Rank: 3, PricePerMinute: "0.23", PaymentKind: "subscription"},
		{PriceID: "pri_01kd56vwkfm7v52yjes8ymavt3", Plan: "pro", Amount: "997", Minutes: 10000, Rank: 4, PricePerMinute: "0.20", PaymentKind: "subscription"},
		{PriceID: "pri_01kd5qrbh5d1hadyfa15sp0m51", Plan: "usage", Amount: "0", Minutes: 0, Rank: 0, PricePerMinute: "0", PaymentKind: "usage"},
	}
}

// BillingConfigHolder keeps the plan entries read at startup and the current policy.
// Plan entries are never replaced after load; the policy is swapped on file change.
type BillingConfigHolder struct {
	plans   []PlanEntry
	current atomic.Value // holds BillingPolicy
}

func NewBillingConfigHolder(cfg Config, log *zap.Logger) (*BillingConfigHolder, error) {
	v := viper.New()

	if cfg.BillingConfigPath != "" {
		v.SetConfigFile(cfg.BillingConfigPath)
	} else {
		v.SetConfigName("billing")
		v.SetConfigType("yml")
		v.AddConfigPath("/etc/voicemeter")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("VOICEMETER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	holder := &BillingConfigHolder{}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read billing config: %w", err)
		}
		holder.plans = DefaultPlanEntries()
		holder.current.Store(DefaultBillingPolicy())
		return holder, nil
	}

	var plans []PlanEntry
	if err := v.UnmarshalKey("plans", &plans); err != nil {
		return nil, fmt.Errorf("decode plans: %w", err)
	}
	if len(plans) == 0 {
		plans = DefaultPlanEntries()
	}
	holder.plans = plans

	policy, err := decodePolicy(v)
	if err != nil {
		return nil, err
	}
	holder.current.Store(policy)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		updated, err := decodePolicy(v)
		if err != nil {
			log.Warn("billing policy reload rejected", zap.String("file", e.Name), zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("billing policy reloaded", zap.String("file", e.Name), zap.String("op", e.Op.String()))
	})

	return holder, nil
}

// NewStaticBillingConfigHolder builds a holder without touching the filesystem.
func NewStaticBillingConfigHolder(plans []PlanEntry, policy BillingPolicy) *BillingConfigHolder {
	holder := &BillingConfigHolder{plans: append([]PlanEntry(nil), plans...)}
	holder.current.Store(policy.withDefaults())
	return holder
}

func (h *BillingConfigHolder) Policy() BillingPolicy {
	return h.current.Load().(BillingPolicy)
}

// Plans returns a copy of the catalog entries read at startup.
func (h *BillingConfigHolder) Plans() []PlanEntry {
	return append([]PlanEntry(nil), h.plans...)
}

func decodePolicy(v *viper.Viper) (BillingPolicy, error) {
	policy := DefaultBillingPolicy()
	if v.IsSet("policy") {
		if err := v.UnmarshalKey("policy", &policy); err != nil {
			return BillingPolicy{}, fmt.Errorf("decode policy: %w", err)
		}
	}
	policy = policy.withDefaults()
	if err := validatePolicy(policy); err != nil {
		return BillingPolicy{}, err
	}
	return policy, nil
}

func (p BillingPolicy) withDefaults() BillingPolicy {
	defaults := DefaultBillingPolicy()
	if strings.TrimSpace(p.Currency) == "" {
		p.Currency = defaults.Currency
	}
	if strings.TrimSpace(p.FinalizeSchedule) == "" {
		p.FinalizeSchedule = defaults.FinalizeSchedule
	}
	if strings.TrimSpace(p.ChargeSchedule) == "" {
		p.ChargeSchedule = defaults.ChargeSchedule
	}
	if strings.TrimSpace(p.EnforceSchedule) == "" {
		p.EnforceSchedule = defaults.EnforceSchedule
	}
	if p.BatchSize <= 0 {
		p.BatchSize = defaults.BatchSize
	}
	return p
}

func validatePolicy(p BillingPolicy) error {
	if p.GraceDays < 0 {
		return errors.New("policy.grace_days cannot be negative")
	}
	return nil
}
