package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// BillingConfig carries the tunables of the invoicing engine.
//
// GracePeriod is the delay after an invoice's conceptual due point before the
// customer counts as owing; it is a fallback for plans that do not set one.
// GenerateAhead is how far before the start of a period the next invoice is
// created, so customers have a chance to pay before the period begins.
type BillingConfig struct {
	GracePeriodDays   int `mapstructure:"gracePeriodDays"`
	GenerateAheadDays int `mapstructure:"generateAheadDays"`
}

func DefaultBillingConfig() BillingConfig {
	return BillingConfig{
		GracePeriodDays:   10,
		GenerateAheadDays: 3,
	}
}

func (c BillingConfig) GracePeriod() time.Duration {
	return time.Duration(c.GracePeriodDays) * 24 * time.Hour
}

func (c BillingConfig) GenerateAhead() time.Duration {
	return time.Duration(c.GenerateAheadDays) * 24 * time.Hour
}

type BillingConfigHolder struct {
	current atomic.Value // holds BillingConfig
}

// NewBillingConfigHolder reads billing.yml and keeps it hot-reloaded.
// Missing files fall back to defaults; invalid reloads are ignored.
func NewBillingConfigHolder() (*BillingConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("billing")
	v.SetConfigType("yml")
	v.AddConfigPath("/etc/billingly")
	v.AddConfigPath(".")

	v.SetEnvPrefix("BILLINGLY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultBillingConfig()
	v.SetDefault("billing.gracePeriodDays", defaults.GracePeriodDays)
	v.SetDefault("billing.generateAheadDays", defaults.GenerateAheadDays)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg BillingConfig
	if err := v.UnmarshalKey("billing", &cfg); err != nil {
		return nil, err
	}
	if err := validateBillingConfig(cfg); err != nil {
		return nil, err
	}

	holder := &BillingConfigHolder{}
	holder.current.Store(cfg)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated BillingConfig
		if err := v.UnmarshalKey("billing", &updated); err != nil {
			log.Printf("[billing-config] reload failed: %v", err)
			return
		}
		if err := validateBillingConfig(updated); err != nil {
			log.Printf("[billing-config] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[billing-config] reloaded from %s", e.Name)
	})

	return holder, nil
}

// NewStaticBillingConfigHolder pins a configuration, used by tests and
// multi-tenant callers that manage their own tunables.
func NewStaticBillingConfigHolder(cfg BillingConfig) *BillingConfigHolder {
	holder := &BillingConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func (h *BillingConfigHolder) Get() BillingConfig {
	return h.current.Load().(BillingConfig)
}

func validateBillingConfig(cfg BillingConfig) error {
	if cfg.GracePeriodDays < 0 {
		return errors.New("billing.gracePeriodDays cannot be negative")
	}
	if cfg.GenerateAheadDays < 0 {
		return errors.New("billing.generateAheadDays cannot be negative")
	}
	return nil
}
