package pixelquota

import (
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Option configures the Client.
type Option interface {
	apply(*clientConfig)
}

// optionFunc adapts a function to the Option interface.
type optionFunc func(*clientConfig)

func (f optionFunc) apply(c *clientConfig) { f(c) }

type clientConfig struct {
	driver   string // "file", "memory", "valkey" or "redis"
	dir      string
	addrs    []string
	password string
	key      string

	dailyLimit      int
	unlimitedEmails []string
	location        *time.Location
	clock           func() time.Time

	logger     *slog.Logger
	metricsReg prometheus.Registerer
}

// WithValkey stores snapshots in a Valkey instance.
func WithValkey(addr, password string) Option {
	return optionFunc(func(c *clientConfig) {
		c.driver = "valkey"
		c.addrs = []string{addr}
		c.password = password
	})
}

// WithRedis stores snapshots in a Redis instance.
func WithRedis(addr, password string) Option {
	return optionFunc(func(c *clientConfig) {
		c.driver = "redis"
		c.addrs = []string{addr}
		c.password = password
	})
}

// WithDir stores snapshots as files in dir.
func WithDir(dir string) Option {
	return optionFunc(func(c *clientConfig) {
		c.driver = "file"
		c.dir = dir
	})
}

// WithMemory keeps snapshots in process memory. Nothing survives Close.
func WithMemory() Option {
	return optionFunc(func(c *clientConfig) {
		c.driver = "memory"
	})
}

// WithKey sets the storage key of the snapshot.
// Defaults to "pixelArtGeneratorDb".
func WithKey(key string) Option {
	return optionFunc(func(c *clientConfig) {
		c.key = key
	})
}

// WithDailyLimit sets the number of generations per user per day.
// Default: 5.
func WithDailyLimit(n int) Option {
	return optionFunc(func(c *clientConfig) {
		c.dailyLimit = n
	})
}

// WithUnlimitedEmails exempts the given users from the quota.
func WithUnlimitedEmails(emails ...string) Option {
	return optionFunc(func(c *clientConfig) {
		c.unlimitedEmails = append(c.unlimitedEmails, emails...)
	})
}

// WithLocation sets the timezone that decides the calendar day.
// Defaults to time.Local.
func WithLocation(loc *time.Location) Option {
	return optionFunc(func(c *clientConfig) {
		c.location = loc
	})
}

// WithClock overrides time.Now. Intended for tests.
func WithClock(now func() time.Time) Option {
	return optionFunc(func(c *clientConfig) {
		c.clock = now
	})
}

// WithLogger enables structured logging for SDK operations.
// Pass nil to disable (default). Uses standard library slog.
func WithLogger(l *slog.Logger) Option {
	return optionFunc(func(c *clientConfig) {
		c.logger = l
	})
}

// WithPrometheus registers SDK metrics (operation counts and durations)
// on the given registerer. Pass nil to disable (default).
func WithPrometheus(reg prometheus.Registerer) Option {
	return optionFunc(func(c *clientConfig) {
		c.metricsReg = reg
	})
}
