package batchimport

import (
	"math/rand"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"
)

type BackoffPolicy string

const (
	BackoffFixed       BackoffPolicy = "fixed"
	BackoffExponential BackoffPolicy = "exponential"
)

// Options tunes a Manager. Zero values take defaults; a negative RetryAttempts disables
// retries and negative durations mean no wait.
type Options struct {
	// BatchSize of 0 picks OptimalBatchSize for the item count.
	BatchSize           int           `validate:"gte=0,lte=10000"`
	RetryAttempts       int           `validate:"gte=-1,lte=100"`
	RetryDelay          time.Duration `validate:"lte=1h"`
	DelayBetweenBatches time.Duration `validate:"lte=1h"`
	PausePollInterval   time.Duration `validate:"lte=1m"`

	// Backoff is fixed by default; exponential doubles RetryDelay per attempt up to MaxRetryDelay.
	Backoff       BackoffPolicy `validate:"omitempty,oneof=fixed exponential"`
	MaxRetryDelay time.Duration `validate:"gte=0"`
	JitterMax     time.Duration `validate:"gte=0"`

	ErrorMaxLen int `validate:"gte=0"`

	Logger *logrus.Entry `validate:"-"`
	Rand   *rand.Rand    `validate:"-"`
}

var validate = validator.New()

func (o *Options) Validate() error {
	if err := validate.Struct(o); err != nil {
		return invalidOptions("%s", err.Error())
	}
	return nil
}

func (o *Options) setDefaults() {
	switch {
	case o.RetryAttempts == 0:
		o.RetryAttempts = 3
	case o.RetryAttempts < 0:
		o.RetryAttempts = 0
	}
	o.RetryDelay = defaultDuration(o.RetryDelay, 1*time.Second)
	o.DelayBetweenBatches = defaultDuration(o.DelayBetweenBatches, 100*time.Millisecond)
	if o.PausePollInterval <= 0 {
		o.PausePollInterval = 100 * time.Millisecond
	}
	if o.Backoff == "" {
		o.Backoff = BackoffFixed
	}
	if o.MaxRetryDelay == 0 {
		o.MaxRetryDelay = 30 * time.Second
	}
	if o.ErrorMaxLen == 0 {
		o.ErrorMaxLen = 2048
	}
	if o.Logger == nil {
		o.Logger = logrusNop()
	}
	if o.Rand == nil {
		o.Rand = rand.New(rand.NewSource(time.Now().UnixNano())) //nolint:gosec
	}
}

func defaultDuration(v, def time.Duration) time.Duration {
	switch {
	case v == 0:
		return def
	case v < 0:
		return 0
	default:
		return v
	}
}
