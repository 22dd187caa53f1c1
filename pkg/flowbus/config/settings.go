package config

import (
	"fmt"
	"reflect"
	"time"

	"github.com/mitchellh/mapstructure"

	fberrors "github.com/randalmurphal/flowbus/pkg/flowbus/errors"
	"github.com/randalmurphal/flowbus/pkg/flowbus/queue"
	"github.com/randalmurphal/flowbus/pkg/flowbus/transaction"
)

// Settings is the typed configuration of a flowbus deployment.
type Settings struct {
	Correlation CorrelationSettings `mapstructure:"correlation" yaml:"correlation"`
	Queues      QueueSettings       `mapstructure:"queues" yaml:"queues"`
	Poll        PollSettings        `mapstructure:"poll" yaml:"poll"`
	Retry       RetrySettings       `mapstructure:"retry" yaml:"retry"`
	Transaction TransactionSettings `mapstructure:"transaction" yaml:"transaction"`
}

// CorrelationSettings configures correlators.
type CorrelationSettings struct {
	// Timeout is how long a group may stay incomplete. Zero disables expiry.
	Timeout            time.Duration `mapstructure:"timeout" yaml:"timeout"`
	FailOnTimeout      bool          `mapstructure:"fail_on_timeout" yaml:"fail_on_timeout"`
	MaxProcessedGroups int           `mapstructure:"max_processed_groups" yaml:"max_processed_groups"`
	MonitorInterval    time.Duration `mapstructure:"monitor_interval" yaml:"monitor_interval"`
}

// QueueSettings configures the queue manager.
type QueueSettings struct {
	// StorePath is the SQLite file backing the queues. Empty keeps queues
	// in memory only.
	StorePath string                  `mapstructure:"store_path" yaml:"store_path"`
	Default   queue.Config            `mapstructure:"default" yaml:"default"`
	Queues    map[string]queue.Config `mapstructure:"queues" yaml:"queues"`
}

// PollSettings configures inbound pollers.
type PollSettings struct {
	// Schedule is a cron expression or descriptor such as "@every 5s".
	Schedule    string `mapstructure:"schedule" yaml:"schedule"`
	Synchronous bool   `mapstructure:"synchronous" yaml:"synchronous"`
}

// RetrySettings configures redelivery.
type RetrySettings struct {
	MaxAttempts int           `mapstructure:"max_attempts" yaml:"max_attempts"`
	Interval    time.Duration `mapstructure:"interval" yaml:"interval"`
}

// TransactionSettings configures the transaction template of flows.
type TransactionSettings struct {
	Action  transaction.Action `mapstructure:"action" yaml:"action"`
	Timeout time.Duration      `mapstructure:"timeout" yaml:"timeout"`
}

// DefaultSettings returns the settings used for keys a file leaves out.
func DefaultSettings() Settings {
	return Settings{
		Correlation: CorrelationSettings{
			FailOnTimeout:      true,
			MaxProcessedGroups: 50000,
			MonitorInterval:    100 * time.Millisecond,
		},
		Poll: PollSettings{
			Schedule:    "@every 1s",
			Synchronous: true,
		},
		Retry: RetrySettings{
			MaxAttempts: 5,
			Interval:    time.Second,
		},
		Transaction: TransactionSettings{
			Action: transaction.ActionNone,
		},
	}
}

// Decode decodes cfg over DefaultSettings. Durations accept the same forms
// as Config.Duration and the transaction action accepts its names
// ("BEGIN_OR_JOIN", "begin-or-join").
func Decode(cfg Config) (Settings, error) {
	s := DefaultSettings()
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			durationHook,
			mapstructure.TextUnmarshallerHookFunc(),
		),
		WeaklyTypedInput: true,
		Result:           &s,
	})
	if err != nil {
		return Settings{}, fmt.Errorf("create decoder: %w", err)
	}
	if err := dec.Decode(cfg.Raw()); err != nil {
		return Settings{}, fmt.Errorf("decode settings: %w", err)
	}
	return s, nil
}

func durationHook(from, to reflect.Type, data any) (any, error) {
	if to != reflect.TypeOf(time.Duration(0)) || from == to {
		return data, nil
	}
	d, ok := toDuration(data)
	if !ok {
		return nil, fmt.Errorf("invalid duration %v", data)
	}
	return d, nil
}

// RetryConfig returns the fixed-interval redelivery policy.
func (r RetrySettings) RetryConfig() fberrors.RetryConfig {
	return fberrors.FixedRetry(r.MaxAttempts, r.Interval)
}

// QueueConfig returns the configuration of a named queue.
func (q QueueSettings) QueueConfig(name string) queue.Config {
	if cfg, ok := q.Queues[name]; ok {
		return cfg
	}
	return q.Default
}

// Apply configures m with the queue capacities.
func (q QueueSettings) Apply(m *queue.Manager) {
	m.SetDefaultConfig(q.Default)
	for name, cfg := range q.Queues {
		m.SetQueueConfig(name, cfg)
	}
}

// OpenStore opens the SQLite store at StorePath, or returns nil when the
// queues are memory-only.
func (q QueueSettings) OpenStore() (queue.Store, error) {
	if q.StorePath == "" {
		return nil, nil
	}
	store, err := queue.NewSQLiteStore(q.StorePath)
	if err != nil {
		return nil, err
	}
	return store, nil
}

// TransactionConfig returns the template configuration for factory.
func (t TransactionSettings) TransactionConfig(factory transaction.Factory) *transaction.Config {
	return &transaction.Config{
		Action:  t.Action,
		Factory: factory,
		Timeout: t.Timeout,
	}
}
