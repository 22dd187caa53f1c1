package transaction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Action selects how a Template treats the transaction it finds.
type Action int

// Transaction actions.
const (
	// ActionNone runs outside any transaction. A current XA transaction is
	// suspended for the call; a current local transaction is resolved first.
	ActionNone Action = iota

	// ActionAlwaysBegin always runs in a new transaction. A current XA
	// transaction is suspended; a current local one is resolved first.
	ActionAlwaysBegin

	// ActionBeginOrJoin joins the current transaction or begins one.
	ActionBeginOrJoin

	// ActionAlwaysJoin requires a current transaction.
	ActionAlwaysJoin

	// ActionJoinIfPossible joins the current transaction if there is one.
	ActionJoinIfPossible

	// ActionNever fails when a transaction is current.
	ActionNever

	// ActionIndifferent leaves transactions alone.
	ActionIndifferent
)

var actionNames = map[Action]string{
	ActionNone:           "NONE",
	ActionAlwaysBegin:    "ALWAYS_BEGIN",
	ActionBeginOrJoin:    "BEGIN_OR_JOIN",
	ActionAlwaysJoin:     "ALWAYS_JOIN",
	ActionJoinIfPossible: "JOIN_IF_POSSIBLE",
	ActionNever:          "NEVER",
	ActionIndifferent:    "INDIFFERENT",
}

// String returns the configuration name of the action.
func (a Action) String() string {
	if name, ok := actionNames[a]; ok {
		return name
	}
	return fmt.Sprintf("Action(%d)", int(a))
}

// ParseAction parses a configuration name such as "BEGIN_OR_JOIN". Case
// and dashes are ignored.
func ParseAction(s string) (Action, error) {
	norm := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), "-", "_"))
	for a, name := range actionNames {
		if name == norm {
			return a, nil
		}
	}
	return 0, fmt.Errorf("unknown transaction action %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (a Action) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Action) UnmarshalText(text []byte) error {
	parsed, err := ParseAction(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// Config is the transaction configuration of a flow or endpoint.
type Config struct {
	Action Action

	// Factory begins new transactions. Required by actions that begin.
	Factory Factory

	// Timeout bounds the callback of a transaction begun by the template.
	Timeout time.Duration
}

// Callback is the work run under a Template.
type Callback func(ctx context.Context) (any, error)

// Template runs callbacks under a transaction configuration.
type Template struct {
	cfg    *Config
	logger *slog.Logger
}

// NewTemplate creates a template. A nil cfg runs callbacks unchanged.
func NewTemplate(cfg *Config, logger *slog.Logger) *Template {
	if logger == nil {
		logger = slog.Default()
	}
	return &Template{cfg: cfg, logger: logger}
}

// Execute runs fn according to the configured action. The transaction in
// effect is carried by the context passed to fn.
func (t *Template) Execute(ctx context.Context, fn Callback) (any, error) {
	if t.cfg == nil {
		return fn(ctx)
	}

	current := FromContext(ctx)
	if current != nil && current.Status().Completed() {
		current = nil
	}
	action := t.cfg.Action

	switch action {
	case ActionIndifferent:
		return fn(ctx)

	case ActionNever:
		if current != nil {
			return nil, &StateError{Action: action, Reason: "transaction " + current.ID() + " is active"}
		}
		return fn(ctx)

	case ActionNone:
		if current == nil {
			return fn(ctx)
		}
		return t.outside(ctx, current, fn)

	case ActionAlwaysJoin:
		if current == nil {
			return nil, &StateError{Action: action, Reason: "no transaction is active"}
		}
		return t.join(ctx, current, fn)

	case ActionJoinIfPossible:
		if current == nil {
			return fn(ctx)
		}
		return t.join(ctx, current, fn)

	case ActionBeginOrJoin:
		if current != nil {
			return t.join(ctx, current, fn)
		}
		return t.begin(ctx, fn)

	case ActionAlwaysBegin:
		if current == nil {
			return t.begin(ctx, fn)
		}
		return t.outside(ctx, current, func(ctx context.Context) (any, error) {
			return t.begin(ctx, fn)
		})

	default:
		return nil, &StateError{Action: action, Reason: "unknown action"}
	}
}

// outside runs fn with current out of the way: an XA transaction is
// suspended around the call, a local one is resolved before it.
func (t *Template) outside(ctx context.Context, current Transaction, fn Callback) (result any, err error) {
	detached := WithTransaction(ctx, nil)

	if !current.IsXA() {
		if err := resolve(ctx, current); err != nil {
			return nil, err
		}
		return fn(detached)
	}

	if err := current.Suspend(ctx); err != nil {
		return nil, fmt.Errorf("suspend transaction %s: %w", current.ID(), err)
	}
	defer func() {
		if rerr := current.Resume(ctx); rerr != nil {
			err = errors.Join(err, fmt.Errorf("resume transaction %s: %w", current.ID(), rerr))
		}
	}()
	return fn(detached)
}

// join runs fn in current. A failure marks current rollback-only; its
// owner decides the outcome.
func (t *Template) join(ctx context.Context, current Transaction, fn Callback) (any, error) {
	result, err := fn(ctx)
	if err != nil {
		current.SetRollbackOnly()
	}
	return result, err
}

// begin runs fn in a new transaction and resolves it afterwards. A failed
// callback rolls the transaction back.
func (t *Template) begin(ctx context.Context, fn Callback) (any, error) {
	if t.cfg.Factory == nil {
		return nil, ErrNoFactory
	}
	tx, err := t.cfg.Factory.BeginTransaction(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}

	txCtx := WithTransaction(ctx, tx)
	if t.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		txCtx, cancel = context.WithTimeout(txCtx, t.cfg.Timeout)
		defer cancel()
	}

	result, err := fn(txCtx)
	if err != nil {
		t.logger.Debug("rolling back after callback failure",
			slog.String("tx_id", tx.ID()),
			slog.String("error", err.Error()),
		)
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			return result, errors.Join(err, rbErr)
		}
		return result, err
	}
	return result, resolve(ctx, tx)
}

// resolve commits tx, or rolls it back when it is rollback-only.
func resolve(ctx context.Context, tx Transaction) error {
	if tx.IsRollbackOnly() {
		return tx.Rollback(ctx)
	}
	return tx.Commit(ctx)
}

// Execute runs fn under tmpl and returns its typed result.
func Execute[T any](ctx context.Context, tmpl *Template, fn func(ctx context.Context) (T, error)) (T, error) {
	result, err := tmpl.Execute(ctx, func(ctx context.Context) (any, error) {
		return fn(ctx)
	})
	typed, _ := result.(T)
	return typed, err
}
