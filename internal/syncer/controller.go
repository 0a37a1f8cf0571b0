package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sunbk201/rulesync/internal/engine"
	"github.com/sunbk201/rulesync/internal/metrics"
	"github.com/sunbk201/rulesync/internal/model"
	"github.com/sunbk201/rulesync/internal/rule/common"
	"github.com/sunbk201/rulesync/internal/rule/compiler"
)

const DefaultSettleDelay = 100 * time.Millisecond

var ErrPassInFlight = errors.New("synchronization pass in flight")

type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseCompiling  Phase = "compiling"
	PhaseSubmitting Phase = "submitting"
)

const (
	ResultSuccess  = "success"
	ResultFailed   = "failed"
	ResultDisabled = "disabled"
	ResultSkipped  = "skipped"
)

// Pass describes the last finished synchronization pass.
type Pass struct {
	Result      string    `json:"result"`
	Error       string    `json:"error,omitempty"`
	Installed   int       `json:"installed"`
	Diagnostics int       `json:"diagnostics"`
	StartedAt   time.Time `json:"startedAt"`
	FinishedAt  time.Time `json:"finishedAt"`
}

type Status struct {
	Phase   Phase `json:"phase"`
	Running bool  `json:"running"`
	Last    *Pass `json:"last,omitempty"`
}

type Options struct {
	Store       model.Getter
	Engine      engine.Engine
	State       *State
	Metrics     *metrics.Metrics
	Limits      common.Limits
	SettleDelay time.Duration
}

// Controller installs the compiled model into the engine. At most one pass
// runs at a time; a call that arrives during a pass is dropped.
type Controller struct {
	store       model.Getter
	engine      engine.Engine
	state       *State
	metrics     *metrics.Metrics
	limits      common.Limits
	settleDelay time.Duration

	running atomic.Bool
	phase   atomic.Value

	mu   sync.RWMutex
	last *Pass
}

func NewController(opts Options) *Controller {
	if opts.State == nil {
		opts.State = NewState(StateOptions{Metrics: opts.Metrics})
	}
	if opts.SettleDelay < 0 {
		opts.SettleDelay = 0
	}
	c := &Controller{
		store:       opts.Store,
		engine:      opts.Engine,
		state:       opts.State,
		metrics:     opts.Metrics,
		limits:      opts.Limits.Normalized(),
		settleDelay: opts.SettleDelay,
	}
	c.phase.Store(PhaseIdle)
	return c
}

func (c *Controller) State() *State { return c.state }

func (c *Controller) Status() Status {
	st := Status{Phase: c.phase.Load().(Phase), Running: c.running.Load()}
	c.mu.RLock()
	if c.last != nil {
		last := *c.last
		st.Last = &last
	}
	c.mu.RUnlock()
	return st
}

// Synchronize runs one pass. A call made while a pass is running returns
// nil without touching the store or the engine.
func (c *Controller) Synchronize(ctx context.Context) error {
	_, err := c.TrySynchronize(ctx)
	return err
}

// TrySynchronize is Synchronize that also reports whether a pass ran.
func (c *Controller) TrySynchronize(ctx context.Context) (bool, error) {
	if !c.running.CompareAndSwap(false, true) {
		slog.Debug("Synchronize skipped", slog.Any("reason", ErrPassInFlight))
		if c.metrics != nil {
			c.metrics.RecordPass(ResultSkipped, 0)
		}
		return false, nil
	}
	defer c.running.Store(false)
	defer c.phase.Store(PhaseIdle)

	// a started pass runs to completion
	ctx = context.WithoutCancel(ctx)

	pass := &Pass{StartedAt: time.Now()}
	err := c.run(ctx, pass)
	pass.FinishedAt = time.Now()
	if err != nil {
		pass.Result = ResultFailed
		pass.Error = err.Error()
		slog.Error("Synchronize failed", slog.Any("error", err))
		if clearErr := engine.Clear(ctx, c.engine); clearErr != nil {
			slog.Error("engine.Clear", slog.Any("error", clearErr))
		}
	} else {
		slog.Info("Synchronize finished", slog.String("result", pass.Result), slog.Int("installed", pass.Installed), slog.Int("diagnostics", pass.Diagnostics))
	}

	if c.metrics != nil {
		c.metrics.RecordPass(pass.Result, pass.FinishedAt.Sub(pass.StartedAt))
	}
	c.mu.Lock()
	c.last = pass
	c.mu.Unlock()
	return true, err
}

func (c *Controller) run(ctx context.Context, pass *Pass) error {
	c.phase.Store(PhaseCompiling)

	if err := c.clear(ctx); err != nil {
		return err
	}
	c.state.setOrigins(map[int]common.Origin{})

	snapshot, err := model.Load(ctx, c.store)
	if err != nil {
		return fmt.Errorf("load model: %w", err)
	}
	if !snapshot.ExtensionEnabled {
		pass.Result = ResultDisabled
		c.setCompiled(nil)
		return nil
	}

	res, err := compiler.Compile(compiler.Input{
		Groups:      snapshot.Groups,
		LegacyRules: snapshot.Rules,
		Variables:   c.state.Variables(),
		Enabled:     snapshot.ExtensionEnabled,
		Limits:      c.limits,
	})
	if err != nil {
		return fmt.Errorf("compile: %w", err)
	}
	pass.Diagnostics = len(res.Diagnostics)
	if c.metrics != nil {
		c.metrics.AddDiagnostics(len(res.Diagnostics))
	}

	c.phase.Store(PhaseSubmitting)
	if len(res.Rules) > 0 {
		if err := c.engine.UpdateRules(ctx, engine.UpdateOptions{AddRules: res.Rules}); err != nil {
			return fmt.Errorf("install rules: %w", err)
		}
	}
	c.state.setOrigins(res.Origins)
	c.setCompiled(res.Rules)
	pass.Result = ResultSuccess
	pass.Installed = len(res.Rules)
	return nil
}

// clear removes every installed rule, re-reads after the settle delay and
// retries once if anything is left.
func (c *Controller) clear(ctx context.Context) error {
	installed, err := c.engine.GetRules(ctx)
	if err != nil {
		return fmt.Errorf("read installed rules: %w", err)
	}
	if len(installed) > 0 {
		if err := c.engine.UpdateRules(ctx, engine.UpdateOptions{RemoveRuleIDs: common.IDs(installed)}); err != nil {
			return fmt.Errorf("remove installed rules: %w", err)
		}
	}

	if c.settleDelay > 0 {
		time.Sleep(c.settleDelay)
	}
	left, err := c.engine.GetRules(ctx)
	if err != nil {
		return fmt.Errorf("re-read installed rules: %w", err)
	}
	if len(left) == 0 {
		return nil
	}
	slog.Warn("Rules left after removal, retrying", slog.Int("count", len(left)))
	if err := c.engine.UpdateRules(ctx, engine.UpdateOptions{RemoveRuleIDs: common.IDs(left)}); err != nil {
		return fmt.Errorf("retry removal: %w", err)
	}
	return nil
}

func (c *Controller) setCompiled(rules []common.CompiledRule) {
	if c.metrics == nil {
		return
	}
	var redirects, headers int
	for _, r := range rules {
		if r.Action.Type == common.ActionRedirect {
			redirects++
		} else {
			headers++
		}
	}
	c.metrics.SetCompiled(redirects, headers)
}
