package syncer

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/sunbk201/rulesync/internal/metrics"
	"github.com/sunbk201/rulesync/internal/model"
	"github.com/sunbk201/rulesync/internal/rule/common"
	"github.com/sunbk201/rulesync/internal/rule/variable"
	"github.com/sunbk201/rulesync/internal/statistics"
)

const (
	DefaultNotifyTTL  = 30 * time.Minute
	DefaultNotifySize = 1024
)

type StateOptions struct {
	NotifyTTL  time.Duration
	NotifySize int
	Records    *statistics.AppliedRecordList
	Metrics    *metrics.Metrics
}

// State is the process-scoped data shared by passes: the variable resolver,
// the origin map of the installed rules and the rule-applied de-dup cache.
type State struct {
	mu      sync.RWMutex
	vars    *variable.Resolver
	origins map[int]common.Origin

	seen    *expirable.LRU[string, struct{}]
	records *statistics.AppliedRecordList
	metrics *metrics.Metrics
}

func NewState(opts StateOptions) *State {
	if opts.NotifyTTL <= 0 {
		opts.NotifyTTL = DefaultNotifyTTL
	}
	if opts.NotifySize <= 0 {
		opts.NotifySize = DefaultNotifySize
	}
	return &State{
		vars:    variable.New(nil),
		origins: map[int]common.Origin{},
		seen:    expirable.NewLRU[string, struct{}](opts.NotifySize, nil, opts.NotifyTTL),
		records: opts.Records,
		metrics: opts.Metrics,
	}
}

func (s *State) Variables() *variable.Resolver {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.vars
}

func (s *State) SetVariables(vars []model.EnvironmentVariable) {
	r := variable.New(vars)
	s.mu.Lock()
	s.vars = r
	s.mu.Unlock()
	slog.Debug("Variables refreshed", slog.Int("count", r.Len()))
}

// RefreshVariables reloads the variables from the store.
func (s *State) RefreshVariables(ctx context.Context, g model.Getter) error {
	vars, err := model.LoadVariables(ctx, g)
	if err != nil {
		return err
	}
	s.SetVariables(vars)
	return nil
}

func (s *State) setOrigins(origins map[int]common.Origin) {
	s.mu.Lock()
	s.origins = origins
	s.mu.Unlock()
}

func (s *State) Origin(id int) (common.Origin, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.origins[id]
	return o, ok
}

// Origins returns a copy of the compiled id to source rule map.
func (s *State) Origins() map[int]common.Origin {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[int]common.Origin, len(s.origins))
	for k, v := range s.origins {
		out[k] = v
	}
	return out
}

// RuleApplied handles the engine reporting that compiled rule id fired for
// host. It reports whether the signal was new; repeats of the same source
// rule and host within the TTL are suppressed.
func (s *State) RuleApplied(id int, host string) bool {
	origin, ok := s.Origin(id)
	if !ok {
		origin = common.Origin{RuleID: "#" + strconv.Itoa(id)}
	}
	key := origin.RuleID + "|" + host
	if s.seen.Contains(key) {
		return false
	}
	s.seen.Add(key, struct{}{})

	slog.Info("Rule applied", slog.String("rule", origin.RuleID), slog.String("name", origin.RuleName), slog.String("host", host))
	if s.records != nil {
		s.records.Record(&statistics.AppliedRecord{RuleID: origin.RuleID, RuleName: origin.RuleName, Host: host, LastSeen: time.Now()})
	}
	if s.metrics != nil {
		s.metrics.IncApplied()
	}
	return true
}
