package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sunbk201/rulesync/internal/engine"
	"github.com/sunbk201/rulesync/internal/metrics"
	"github.com/sunbk201/rulesync/internal/model"
	"github.com/sunbk201/rulesync/internal/rule/common"
	"github.com/sunbk201/rulesync/internal/syncer"
)

var (
	errLogsDisabled = errors.New("log streaming disabled")
	errNoStreaming  = errors.New("streaming not supported")
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func metricsHandler(m *metrics.Metrics) http.Handler {
	return promhttp.HandlerFor(m.Registry(), promhttp.HandlerOpts{})
}

func (s *APIServer) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"version": s.opts.Version})
}

func (s *APIServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	if s.opts.Config == nil {
		writeJSON(w, http.StatusOK, struct{}{})
		return
	}
	cfg := *s.opts.Config
	if cfg.API.Secret != "" {
		cfg.API.Secret = "******"
	}
	if cfg.Store.Redis.Password != "" {
		cfg.Store.Redis.Password = "******"
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (s *APIServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.opts.Controller.Status())
}

type installedRule struct {
	common.CompiledRule
	Origin *common.Origin `json:"origin,omitempty"`
}

func (s *APIServer) handleRules(w http.ResponseWriter, r *http.Request) {
	rules, err := s.opts.Engine.GetRules(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	out := make([]installedRule, 0, len(rules))
	for _, rule := range rules {
		ir := installedRule{CompiledRule: rule}
		if o, ok := s.opts.Controller.State().Origin(rule.ID); ok {
			ir.Origin = &o
		}
		out = append(out, ir)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *APIServer) handleModel(w http.ResponseWriter, r *http.Request) {
	snapshot, err := model.Load(r.Context(), s.opts.Store)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

type evaluator interface {
	Evaluate(url string, rt common.ResourceType) (*engine.Outcome, error)
}

func (s *APIServer) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	ev, ok := s.opts.Engine.(evaluator)
	if !ok {
		writeError(w, http.StatusNotImplemented, errors.New("engine cannot evaluate requests"))
		return
	}
	url := r.URL.Query().Get("url")
	if url == "" {
		writeError(w, http.StatusBadRequest, errors.New("url is required"))
		return
	}
	rt := common.ResourceType(r.URL.Query().Get("type"))
	if rt == "" {
		rt = common.ResourceMainFrame
	}
	out, err := ev.Evaluate(url, rt)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *APIServer) handleSync(w http.ResponseWriter, r *http.Request) {
	ran, err := s.opts.Controller.TrySynchronize(r.Context())
	status := s.opts.Controller.Status()
	switch {
	case err != nil:
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error(), "status": status})
	case !ran:
		writeJSON(w, http.StatusAccepted, map[string]any{"result": syncer.ResultSkipped, "status": status})
	default:
		writeJSON(w, http.StatusOK, map[string]any{"result": status.Last.Result, "status": status})
	}
}

type appliedRequest struct {
	ID   int    `json:"id"`
	Host string `json:"host"`
}

func (s *APIServer) handleApplied(w http.ResponseWriter, r *http.Request) {
	var req appliedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.ID < 1 || req.Host == "" {
		writeError(w, http.StatusBadRequest, errors.New("id and host are required"))
		return
	}
	fresh := s.opts.Controller.State().RuleApplied(req.ID, req.Host)
	writeJSON(w, http.StatusOK, map[string]bool{"recorded": fresh})
}

func (s *APIServer) handleAppliedList(w http.ResponseWriter, r *http.Request) {
	if s.opts.Records == nil {
		writeJSON(w, http.StatusOK, []any{})
		return
	}
	writeJSON(w, http.StatusOK, s.opts.Records.Records())
}
