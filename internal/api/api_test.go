package api

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sunbk201/rulesync/internal/config"
	"github.com/sunbk201/rulesync/internal/engine"
	applog "github.com/sunbk201/rulesync/internal/log"
	"github.com/sunbk201/rulesync/internal/metrics"
	"github.com/sunbk201/rulesync/internal/model"
	"github.com/sunbk201/rulesync/internal/rule/common"
	"github.com/sunbk201/rulesync/internal/statistics"
	"github.com/sunbk201/rulesync/internal/store"
	"github.com/sunbk201/rulesync/internal/syncer"
)

const groupsJSON = `[{"id":"g1","name":"Default","enabled":true,"rules":[
  {"id":"r1","type":"url-rewrite","name":"docs","sourcePattern":"https://a.test/(.*)","targetTemplate":"https://b.test/$1"}
]}]`

type fixture struct {
	server  *APIServer
	store   *store.Memory
	engine  *engine.Memory
	ctrl    *syncer.Controller
	records *statistics.AppliedRecordList
}

func newFixture(t *testing.T, secret string) *fixture {
	t.Helper()
	st := store.NewMemory()
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.Set(context.Background(), model.KeyGroups, []byte(groupsJSON)))

	eng := engine.NewMemory(common.Limits{})
	m := metrics.New(nil)
	records := statistics.NewAppliedRecordList("")
	ctrl := syncer.NewController(syncer.Options{
		Store:   st,
		Engine:  eng,
		State:   syncer.NewState(syncer.StateOptions{Records: records, Metrics: m}),
		Metrics: m,
	})

	cfg := &config.Config{API: config.APIConfig{Listen: "127.0.0.1:0", Secret: secret}}
	cfg.Store.Redis.Password = "pw"
	srv := New(Options{
		Version:    "test",
		Config:     cfg,
		Controller: ctrl,
		Engine:     eng,
		Store:      st,
		Records:    records,
		Metrics:    m,
	})
	return &fixture{server: srv, store: st, engine: eng, ctrl: ctrl, records: records}
}

func (f *fixture) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

func TestVersion(t *testing.T) {
	f := newFixture(t, "")
	rec := f.do(t, http.MethodGet, "/version", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"version":"test"}`, rec.Body.String())
}

func TestConfigRedactsSecrets(t *testing.T) {
	f := newFixture(t, "")
	f.server.opts.Config.API.Secret = "top"
	rec := f.do(t, http.MethodGet, "/config", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "top")
	assert.NotContains(t, rec.Body.String(), `"pw"`)
	assert.Equal(t, "top", f.server.opts.Config.API.Secret)
}

func TestAuth(t *testing.T) {
	f := newFixture(t, "s3cret")

	tests := []struct {
		name   string
		header string
		query  string
		want   int
	}{
		{"missing", "", "", http.StatusUnauthorized},
		{"wrong bearer", "Bearer nope", "", http.StatusUnauthorized},
		{"bearer", "Bearer s3cret", "", http.StatusOK},
		{"query", "", "?secret=s3cret", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/version"+tt.query, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			f.server.Handler().ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestSyncThenRules(t *testing.T) {
	f := newFixture(t, "")

	rec := f.do(t, http.MethodPost, "/sync", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var res struct {
		Result string         `json:"result"`
		Status syncer.Status `json:"status"`
	}
	decode(t, rec, &res)
	assert.Equal(t, syncer.ResultSuccess, res.Result)
	require.NotNil(t, res.Status.Last)
	assert.Equal(t, 1, res.Status.Last.Installed)

	rec = f.do(t, http.MethodGet, "/rules", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var rules []struct {
		ID     int            `json:"id"`
		Origin *common.Origin `json:"origin"`
	}
	decode(t, rec, &rules)
	require.Len(t, rules, 1)
	assert.Equal(t, 1, rules[0].ID)
	require.NotNil(t, rules[0].Origin)
	assert.Equal(t, "r1", rules[0].Origin.RuleID)

	rec = f.do(t, http.MethodGet, "/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var st syncer.Status
	decode(t, rec, &st)
	assert.Equal(t, syncer.PhaseIdle, st.Phase)
	assert.False(t, st.Running)
}

func TestModel(t *testing.T) {
	f := newFixture(t, "")
	rec := f.do(t, http.MethodGet, "/rules/model", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var snap struct {
		Groups           []map[string]any `json:"groups"`
		ExtensionEnabled bool             `json:"extensionEnabled"`
	}
	decode(t, rec, &snap)
	require.Len(t, snap.Groups, 1)
	assert.Equal(t, "Default", snap.Groups[0]["name"])
	assert.True(t, snap.ExtensionEnabled)
}

func TestEvaluate(t *testing.T) {
	f := newFixture(t, "")
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/sync", "").Code)

	rec := f.do(t, http.MethodGet, "/evaluate?url=https://a.test/docs/x", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var out engine.Outcome
	decode(t, rec, &out)
	assert.Equal(t, "https://b.test/docs/x", out.RedirectURL)

	rec = f.do(t, http.MethodGet, "/evaluate", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestApplied(t *testing.T) {
	f := newFixture(t, "")
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/sync", "").Code)

	rec := f.do(t, http.MethodPost, "/applied", `{"id":1,"host":"a.test"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"recorded":true}`, rec.Body.String())

	rec = f.do(t, http.MethodPost, "/applied", `{"id":1,"host":"a.test"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"recorded":false}`, rec.Body.String())

	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, "/applied", `{"host":"a.test"}`).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, "/applied", `nope`).Code)

	f.records.Add(&statistics.AppliedRecord{RuleID: "r1", Host: "a.test", LastSeen: time.Now()})
	rec = f.do(t, http.MethodGet, "/applied", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list []statistics.AppliedRecord
	decode(t, rec, &list)
	require.Len(t, list, 1)
	assert.Equal(t, "r1", list[0].RuleID)
}

func TestMetrics(t *testing.T) {
	f := newFixture(t, "")
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/sync", "").Code)

	rec := f.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `rulesync_sync_passes_total{result="success"} 1`)
}

func TestLogsDisabled(t *testing.T) {
	f := newFixture(t, "")
	rec := f.do(t, http.MethodGet, "/logs", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func streamServer(t *testing.T) (*httptest.Server, *applog.Broadcaster) {
	t.Helper()
	f := newFixture(t, "")
	logs := applog.NewBroadcaster()
	f.server.opts.Logs = logs
	ts := httptest.NewServer(f.server.Handler())
	t.Cleanup(ts.Close)
	return ts, logs
}

func publishWhenSubscribed(t *testing.T, logs *applog.Broadcaster, line string) {
	t.Helper()
	require.Eventually(t, func() bool { return logs.Len() == 1 }, 2*time.Second, 10*time.Millisecond)
	_, err := logs.Write([]byte(line))
	require.NoError(t, err)
}

func TestLogsChunked(t *testing.T) {
	ts, logs := streamServer(t)

	resp, err := http.Get(ts.URL + "/logs")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/plain; charset=utf-8", resp.Header.Get("Content-Type"))

	publishWhenSubscribed(t, logs, "level=INFO msg=hello\n")
	line, err := bufio.NewReader(resp.Body).ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "level=INFO msg=hello\n", line)
}

func TestLogsWebSocket(t *testing.T) {
	ts, logs := streamServer(t)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/logs", nil)
	require.NoError(t, err)
	defer conn.Close()

	publishWhenSubscribed(t, logs, "level=WARN msg=ws\n")
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	kind, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, kind)
	assert.Equal(t, "level=WARN msg=ws\n", string(msg))

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return logs.Len() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestStartClose(t *testing.T) {
	f := newFixture(t, "")
	f.server.opts.Addr = "127.0.0.1:0"
	require.NoError(t, f.server.Start())
	require.NoError(t, f.server.Close())
}
