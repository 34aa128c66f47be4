package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memohai/warden/internal/channel"
	"github.com/memohai/warden/internal/channel/adapters/local"
	"github.com/memohai/warden/internal/healthcheck"
	"github.com/memohai/warden/internal/policy"
)

type fakeStats struct{}

func (fakeStats) Stats() policy.Stats { return policy.Stats{Registered: 2, Users: 2, Groups: 1} }

type fakePrefix string

func (p fakePrefix) Get() string { return string(p) }

type fakeStatus struct{}

func (fakeStatus) Status() channel.ConnectionStatus {
	return channel.ConnectionStatus{ChannelType: channel.TypeLocal, Running: true, Processed: 3}
}

type recordingHandler struct {
	mu     sync.Mutex
	events []channel.InboundEvent
}

func (r *recordingHandler) handle(_ context.Context, event channel.InboundEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func do(e *echo.Echo, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestPingHandler(t *testing.T) {
	t.Parallel()

	e := echo.New()
	NewPingHandler(nil).Register(e)

	rec := do(e, http.MethodGet, "/ping", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)

	rec = do(e, http.MethodHead, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestStateHandler(t *testing.T) {
	t.Parallel()

	e := echo.New()
	h := NewStateHandler(nil, fakeStats{}, fakePrefix("!"), fakeStatus{})
	h.startedAt = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	h.now = func() time.Time { return h.startedAt.Add(90 * time.Second) }
	h.Register(e)

	rec := do(e, http.MethodGet, "/api/state", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp StateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "!", resp.Prefix)
	assert.Equal(t, 2, resp.Stats.Registered)
	assert.Equal(t, 1, resp.Stats.Groups)
	assert.True(t, resp.Channel.Running)
	assert.Equal(t, "1m30s", resp.Uptime)
}

func TestStateHandlerNotConfigured(t *testing.T) {
	t.Parallel()

	e := echo.New()
	NewStateHandler(nil, nil, nil, nil).Register(e)
	rec := do(e, http.MethodGet, "/api/state", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func newLocal(t *testing.T) (*echo.Echo, *local.LocalAdapter, *recordingHandler) {
	t.Helper()
	adapter := local.NewLocalAdapter(nil)
	rec := &recordingHandler{}
	_, err := adapter.Connect(context.Background(), rec.handle)
	require.NoError(t, err)
	e := echo.New()
	NewLocalChannelHandler(nil, adapter).Register(e)
	return e, adapter, rec
}

func TestLocalPostEvents(t *testing.T) {
	t.Parallel()

	e, _, handler := newLocal(t)

	res := do(e, http.MethodPost, "/api/local/events", `{"type":"text","sender":"1@user","chat_id":"g@group","text":".menu","quoted":{"id":"m1","author":"2@user"}}`)
	require.Equal(t, http.StatusAccepted, res.Code, res.Body.String())
	res = do(e, http.MethodPost, "/api/local/events", `{"type":"membership","chat_id":"g@group","participants":["3@user"],"action":"add"}`)
	require.Equal(t, http.StatusAccepted, res.Code, res.Body.String())
	res = do(e, http.MethodPost, "/api/local/events", `{"type":"button","sender":"1@user","chat_id":"1@user","selected_id":".register"}`)
	require.Equal(t, http.StatusAccepted, res.Code, res.Body.String())

	require.Len(t, handler.events, 3)
	text := handler.events[0].(channel.TextMessage)
	assert.True(t, text.IsGroup)
	require.NotNil(t, text.Quoted)
	assert.Equal(t, "g@group", text.Quoted.Ref.ChatID)
	assert.Equal(t, "2@user", text.Quoted.Author)
	assert.Equal(t, channel.MembershipAdd, handler.events[1].(channel.MembershipChange).Action)
	assert.Equal(t, ".register", handler.events[2].(channel.ButtonTap).SelectedID)
}

func TestLocalPostEventValidation(t *testing.T) {
	t.Parallel()

	e, _, handler := newLocal(t)
	cases := []string{
		`{"type":"text","sender":"1@user"}`,
		`{"type":"text","chat_id":"g@group"}`,
		`{"type":"membership","chat_id":"g@group","action":"join","participants":["1@user"]}`,
		`{"type":"membership","chat_id":"g@group","action":"add"}`,
		`{"type":"button","chat_id":"g@group","sender":"1@user"}`,
		`{"type":"poll","chat_id":"g@group"}`,
		`not json`,
	}
	for _, body := range cases {
		res := do(e, http.MethodPost, "/api/local/events", body)
		assert.Equal(t, http.StatusBadRequest, res.Code, body)
	}
	assert.Empty(t, handler.events)
}

func TestLocalPostEventNotConnected(t *testing.T) {
	t.Parallel()

	e := echo.New()
	NewLocalChannelHandler(nil, local.NewLocalAdapter(nil)).Register(e)
	res := do(e, http.MethodPost, "/api/local/events", `{"sender":"1@user","chat_id":"1@user","text":"hi"}`)
	assert.Equal(t, http.StatusServiceUnavailable, res.Code)
}

func TestLocalRosterAndOutbox(t *testing.T) {
	t.Parallel()

	e, adapter, _ := newLocal(t)
	res := do(e, http.MethodPut, "/api/local/groups/g@group/roster", `{"members":[{"id":"1@user","is_admin":true}]}`)
	require.Equal(t, http.StatusNoContent, res.Code)

	roster, err := adapter.GroupRoster(context.Background(), "g@group")
	require.NoError(t, err)
	require.Len(t, roster, 1)
	assert.True(t, roster[0].IsAdmin)

	_, err = adapter.SendText(context.Background(), "g@group", "one", nil, nil)
	require.NoError(t, err)
	_, err = adapter.SendText(context.Background(), "g@group", "two", nil, nil)
	require.NoError(t, err)

	res = do(e, http.MethodGet, "/api/local/outbox?since=1", "")
	require.Equal(t, http.StatusOK, res.Code)
	var body struct {
		Items []local.OutboxEntry `json:"items"`
	}
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &body))
	require.Len(t, body.Items, 1)
	assert.Equal(t, "two", body.Items[0].Text)

	res = do(e, http.MethodGet, "/api/local/outbox?since=-1", "")
	assert.Equal(t, http.StatusBadRequest, res.Code)
}

func TestLocalStream(t *testing.T) {
	t.Parallel()

	e, adapter, _ := newLocal(t)
	srv := httptest.NewServer(e)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/local/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	// The subscription is registered after the upgrade completes, so keep
	// sending until the first entry arrives.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		ticker := time.NewTicker(20 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				_, _ = adapter.SendText(context.Background(), "1@user", "streamed", nil, nil)
			}
		}
	}()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var entry local.OutboxEntry
	require.NoError(t, conn.ReadJSON(&entry))
	assert.Equal(t, "streamed", entry.Text)
	assert.Equal(t, local.KindText, entry.Kind)
}

type fixedChecker []healthcheck.CheckResult

func (f fixedChecker) ListChecks(context.Context) []healthcheck.CheckResult { return f }

func TestHealthHandler(t *testing.T) {
	t.Parallel()

	e := echo.New()
	NewHealthHandler(nil, fixedChecker{{ID: "a", Status: healthcheck.StatusOK}}).Register(e)
	rec := do(e, http.MethodGet, "/api/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, healthcheck.StatusOK, resp.Status)
	assert.Len(t, resp.Checks, 1)

	e = echo.New()
	NewHealthHandler(nil,
		fixedChecker{{ID: "a", Status: healthcheck.StatusOK}},
		fixedChecker{{ID: "b", Status: healthcheck.StatusError}},
	).Register(e)
	rec = do(e, http.MethodGet, "/api/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
