package webhook

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/humanloop/internal/channel"
	"github.com/nhle/humanloop/internal/channel/mockchat"
	"github.com/nhle/humanloop/internal/loop"
	"github.com/nhle/humanloop/internal/model"
	"github.com/nhle/humanloop/internal/store"
	"github.com/nhle/humanloop/tests/testutil"
)

type fixture struct {
	store  store.Store
	chat   *mockchat.Connector
	coord  *loop.Coordinator
	server *Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st := testutil.NewTestStore(t)
	chat := mockchat.New(st, mockchat.WithLogger(logger))
	coord := loop.New(st, chat, loop.WithLogger(logger))

	return &fixture{
		store:  st,
		chat:   chat,
		coord:  coord,
		server: New(st, coord, WithChat(chat), WithLogger(logger)),
	}
}

func (f *fixture) do(method, path, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	f.server.Handler().ServeHTTP(w, req)
	return w
}

func (f *fixture) task(t *testing.T, id string) *model.Task {
	t.Helper()
	got, err := f.store.GetTask(context.Background(), id)
	require.NoError(t, err)
	return got
}

func TestWebhookSimpleAnswer(t *testing.T) {
	f := newFixture(t)
	task := testutil.SeedTask(t, f.store, string(channel.TypeMockChat), "Ship it?")

	w := f.do(http.MethodPost, "/webhook", `{"taskId":"`+task.ID+`","answer":"ship"}`)

	require.Equal(t, http.StatusOK, w.Code)
	got := f.task(t, task.ID)
	assert.Equal(t, model.TaskAnswered, got.Status)
	assert.Equal(t, "ship", got.Answer)
}

func TestWebhookFullTask(t *testing.T) {
	f := newFixture(t)
	task := testutil.SeedTask(t, f.store, string(channel.TypeMockChat), "Ship it?")

	body := `{"task":{"id":"` + task.ID + `","status":{"state":"completed","message":{"parts":[{"kind":"text","text":"approved"}]}}}}`
	w := f.do(http.MethodPost, "/webhook", body)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "approved", f.task(t, task.ID).Answer)
}

func TestWebhookTaskStates(t *testing.T) {
	f := newFixture(t)

	failed := testutil.SeedTask(t, f.store, "mockchat", "q1")
	w := f.do(http.MethodPost, "/webhook", `{"task":{"id":"`+failed.ID+`","status":{"state":"rejected"}}}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, model.TaskFailed, f.task(t, failed.ID).Status)

	canceled := testutil.SeedTask(t, f.store, "mockchat", "q2")
	w = f.do(http.MethodPost, "/webhook", `{"task":{"id":"`+canceled.ID+`","status":{"state":"canceled"}}}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, model.TaskCanceled, f.task(t, canceled.ID).Status)

	working := testutil.SeedTask(t, f.store, "mockchat", "q3")
	w = f.do(http.MethodPost, "/webhook", `{"task":{"id":"`+working.ID+`","status":{"state":"working"}}}`)
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, model.TaskPending, f.task(t, working.ID).Status)
}

func TestWebhookErrors(t *testing.T) {
	f := newFixture(t)

	w := f.do(http.MethodPost, "/webhook", `{"answer":"orphan"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(http.MethodPost, "/webhook", `{"taskId":"missing","answer":"yes"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)

	task := testutil.SeedTask(t, f.store, "mockchat", "q")
	w = f.do(http.MethodPost, "/webhook", `{"task":{"id":"`+task.ID+`","status":{"state":"completed"}}}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestOversizedBodyIsRejected(t *testing.T) {
	f := newFixture(t)
	task := testutil.SeedTask(t, f.store, "mockchat", "q")
	huge := strings.Repeat("a", maxBodyBytes)

	w := f.do(http.MethodPost, "/webhook", `{"taskId":"`+task.ID+`","answer":"`+huge+`"}`)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)

	w = f.do(http.MethodPost, "/api/chat/"+task.ID+"/reply", `{"text":"`+huge+`"}`)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)

	assert.Equal(t, model.TaskPending, f.task(t, task.ID).Status)
}

func TestGetTask(t *testing.T) {
	f := newFixture(t)
	task := testutil.SeedTask(t, f.store, "mockchat", "Which region?")

	w := f.do(http.MethodGet, "/api/tasks/"+task.ID, "")
	require.Equal(t, http.StatusOK, w.Code)

	var got model.Task
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "Which region?", got.Question)
	assert.Equal(t, model.TaskPending, got.Status)

	w = f.do(http.MethodGet, "/api/tasks/nope", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestChatReplyRoundTrip(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.coord.Start(context.Background()))
	defer f.coord.Stop()

	task := testutil.SeedTask(t, f.store, "mockchat", "Merge?")
	require.NoError(t, f.chat.Send(context.Background(), task.ID, "Merge?"))

	w := f.do(http.MethodPost, "/api/chat/"+task.ID+"/reply", `{"text":"merge it"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "merge it", f.task(t, task.ID).Answer)

	w = f.do(http.MethodGet, "/api/chat/"+task.ID+"/messages", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Messages []model.ChatMessage `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Messages, 2)
	assert.Equal(t, model.RoleAgent, resp.Messages[0].Role)
	assert.Equal(t, "merge it", resp.Messages[1].Body)
}

func TestChatReplyErrors(t *testing.T) {
	f := newFixture(t)
	task := testutil.SeedTask(t, f.store, "mockchat", "q")

	w := f.do(http.MethodPost, "/api/chat/"+task.ID+"/reply", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(http.MethodPost, "/api/chat/missing/reply", `{"text":"hi"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(http.MethodPost, "/api/chat/"+task.ID+"/reply", `{"text":"hi"}`)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestChatRoutesDisabled(t *testing.T) {
	gin.SetMode(gin.TestMode)
	st := testutil.NewTestStore(t)
	s := New(st, nil, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))

	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/chat/x/messages", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	f := newFixture(t)

	w := f.do(http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	w = f.do(http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}
