package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/comigor/chatbox-go/internal/config"
	"github.com/comigor/chatbox-go/internal/session"
	"github.com/comigor/chatbox-go/internal/transport"
)

func newBackend(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query().Get("query")
		if q == "fail" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"response":"re: ` + q + `"}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestAsk_PrintsTranscript(t *testing.T) {
	srv := newBackend(t)
	client, err := transport.NewClient(config.TransportConfig{BaseURL: srv.URL, Path: "/chat/", QueryParam: "query"})
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, ask(context.Background(), client, []string{"Hello", "fail", "  "}, &out))

	require.Equal(t, "user> Hello\n"+
		"bot> re: Hello\n"+
		"user> fail\n"+
		"bot> Error: the chat service sent an unexpected response.\n", out.String())
}

type mockFetcher struct {
	FetchFunc func(ctx context.Context, query string) (string, error)
}

func (m *mockFetcher) FetchChatResponse(ctx context.Context, query string) (string, error) {
	return m.FetchFunc(ctx, query)
}

func TestAsk_RepliesFollowTheirQuery(t *testing.T) {
	// the first query answers last
	slowFirst := &mockFetcher{FetchFunc: func(ctx context.Context, q string) (string, error) {
		if q == "first" {
			time.Sleep(50 * time.Millisecond)
		}
		return "re: " + q, nil
	}}

	var out bytes.Buffer
	require.NoError(t, ask(context.Background(), slowFirst, []string{"first", "second", "third"}, &out))
	require.Equal(t, "user> first\nbot> re: first\n"+
		"user> second\nbot> re: second\n"+
		"user> third\nbot> re: third\n", out.String())
}

func TestAsk_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	f := &mockFetcher{FetchFunc: func(ctx context.Context, q string) (string, error) {
		return "", ctx.Err()
	}}
	var out bytes.Buffer
	err := ask(ctx, f, []string{"a", "b"}, &out)
	require.ErrorIs(t, err, context.Canceled)
	require.Empty(t, out.String())
}

func TestWriteTranscript_PendingQueryHasNoReply(t *testing.T) {
	id := uuid.New()
	msgs := []session.Message{
		{RequestID: id, Text: "answered", Sender: session.SenderUser},
		{RequestID: uuid.New(), Text: "pending", Sender: session.SenderUser},
		{RequestID: id, Text: "yes", Sender: session.SenderBot},
	}
	var out bytes.Buffer
	require.NoError(t, writeTranscript(&out, msgs))
	require.Equal(t, "user> answered\nbot> yes\nuser> pending\n", out.String())
}

func TestAskCmd_UsesFlagsOverConfig(t *testing.T) {
	srv := newBackend(t)
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("transport:\n  base_url: http://127.0.0.1:1\nlog:\n  file: \"\"\n"), 0o644))

	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"ask", "--config", cfgPath, "--base-url", srv.URL, "Hello"})

	require.NoError(t, cmd.ExecuteContext(context.Background()))
	require.Equal(t, "user> Hello\nbot> re: Hello\n", out.String())
}

func TestAskCmd_RequiresQuery(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"ask"})
	require.Error(t, cmd.Execute())
}

func TestAskCmd_InvalidConfig(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"ask", "--base-url", "not a url", "--config", filepath.Join(t.TempDir(), "missing.yaml"), "hi"})
	require.Error(t, cmd.Execute())
}
