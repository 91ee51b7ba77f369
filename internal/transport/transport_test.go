package transport

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/comigor/chatbox-go/internal/config"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTestClient(t *testing.T, srv *httptest.Server, mutate ...func(*config.TransportConfig)) *Client {
	t.Helper()
	cfg := config.TransportConfig{BaseURL: srv.URL, Path: "/chat/", QueryParam: "query"}
	for _, fn := range mutate {
		fn(&cfg)
	}
	c, err := NewClient(cfg, WithHTTPClient(srv.Client()))
	require.NoError(t, err)
	return c
}

func TestFetchChatResponse_Success(t *testing.T) {
	var gotPath, gotQuery, gotMethod string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		gotQuery = r.URL.Query().Get("query")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"response":"Hi there","sources":[]}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	out, err := c.FetchChatResponse(context.Background(), "Hello & welcome?")
	require.NoError(t, err)
	require.Equal(t, "Hi there", out)
	require.Equal(t, http.MethodGet, gotMethod)
	require.Equal(t, "/chat/", gotPath)
	require.Equal(t, "Hello & welcome?", gotQuery)
}

func TestFetchChatResponse_EmptyStringIsValid(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"response":""}`))
	}))
	defer srv.Close()

	out, err := newTestClient(t, srv).FetchChatResponse(context.Background(), "q")
	require.NoError(t, err)
	require.Empty(t, out)
}

func TestFetchChatResponse_ProtocolErrors(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
	}{
		{"server error", http.StatusInternalServerError, `{"detail":"boom"}`},
		{"not found", http.StatusNotFound, `{"response":"ignored"}`},
		{"not json", http.StatusOK, `<html>oops</html>`},
		{"array body", http.StatusOK, `["response"]`},
		{"missing field", http.StatusOK, `{"answer":"hi"}`},
		{"number field", http.StatusOK, `{"response":42}`},
		{"null field", http.StatusOK, `{"response":null}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			_, err := newTestClient(t, srv).FetchChatResponse(context.Background(), "q")
			var perr *ProtocolError
			require.ErrorAs(t, err, &perr)
			require.Equal(t, tc.status, perr.StatusCode)
			require.Equal(t, tc.body, perr.Body)
		})
	}
}

func TestFetchChatResponse_NetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	c := newTestClient(t, srv)
	srv.Close()

	_, err := c.FetchChatResponse(context.Background(), "q")
	var nerr *NetworkError
	require.ErrorAs(t, err, &nerr)
	require.Equal(t, c.Endpoint(), nerr.URL)
}

func TestFetchChatResponse_ContextCancelAbortsRequest(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer srv.Close()
	defer close(release)

	c := newTestClient(t, srv)
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := c.FetchChatResponse(ctx, "slow")
		errCh <- err
	}()
	cancel()

	select {
	case err := <-errCh:
		var nerr *NetworkError
		require.ErrorAs(t, err, &nerr)
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("request was not aborted by cancellation")
	}
}

func TestFetchChatResponse_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer srv.Close()
	defer close(release)

	cfg := config.TransportConfig{BaseURL: srv.URL, Path: "/chat/", QueryParam: "query", Timeout: 50 * time.Millisecond}
	c, err := NewClient(cfg)
	require.NoError(t, err)

	_, err = c.FetchChatResponse(context.Background(), "q")
	var nerr *NetworkError
	require.ErrorAs(t, err, &nerr)
}

func TestFetchChatResponse_BreakerOpensAfterFailures(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := newTestClient(t, srv, func(cfg *config.TransportConfig) {
		cfg.Breaker = config.BreakerConfig{Enabled: true, MaxFailures: 2, OpenTimeout: time.Minute}
	})

	for i := 0; i < 2; i++ {
		_, err := c.FetchChatResponse(context.Background(), "q")
		var perr *ProtocolError
		require.ErrorAs(t, err, &perr)
	}

	_, err := c.FetchChatResponse(context.Background(), "q")
	require.ErrorIs(t, err, ErrCircuitOpen)
	var nerr *NetworkError
	require.ErrorAs(t, err, &nerr)
	require.EqualValues(t, 2, hits.Load(), "open breaker must not reach the backend")
}

func TestNewClient_Endpoint(t *testing.T) {
	cases := map[string]struct {
		base, path, want string
	}{
		"defaults":       {"http://localhost:8000", "/chat/", "http://localhost:8000/chat/"},
		"base with path": {"https://api.example.com/bot/", "chat/", "https://api.example.com/bot/chat/"},
		"empty path":     {"http://localhost:8000", "", "http://localhost:8000/chat/"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			c, err := NewClient(config.TransportConfig{BaseURL: tc.base, Path: tc.path})
			require.NoError(t, err)
			require.Equal(t, tc.want, c.Endpoint())
		})
	}

	_, err := NewClient(config.TransportConfig{BaseURL: "localhost"})
	require.Error(t, err)
}

func TestProtocolError_Message(t *testing.T) {
	require.Contains(t, (&ProtocolError{StatusCode: 503}).Error(), "503")
	require.Contains(t, (&ProtocolError{StatusCode: 200, Reason: `missing "response" field`}).Error(), "missing")
	require.True(t, errors.Is(&NetworkError{Err: ErrCircuitOpen}, ErrCircuitOpen))
}

func TestPreview_KeepsRuneBoundary(t *testing.T) {
	// 255 ASCII bytes then a 3-byte rune straddling the limit
	body := []byte(strings.Repeat("a", maxBodyPreview-1) + "€tail")
	got := preview(body)
	require.True(t, utf8.ValidString(got))
	require.Equal(t, strings.Repeat("a", maxBodyPreview-1), got)

	short := []byte(`{"response":1}`)
	require.Equal(t, string(short), preview(short))

	exact := []byte(strings.Repeat("é", maxBodyPreview/2))
	require.Equal(t, string(exact), preview(exact))
}
