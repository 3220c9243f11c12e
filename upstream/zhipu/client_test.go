package zhipu

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"coffee-guru/network"
	"coffee-guru/utils"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func TestCompleteSendsBody(t *testing.T) {
	var got map[string]any
	var auth string
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		_, _ = io.WriteString(w, `{"code":200,"msg":"ok","data":{"choices":[{"content":"[{\"name\":\"A\"}]"}]}}`)
	})

	c := New("secret", utils.NewNopLogger(), WithBaseURL(srv.URL))
	out, err := c.Complete(context.Background(), "hello", map[string]any{"temperature": 0.8, "top_p": 0.9})
	require.NoError(t, err)
	require.Equal(t, `[{"name":"A"}]`, out)

	require.Equal(t, "Bearer secret", auth)
	require.Equal(t, DefaultModel, got["model"])
	require.Equal(t, 0.8, got["temperature"])
	require.Equal(t, 0.9, got["top_p"])
	require.Equal(t, float64(500), got["max_tokens"])
	msgs := got["messages"].([]any)
	require.Len(t, msgs, 1)
	require.Equal(t, map[string]any{"role": "user", "content": "hello"}, msgs[0])
}

func TestCompleteResponseShapes(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{"vendor envelope", `{"code":200,"data":{"choices":[{"content":"{\"id\":1}"}]}}`, `{"id":1}`},
		{"chat envelope", `{"choices":[{"message":{"role":"assistant","content":"ok [1]"}}]}`, "ok [1]"},
		{"bare object", `  {"name":"Kenya AA"}`, `{"name":"Kenya AA"}`},
		{"bare array", `[{"name":"Kenya AA"}]`, `[{"name":"Kenya AA"}]`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
				_, _ = io.WriteString(w, tc.body)
			})
			c := New("k", utils.NewNopLogger(), WithBaseURL(srv.URL))
			out, err := c.Complete(context.Background(), "p", nil)
			require.NoError(t, err)
			require.Equal(t, tc.want, out)
		})
	}
}

func TestCompleteRejectsProse(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "service temporarily unavailable")
	})
	c := New("k", utils.NewNopLogger(), WithBaseURL(srv.URL))

	_, err := c.Complete(context.Background(), "p", nil)
	require.ErrorIs(t, err, network.ErrMalformedResponse)
	require.False(t, network.IsTimeout(err))
}

func TestCompleteNon2xx(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"error":{"code":"1001","message":"bad token"}}`)
	})
	c := New("", utils.NewNopLogger(), WithBaseURL(srv.URL))

	_, err := c.Complete(context.Background(), "p", nil)
	require.ErrorIs(t, err, network.ErrMalformedResponse)
}

func TestCompleteTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)

	c := New("k", utils.NewNopLogger(),
		WithBaseURL(srv.URL),
		WithHTTPClient(&http.Client{Timeout: 20 * time.Millisecond}))

	_, err := c.Complete(context.Background(), "p", nil)
	require.True(t, network.IsTimeout(err))

	var te *network.TransportError
	require.True(t, errors.As(err, &te))
}

func TestCompleteInvalidEndpoint(t *testing.T) {
	for _, u := range []string{"", "not a url", "ftp://host/x", "://missing"} {
		c := New("k", utils.NewNopLogger(), WithBaseURL(u))
		_, err := c.Complete(context.Background(), "p", nil)
		require.ErrorIs(t, err, network.ErrInvalidEndpoint, u)
	}
}
