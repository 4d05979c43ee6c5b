package adapter

import (
	stdcontext "context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingDecider struct {
	max  int
	seen []RetryAttempt
}

func (d *countingDecider) ShouldRetry(a RetryAttempt) (bool, time.Duration) {
	d.seen = append(d.seen, a)
	return a.StatusCode >= 500 && a.Attempt < d.max, time.Millisecond
}

func TestTransport_Do_SendsJSONWithBasicAuth(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "testing", user)
		assert.Equal(t, "testing123", pass)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "496160873888", body["merchid"])

		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"respstat":"A"}`))
	}))
	defer server.Close()

	tr := NewTransport("CardConnect")
	resp, err := tr.Do(stdcontext.Background(), Call{
		Operation: "auth",
		Method:    http.MethodPost,
		URL:       server.URL,
		Body:      map[string]string{"merchid": "496160873888"},
		Username:  "testing",
		Password:  "testing123",
	})
	require.NoError(t, err)
	assert.True(t, resp.OK())
	assert.Equal(t, 1, resp.Attempts)
	assert.JSONEq(t, `{"respstat":"A"}`, string(resp.Body))
}

func TestTransport_Do_NoRetryByDefault(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	resp, err := NewTransport("Payload").Do(stdcontext.Background(), Call{Operation: "get", Method: http.MethodGet, URL: server.URL})
	require.NoError(t, err, "a non-2xx reply is a response, not an error")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestTransport_Do_RetriesWhenDeciderAllows(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	decider := &countingDecider{max: 5}
	resp, err := NewTransport("Payload", WithRetryDecider(decider)).
		Do(stdcontext.Background(), Call{Operation: "get", Method: http.MethodGet, URL: server.URL})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 3, resp.Attempts)
	require.Len(t, decider.seen, 3)
	assert.Equal(t, http.StatusBadGateway, decider.seen[0].StatusCode)
	assert.Equal(t, "get", decider.seen[0].Operation)
	assert.Equal(t, "Payload", decider.seen[0].Gateway)
}

func TestTransport_Do_ClientTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	tr := NewTransport("CardConnect", WithHTTPClient(&http.Client{Timeout: 20 * time.Millisecond}))
	_, err := tr.Do(stdcontext.Background(), Call{Operation: "inquire", Method: http.MethodGet, URL: server.URL})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CardConnect inquire")
}

func TestTransport_Do_ContextDeadline(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	ctx, cancel := stdcontext.WithTimeout(stdcontext.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := NewTransport("Payload").Do(ctx, Call{Operation: "create", Method: http.MethodPost, URL: server.URL, Body: map[string]int{"amount": 1}})
	require.Error(t, err)
	assert.ErrorIs(t, err, stdcontext.DeadlineExceeded)
}
