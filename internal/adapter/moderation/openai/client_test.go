package openai

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, func()) {
	t.Helper()
	srv := httptest.NewServer(handler)
	c := New("test-key")
	c.baseURL = srv.URL
	c.hc = srv.Client()
	return c, srv.Close
}

func TestClassify_ParsesCategories(t *testing.T) {
	c, closeSrv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"results":[{"categories":{"hate":true,"sexual":false}}]}`))
	})
	defer closeSrv()

	result, err := c.Classify(context.Background(), "some prompt")
	require.NoError(t, err)
	assert.True(t, result.Categories["hate"])
	assert.False(t, result.Categories["sexual"])
}

func TestClassify_ClientErrorIsPermanent(t *testing.T) {
	c, closeSrv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"bad request"}`))
	})
	defer closeSrv()

	_, err := c.Classify(context.Background(), "prompt")
	require.Error(t, err)
}

func TestClassify_ServerErrorRetriesThenFails(t *testing.T) {
	calls := 0
	c, closeSrv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	defer closeSrv()
	c.hc.Timeout = 0

	_, err := c.Classify(context.Background(), "prompt")
	require.Error(t, err)
	assert.Greater(t, calls, 1)
}
