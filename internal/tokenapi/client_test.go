package tokenapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const tokenID = "000803E8CEC1EB1B331D8A55E39D451DE8E13F59CF5509D5B34D5959000002BD"

func TestLookupURI(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v2/nft/"+tokenID, r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get(TokenHeader))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"nftokenID":"` + tokenID + `","issuer":"rIssuer","uri":"697066733A2F2F516D"}`))
	}))
	defer server.Close()

	c := NewClient(Config{BaseURL: server.URL + "/api/v2/", Token: "secret"})
	uri, err := c.LookupURI(context.Background(), tokenID)
	require.NoError(t, err)
	assert.Equal(t, "697066733A2F2F516D", uri)
}

func TestLookupURI_Errors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr error
	}{
		{name: "not found", status: http.StatusNotFound, body: `{"error":"nft not found"}`, wantErr: ErrTokenNotFound},
		{name: "no uri", status: http.StatusOK, body: `{"nftokenID":"x"}`, wantErr: ErrNoURI},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			_, err := NewClient(Config{BaseURL: server.URL}).LookupURI(context.Background(), tokenID)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestLookupURI_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))
	defer server.Close()

	_, err := NewClient(Config{BaseURL: server.URL}).LookupURI(context.Background(), tokenID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 502")
}

func TestRateLimit(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{"uri":"AA"}`))
	}))
	defer server.Close()

	c := NewClient(Config{BaseURL: server.URL, RateLimit: 1, RateBurst: 1})
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	_, err := c.LookupURI(ctx, tokenID)
	require.NoError(t, err)
	_, err = c.LookupURI(ctx, tokenID)
	assert.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}
