package clientutil

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aristath/folio/internal/clientdata"
	"github.com/aristath/folio/internal/domain"
	testhelpers "github.com/aristath/folio/internal/testing"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusError(t *testing.T) {
	tests := []struct {
		status    int
		transient bool
		config    bool
		notFound  bool
	}{
		{200, false, false, false},
		{401, false, true, false},
		{403, false, true, false},
		{404, false, false, true},
		{429, true, false, false},
		{502, true, false, false},
	}
	for _, tt := range tests {
		err := StatusError("p", tt.status)
		if tt.status == 200 {
			assert.NoError(t, err)
			continue
		}
		assert.Equal(t, tt.transient, domain.IsTransient(err), tt.status)
		var cfg *domain.ProviderConfigError
		assert.Equal(t, tt.config, errors.As(err, &cfg), tt.status)
		assert.Equal(t, tt.notFound, errors.Is(err, domain.ErrNotFound), tt.status)
	}
}

func TestGetJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"value": 42}`))
	}))
	defer srv.Close()

	c := New(Config{Provider: "test"}, nil, zerolog.Nop())
	var out struct {
		Value int `json:"value"`
	}
	require.NoError(t, c.GetJSON(context.Background(), srv.URL, &out))
	assert.Equal(t, 42, out.Value)
}

func TestGetJSON_ServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := New(Config{Provider: "test"}, nil, zerolog.Nop())
	var out map[string]interface{}
	err := c.GetJSON(context.Background(), srv.URL, &out)
	assert.True(t, domain.IsTransient(err))
}

func TestGetCachedJSON(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		_, _ = w.Write([]byte(`{"value": 7}`))
	}))
	defer srv.Close()

	db, cleanup := testhelpers.NewTestDB(t, "client_data")
	defer cleanup()
	cache := clientdata.NewRepository(db.Conn())

	c := New(Config{Provider: "test", RequestsPerSec: 100, Burst: 5}, cache, zerolog.Nop())
	for i := 0; i < 3; i++ {
		var out struct {
			Value int `json:"value"`
		}
		require.NoError(t, c.GetCachedJSON(context.Background(), clientdata.TableYahooChart, "k", time.Hour, srv.URL, &out))
		assert.Equal(t, 7, out.Value)
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
}
