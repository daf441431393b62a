package reconcile

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/commutetracker-core/internal/common/logger"
	"github.com/commutetracker-core/internal/replica"
	"github.com/commutetracker-core/pkg/remote"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, "test-key", 5*time.Second, logger.Discard())
}

func TestClientPullAll(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/snapshot", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get(HeaderAPIKey))
		assert.Equal(t, UserAgent, r.Header.Get("User-Agent"))
		json.NewEncoder(w).Encode(remote.Snapshot{
			Stops: []remote.Stop{{ID: 3, Lat: -37.81, Lon: 144.96}},
		})
	})

	snap, err := c.PullAll(context.Background())
	require.NoError(t, err)
	require.Len(t, snap.Stops, 1)
	assert.Equal(t, int64(3), snap.Stops[0].ID)
}

func TestClientStatusMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   error
	}{
		{"not found", http.StatusNotFound, ErrNotFound},
		{"unauthorized", http.StatusUnauthorized, ErrUnauthorized},
		{"forbidden", http.StatusForbidden, ErrUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			})
			err := c.UpdateStop(context.Background(), 3, remote.Stop{ID: 3})
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestClientServerErrorIsNotSentinel(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})
	err := c.UpdateStop(context.Background(), 3, remote.Stop{ID: 3})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
	assert.NotErrorIs(t, err, ErrUnauthorized)
}

func TestClientCreateStopRoundTrip(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/stops", r.URL.Path)
		var in remote.Stop
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		in.ID = 42
		json.NewEncoder(w).Encode(in)
	})

	created, err := c.CreateStop(context.Background(), remote.Stop{Lat: -37.81, Lon: 144.96})
	require.NoError(t, err)
	assert.Equal(t, int64(42), created.ID)
	assert.InDelta(t, -37.81, created.Lat, 1e-9)
}

func TestClientDistanceBetween(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/distance", r.URL.Path)
		q := r.URL.Query()
		assert.NotEmpty(t, q.Get("fromLat"))
		assert.NotEmpty(t, q.Get("toLon"))
		json.NewEncoder(w).Encode(remote.Distance{Meters: 4200})
	})

	d, err := c.DistanceBetween(context.Background(),
		&replica.Stop{Lat: -37.81, Lon: 144.96},
		&replica.Stop{Lat: -37.83, Lon: 144.98})
	require.NoError(t, err)
	assert.Equal(t, float64(4200), d)
}
