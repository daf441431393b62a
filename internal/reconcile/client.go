package reconcile

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/commutetracker-core/internal/common/logger"
	"github.com/commutetracker-core/internal/replica"
	"github.com/commutetracker-core/pkg/remote"
)

const (
	HeaderAPIKey = "X-Api-Key"
	UserAgent    = "commutetracker-core/1.0"
)

var (
	// ErrNotFound means the remote store has no entity under the given key;
	// the caller falls back to a create.
	ErrNotFound = errors.New("remote: not found")
	// ErrUnauthorized means our credentials were rejected; the sync pass
	// aborts and the auth collaborator takes over.
	ErrUnauthorized = errors.New("remote: unauthorized")
)

// API is everything the engine and the detection flow need from the remote
// store.
type API interface {
	PullAll(ctx context.Context) (*remote.Snapshot, error)
	CreateVehicle(ctx context.Context, v remote.Vehicle) (*remote.Vehicle, error)
	UpdateVehicle(ctx context.Context, mac string, v remote.Vehicle) error
	CreateLine(ctx context.Context, l remote.Line) (*remote.Line, error)
	UpdateLine(ctx context.Context, id int64, l remote.Line) error
	CreateStop(ctx context.Context, s remote.Stop) (*remote.Stop, error)
	UpdateStop(ctx context.Context, id int64, s remote.Stop) error
	LinkLineStop(ctx context.Context, lineID, stopID int64) error
	UploadTravel(ctx context.Context, t remote.Travel) error
	DistanceBetween(ctx context.Context, a, b *replica.Stop) (float64, error)
}

// Client talks JSON over HTTP to the remote store. Every call is bounded by
// the configured timeout and is never retried inline; retry is the next
// reconciliation pass.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     logger.Logger
}

func NewClient(baseURL, apiKey string, timeout time.Duration, log logger.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 5,
				IdleConnTimeout:     30 * time.Second,
			},
		},
		logger: log,
	}
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reqBody io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request: %w", err)
		}
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set(HeaderAPIKey, c.apiKey)
	req.Header.Set("User-Agent", UserAgent)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("executing %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return ErrUnauthorized
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%s %s returned status %d: %s", method, path, resp.StatusCode, string(respBody))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}
	return nil
}

func (c *Client) PullAll(ctx context.Context) (*remote.Snapshot, error) {
	var snap remote.Snapshot
	if err := c.do(ctx, http.MethodGet, "/api/v1/snapshot", nil, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

func (c *Client) CreateVehicle(ctx context.Context, v remote.Vehicle) (*remote.Vehicle, error) {
	var created remote.Vehicle
	if err := c.do(ctx, http.MethodPost, "/api/v1/vehicles", v, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

func (c *Client) UpdateVehicle(ctx context.Context, mac string, v remote.Vehicle) error {
	return c.do(ctx, http.MethodPut, "/api/v1/vehicles/"+url.PathEscape(mac), v, nil)
}

func (c *Client) CreateLine(ctx context.Context, l remote.Line) (*remote.Line, error) {
	var created remote.Line
	if err := c.do(ctx, http.MethodPost, "/api/v1/lines", l, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

func (c *Client) UpdateLine(ctx context.Context, id int64, l remote.Line) error {
	return c.do(ctx, http.MethodPut, fmt.Sprintf("/api/v1/lines/%d", id), l, nil)
}

func (c *Client) CreateStop(ctx context.Context, s remote.Stop) (*remote.Stop, error) {
	var created remote.Stop
	if err := c.do(ctx, http.MethodPost, "/api/v1/stops", s, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

func (c *Client) UpdateStop(ctx context.Context, id int64, s remote.Stop) error {
	return c.do(ctx, http.MethodPut, fmt.Sprintf("/api/v1/stops/%d", id), s, nil)
}

func (c *Client) LinkLineStop(ctx context.Context, lineID, stopID int64) error {
	return c.do(ctx, http.MethodPost,
		fmt.Sprintf("/api/v1/lines/%d/stops/%d", lineID, stopID), nil, nil)
}

func (c *Client) UploadTravel(ctx context.Context, t remote.Travel) error {
	return c.do(ctx, http.MethodPost, "/api/v1/travels", t, nil)
}

// DistanceBetween asks the routing lookup for the travelled distance between
// two stops. Coordinates are sent rather than ids so provisional stops can
// be resolved too.
func (c *Client) DistanceBetween(ctx context.Context, a, b *replica.Stop) (float64, error) {
	q := url.Values{}
	q.Set("fromLat", fmt.Sprintf("%f", a.Lat))
	q.Set("fromLon", fmt.Sprintf("%f", a.Lon))
	q.Set("toLat", fmt.Sprintf("%f", b.Lat))
	q.Set("toLon", fmt.Sprintf("%f", b.Lon))
	var d remote.Distance
	if err := c.do(ctx, http.MethodGet, "/api/v1/distance?"+q.Encode(), nil, &d); err != nil {
		return 0, err
	}
	return d.Meters, nil
}
