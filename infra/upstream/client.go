// Package upstream talks to the order backend: token verification, candidate
// lookup, assignment checks and post-dispatch notifications.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/kilianp07/shiprelay/auth"
	"github.com/kilianp07/shiprelay/core/logger"
	"github.com/kilianp07/shiprelay/core/model"
	coremon "github.com/kilianp07/shiprelay/core/monitoring"
)

// ErrUnauthorized is returned when the backend refuses the presented token.
var ErrUnauthorized = errors.New("upstream rejected credentials")

// Config defines how to reach the backend.
type Config struct {
	BaseURL        string `json:"base_url"`
	TimeoutSeconds int    `json:"timeout_seconds"`
	// MaxRetries applies to idempotent GET calls only.
	MaxRetries int `json:"max_retries"`
	// OutcomePath receives every dispatch outcome when set.
	OutcomePath string    `json:"outcome_path"`
	Auth        auth.Conf `json:"auth"`
}

// SetDefaults fills unset fields.
func (c *Config) SetDefaults() {
	if c.TimeoutSeconds <= 0 {
		c.TimeoutSeconds = 10
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	} else if c.MaxRetries == 0 {
		c.MaxRetries = 2
	}
}

// Validate checks the base URL.
func (c Config) Validate() error {
	if c.BaseURL == "" {
		return errors.New("upstream.base_url is required")
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("upstream.base_url %q is not an absolute URL", c.BaseURL)
	}
	return nil
}

// StatusError is a non-2xx answer from the backend.
type StatusError struct {
	Op   string
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: backend answered %d: %s", e.Op, e.Code, e.Body)
}

// Entity is a candidate returned by the backend.
type Entity struct {
	UserID model.ActorID `json:"user_id"`
}

// Nearest lists the drivers and companies close to a location.
type Nearest struct {
	Drivers   []Entity `json:"nearestDriver"`
	Companies []Entity `json:"nearestCompany"`
}

// Notification asks the backend to push notifications about a shipment to
// the listed actors.
type Notification struct {
	ShipmentID string          `json:"shipment_id"`
	Drivers    []model.ActorID `json:"drivers"`
	Companies  []model.ActorID `json:"companies"`
}

// Client is the backend HTTP client. It is safe for concurrent use.
type Client struct {
	base   *url.URL
	cfg    Config
	http   *http.Client
	creds  *auth.ClientCred
	logger logger.Logger
}

// New builds a client. When cfg.Auth is enabled, calls made without a
// forwarded Authorization header use a client-credentials token.
func New(cfg Config, log logger.Logger) (*Client, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	base, _ := url.Parse(strings.TrimRight(cfg.BaseURL, "/") + "/")
	c := &Client{
		base:   base,
		cfg:    cfg,
		http:   &http.Client{Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second},
		logger: logger.OrNop(log),
	}
	if cfg.Auth.Enabled() {
		c.creds = auth.NewClientCred(cfg.Auth)
	}
	return c, nil
}

// Verify resolves a connection token to the identity it was issued to.
func (c *Client) Verify(ctx context.Context, token string) (model.ActorID, error) {
	var user struct {
		ID model.ActorID `json:"id"`
	}
	if err := c.get(ctx, "verify", "user", nil, "Bearer "+token, &user); err != nil {
		return "", err
	}
	if user.ID == "" {
		return "", fmt.Errorf("verify: %w: no user id", ErrUnauthorized)
	}
	return user.ID, nil
}

// IsAssigned reports whether the shipment already has a carrier.
func (c *Client) IsAssigned(ctx context.Context, shipmentID, authz string) (bool, error) {
	var out struct {
		HasAssigned bool `json:"hasAssigned"`
	}
	path := "shipment/" + url.PathEscape(shipmentID) + "/assigned"
	if err := c.get(ctx, "is_assigned", path, nil, authz, &out); err != nil {
		return false, err
	}
	return out.HasAssigned, nil
}

// NearestEntities returns the drivers and companies near a location.
func (c *Client) NearestEntities(ctx context.Context, lat, long, authz string) (Nearest, error) {
	var out Nearest
	q := url.Values{"latitude": {lat}, "longitude": {long}}
	err := c.get(ctx, "nearest_entities", "nearest-entities", q, authz, &out)
	return out, err
}

// SendNotifications asks the backend to notify actors about a shipment.
func (c *Client) SendNotifications(ctx context.Context, n Notification, authz string) error {
	return c.post(ctx, "send_notifications", "shipment/send-socket-notifications", n, authz)
}

// ReportOutcome posts a dispatch outcome. It is a no-op unless an outcome
// path is configured.
func (c *Client) ReportOutcome(ctx context.Context, o model.Outcome, authz string) error {
	if c.cfg.OutcomePath == "" {
		return nil
	}
	return c.post(ctx, "report_outcome", strings.TrimLeft(c.cfg.OutcomePath, "/"), o, authz)
}

func (c *Client) get(ctx context.Context, op, path string, q url.Values, authz string, out any) error {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = 200 * time.Millisecond
	policy := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(c.cfg.MaxRetries)), ctx)
	err := backoff.Retry(func() error {
		err := c.do(ctx, op, http.MethodGet, path, q, nil, authz, out)
		var se *StatusError
		if errors.As(err, &se) && se.Code < 500 {
			return backoff.Permanent(err)
		}
		if errors.Is(err, ErrUnauthorized) {
			return backoff.Permanent(err)
		}
		return err
	}, policy)
	return c.report(op, err)
}

func (c *Client) post(ctx context.Context, op, path string, body any, authz string) error {
	return c.report(op, c.do(ctx, op, http.MethodPost, path, nil, body, authz, nil))
}

func (c *Client) report(op string, err error) error {
	if err == nil || errors.Is(err, ErrUnauthorized) || errors.Is(err, context.Canceled) {
		return err
	}
	c.logger.Errorf("upstream %s failed: %v", op, err)
	coremon.CaptureException(err, map[string]string{"module": "upstream", "op": op})
	return err
}

func (c *Client) do(ctx context.Context, op, method, path string, q url.Values, body any, authz string, out any) error {
	u := c.base.ResolveReference(&url.URL{Path: path})
	if len(q) > 0 {
		u.RawQuery = q.Encode()
	}
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: encode: %w", op, err)
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), rd)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if err := c.authorize(req, authz); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		_, _ = io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("%s: %w (%d)", op, ErrUnauthorized, resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{Op: op, Code: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decode: %w", op, err)
	}
	return nil
}

func (c *Client) authorize(req *http.Request, authz string) error {
	if authz != "" {
		req.Header.Set("Authorization", authz)
		return nil
	}
	if c.creds != nil {
		return c.creds.SetAuthHeader(req)
	}
	return nil
}
