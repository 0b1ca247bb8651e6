package dashboard

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"restaurant-system/internal/common/httpx"
	"restaurant-system/internal/common/logger"
	"restaurant-system/internal/domain"
)

// Client talks to the order API on behalf of one tenant's dashboard.
type Client struct {
	base   *url.URL
	tenant string
	http   *http.Client
	dialer *websocket.Dialer
	log    *logger.Logger

	minBackoff, maxBackoff time.Duration
	onEvent                func(ev domain.Event, applied bool)
}

func NewClient(baseURL, tenantID string, log *logger.Logger) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenant id is required", domain.ErrValidation)
	}
	return &Client{
		base:       u,
		tenant:     tenantID,
		http:       &http.Client{Timeout: 10 * time.Second},
		dialer:     websocket.DefaultDialer,
		log:        log,
		minBackoff: time.Second,
		maxBackoff: 30 * time.Second,
	}, nil
}

// OnEvent registers fn to run after Watch folds each event into the
// reconciler. Set it before calling Watch.
func (c *Client) OnEvent(fn func(ev domain.Event, applied bool)) { c.onEvent = fn }

func (c *Client) endpoint(path string, q url.Values) string {
	u := *c.base
	u.Path += path
	u.RawQuery = q.Encode()
	return u.String()
}

func (c *Client) do(ctx context.Context, method, path string, q url.Values, body, out any) error {
	var rd *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path, q), rd)
	if err != nil {
		return err
	}
	req.Header.Set(httpx.TenantHeader, c.tenant)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if id := logger.RequestID(ctx); id != "" {
		req.Header.Set("X-Request-ID", id)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return problemError(resp)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// problemError turns a problem response back into the matching domain error.
func problemError(resp *http.Response) error {
	var p httpx.Problem
	_ = json.NewDecoder(resp.Body).Decode(&p)
	var base error
	switch p.Type {
	case "validation_error":
		base = domain.ErrValidation
	case "not_found":
		base = domain.ErrNotFound
	case "forbidden":
		base = domain.ErrForbidden
	case "invalid_transition":
		base = domain.ErrInvalidTransition
	case "conflict":
		base = domain.ErrConflict
	case "unavailable":
		base = domain.ErrUnavailable
	default:
		return fmt.Errorf("unexpected response %s: %s", resp.Status, p.Detail)
	}
	return fmt.Errorf("%w: %s", base, p.Detail)
}

func (c *Client) FetchPage(ctx context.Context, status domain.Status, page, pageSize int) (domain.Page, error) {
	q := url.Values{
		"status":    {string(status)},
		"page":      {strconv.Itoa(page)},
		"page_size": {strconv.Itoa(pageSize)},
	}
	var p domain.Page
	err := c.do(ctx, http.MethodGet, "/api/v1/orders", q, nil, &p)
	return p, err
}

func (c *Client) FetchCounts(ctx context.Context) (domain.CountSnapshot, error) {
	var body struct {
		Counts domain.CountSnapshot `json:"counts"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/orders/counts", nil, nil, &body); err != nil {
		return nil, err
	}
	snap := domain.NewCountSnapshot()
	for s, n := range body.Counts {
		snap[s] = n
	}
	return snap, nil
}

func (c *Client) CreateOrder(ctx context.Context, req domain.CreateOrderRequest) (domain.Order, error) {
	var o domain.Order
	err := c.do(ctx, http.MethodPost, "/api/v1/orders", nil, req, &o)
	return o, err
}

func (c *Client) Transition(ctx context.Context, orderID string, target domain.Status) (domain.Order, error) {
	var o domain.Order
	err := c.do(ctx, http.MethodPost, "/api/v1/orders/"+url.PathEscape(orderID)+"/transition", nil,
		domain.TransitionRequest{Status: target}, &o)
	return o, err
}

// TransitionOrder moves o optimistically in r, asks the server, and then
// confirms or rolls back.
func (c *Client) TransitionOrder(ctx context.Context, r *Reconciler, o domain.Order, target domain.Status) (domain.Order, error) {
	if err := r.BeginTransition(o, target); err != nil {
		return domain.Order{}, err
	}
	updated, err := c.Transition(ctx, o.ID, target)
	if err != nil {
		if ferr := r.FailTransition(ctx, o.ID); ferr != nil {
			return domain.Order{}, errors.Join(err, ferr)
		}
		return domain.Order{}, err
	}
	r.ConfirmTransition(updated)
	return updated, nil
}

// Watch keeps r subscribed until ctx ends. Each (re)connect is followed
// by a resync, since events missed while disconnected are gone.
func (c *Client) Watch(ctx context.Context, r *Reconciler) error {
	backoff := c.minBackoff
	for {
		connected, err := c.watchOnce(ctx, r)
		if ctx.Err() != nil {
			return nil
		}
		if connected {
			backoff = c.minBackoff
		}
		c.log.Warn(logger.ActionWebsocketFailed, err, map[string]any{
			"tenant_id": c.tenant, "retry_in": backoff.String(),
		})
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return nil
		}
		if backoff *= 2; backoff > c.maxBackoff {
			backoff = c.maxBackoff
		}
	}
}

func (c *Client) watchOnce(ctx context.Context, r *Reconciler) (bool, error) {
	u := *c.base
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path += "/api/v1/orders/subscribe"

	conn, resp, err := c.dialer.DialContext(ctx, u.String(), http.Header{httpx.TenantHeader: {c.tenant}})
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return false, err
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	if err := r.Resync(ctx); err != nil {
		return true, err
	}
	for {
		var ev domain.Event
		if err := conn.ReadJSON(&ev); err != nil {
			return true, err
		}
		applied := r.Apply(ev)
		if c.onEvent != nil {
			c.onEvent(ev, applied)
		}
	}
}
