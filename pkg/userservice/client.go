// Package userservice is the one concrete implementation of the opaque
// directory lookup that pkg/lifecycle and pkg/targeting depend on through
// their own narrow UserService interfaces. Everything about the wire
// format here is internal to this package; callers only ever see
// []string user ids or models.ErrUserServiceUnavailable.
package userservice

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/codeready-toolchain/broadcaster/pkg/models"
)

// Client calls an external HTTP directory service to resolve roles and
// product ids to member user ids. There's no shared SDK for this kind of
// bespoke internal directory API, so it talks plain JSON-over-HTTP with
// the standard library client rather than adopting a generic REST
// framework for a single GET endpoint.
type Client struct {
	baseURL string
	timeout time.Duration
	http    *http.Client
}

// New builds a Client against baseURL (e.g. "http://user-service:9000").
// Each call is bounded by timeout regardless of the caller's context
// deadline, since an unresponsive directory service is exactly the
// failure mode the circuit breaker wrapping this client exists to catch.
func New(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		timeout: timeout,
		http:    &http.Client{Timeout: timeout},
	}
}

type memberResponse struct {
	UserIDs []string `json:"userIds"`
}

// ResolveRole satisfies pkg/lifecycle's UserService interface.
func (c *Client) ResolveRole(ctx context.Context, role string) ([]string, error) {
	return c.resolveMembers(ctx, "/roles/"+url.PathEscape(role)+"/members")
}

// ResolveProduct satisfies pkg/targeting's UserService interface.
func (c *Client) ResolveProduct(ctx context.Context, productID string) ([]string, error) {
	return c.resolveMembers(ctx, "/products/"+url.PathEscape(productID)+"/members")
}

func (c *Client) resolveMembers(ctx context.Context, path string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: building request: %v", models.ErrUserServiceUnavailable, err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrUserServiceUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: unexpected status %d", models.ErrUserServiceUnavailable, resp.StatusCode)
	}

	var out memberResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: decoding response: %v", models.ErrUserServiceUnavailable, err)
	}
	return out.UserIDs, nil
}
