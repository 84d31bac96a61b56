// Package callapi is the REST client for the call-management service.
package callapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/dkeye/Dial/internal/core"
	"github.com/dkeye/Dial/internal/domain"
	"github.com/rs/zerolog/log"
)

// HeaderUserID carries the asserted identity.
const HeaderUserID = "X-User-ID"

// APIError is a non-2xx response.
type APIError struct {
	Status int
	Detail string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("call api: %d %s", e.Status, e.Detail)
}

// Client implements core.CallAPI for one identity.
type Client struct {
	base string
	self domain.UserID
	hc   *http.Client
}

var _ core.CallAPI = (*Client)(nil)

func New(base string, self domain.UserID, hc *http.Client) *Client {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Client{base: strings.TrimRight(base, "/"), self: self, hc: hc}
}

func (c *Client) Initiate(ctx context.Context, remote domain.UserID) (domain.CallID, error) {
	var out struct {
		CallID domain.CallID `json:"call_id"`
	}
	err := c.do(ctx, http.MethodPost, "/api/call/initiate", map[string]string{"professional_id": string(remote)}, &out)
	if err != nil {
		return "", err
	}
	if out.CallID == "" {
		return "", fmt.Errorf("call api: initiate returned no call id")
	}
	return out.CallID, nil
}

func (c *Client) Accept(ctx context.Context, id domain.CallID) error {
	return c.do(ctx, http.MethodPost, "/api/call/"+url.PathEscape(string(id))+"/accept", nil, nil)
}

func (c *Client) End(ctx context.Context, id domain.CallID) (core.EndResult, error) {
	var out core.EndResult
	err := c.do(ctx, http.MethodPost, "/api/call/"+url.PathEscape(string(id))+"/end", nil, &out)
	return out, err
}

func (c *Client) Presence(ctx context.Context, id domain.UserID) (domain.Presence, error) {
	var out struct {
		Status string `json:"status"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/users/"+url.PathEscape(string(id))+"/presence", nil, &out); err != nil {
		return "", err
	}
	return domain.ParsePresence(out.Status)
}

func (c *Client) Me(ctx context.Context) (domain.User, error) {
	var u domain.User
	err := c.do(ctx, http.MethodGet, "/api/me", nil, &u)
	return u, err
}

func (c *Client) SetStatus(ctx context.Context, p domain.Presence) error {
	return c.do(ctx, http.MethodPut, "/api/status", map[string]string{"status": string(p)}, nil)
}

func (c *Client) Professionals(ctx context.Context) ([]domain.User, error) {
	var out []domain.User
	err := c.do(ctx, http.MethodGet, "/api/professionals", nil, &out)
	return out, err
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return err
	}
	req.Header.Set(HeaderUserID, string(c.self))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("call api %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		var e struct {
			Detail string `json:"detail"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		log.Debug().Str("module", "callapi").Str("path", path).Int("status", resp.StatusCode).Str("detail", e.Detail).Msg("request refused")
		return &APIError{Status: resp.StatusCode, Detail: e.Detail}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("call api %s %s: decode: %w", method, path, err)
	}
	return nil
}
