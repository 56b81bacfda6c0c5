// Package schoolapi is a thin client for the remote school REST API.
package schoolapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

const DefaultErrorMessage = "Something went wrong. Please try again."

// Error is a non-2xx answer from the API.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("schoolapi: %d %s", e.Status, e.Message)
}

// Message returns the text a user should see for err.
func Message(err error) string {
	var apiErr *Error
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	return DefaultErrorMessage
}

type Client struct {
	baseURL string
	http    *http.Client
}

func New(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

func (c *Client) Login(ctx context.Context, req LoginRequest) (*LoginResponse, error) {
	var out Envelope[LoginResponse]
	if err := c.do(ctx, c.http, http.MethodPost, "/v1/auth/login", req, &out); err != nil {
		return nil, err
	}
	return &out.Data, nil
}

func (c *Client) SendOTP(ctx context.Context, email string) error {
	var out Envelope[json.RawMessage]
	return c.do(ctx, c.http, http.MethodPost, "/v1/auth/otp/send", OTPRequest{Email: email}, &out)
}

func (c *Client) VerifyOTP(ctx context.Context, email, code string) (*OTPResponse, error) {
	var out Envelope[OTPResponse]
	if err := c.do(ctx, c.http, http.MethodPost, "/v1/auth/otp/verify", OTPRequest{Email: email, Code: code}, &out); err != nil {
		return nil, err
	}
	return &out.Data, nil
}

// Me fetches the profile behind token.
func (c *Client) Me(ctx context.Context, token string) (*User, error) {
	var out Envelope[User]
	if err := c.do(ctx, c.authed(ctx, token), http.MethodGet, "/v1/auth/me", nil, &out); err != nil {
		return nil, err
	}
	return &out.Data, nil
}

// authed wraps the base client so every request carries token as a bearer.
func (c *Client) authed(ctx context.Context, token string) *http.Client {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.http)
	client := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: token,
		TokenType:   "Bearer",
	}))
	client.Timeout = c.http.Timeout
	return client
}

func (c *Client) do(ctx context.Context, client *http.Client, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("schoolapi: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var errBody ErrorBody
		_ = json.NewDecoder(resp.Body).Decode(&errBody)
		return &Error{Status: resp.StatusCode, Message: errBody.Message}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("schoolapi: decode %s: %w", path, err)
	}
	return nil
}
