// Package earthdata implements ports.TileArchive against NASA Earthdata Login
// and the Common Metadata Repository (CMR).
package earthdata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"os"
	"strings"
	"time"

	"github.com/riverscan/riverscan/internal/core/domain"
)

// Default service endpoints.
const (
	DefaultURSURL = "https://urs.earthdata.nasa.gov"
	DefaultCMRURL = "https://cmr.earthdata.nasa.gov"
)

const userAgent = "riverscan-fetchtiles"

// Config configures a Client.
type Config struct {
	URSURL      string
	CMRURL      string
	PageSize    int
	Timeout     time.Duration
	Credentials Credentials
}

// Client talks to Earthdata Login and CMR.
type Client struct {
	http     *http.Client
	ursURL   string
	cmrURL   string
	pageSize int
	creds    Credentials
	token    string
}

// NewClient creates a Client. A cookie jar keeps the session across the
// redirects data hosts send through Earthdata Login.
func NewClient(cfg Config) (*Client, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	if cfg.URSURL == "" {
		cfg.URSURL = DefaultURSURL
	}
	if cfg.CMRURL == "" {
		cfg.CMRURL = DefaultCMRURL
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 500
	}
	return &Client{
		http:     &http.Client{Jar: jar, Timeout: cfg.Timeout},
		ursURL:   strings.TrimRight(cfg.URSURL, "/"),
		cmrURL:   strings.TrimRight(cfg.CMRURL, "/"),
		pageSize: cfg.PageSize,
		creds:    cfg.Credentials,
	}, nil
}

// StatusError is a non-2xx response from one of the services.
type StatusError struct {
	Op     string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("%s: %d %s", e.Op, e.Status, http.StatusText(e.Status))
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

// ClientError reports whether the service rejected the request itself, as
// opposed to failing to serve it.
func (e *StatusError) ClientError() bool {
	return e.Status >= 400 && e.Status < 500
}

type tokenResponse struct {
	AccessToken    string `json:"access_token"`
	TokenType      string `json:"token_type"`
	ExpirationDate string `json:"expiration_date"`
}

// Authenticate exchanges the username and password for a bearer token.
func (c *Client) Authenticate(ctx context.Context) error {
	if c.creds.Username == "" || c.creds.Password == "" {
		return fmt.Errorf("%w: no credentials configured", domain.ErrAuthentication)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.ursURL+"/api/users/find_or_create_token", nil)
	if err != nil {
		return err
	}
	req.SetBasicAuth(c.creds.Username, c.creds.Password)

	resp, err := c.do(req, "earthdata login")
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrAuthentication, err)
	}
	defer resp.Body.Close()

	var tok tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return fmt.Errorf("%w: decode token response: %v", domain.ErrAuthentication, err)
	}
	if tok.AccessToken == "" {
		return fmt.Errorf("%w: empty access token", domain.ErrAuthentication)
	}

	c.token = tok.AccessToken
	slog.Debug("earthdata token acquired", "user", c.creds.Username, "expires", tok.ExpirationDate)
	return nil
}

// Download streams url into destPath and returns the number of bytes written.
// A failed transfer removes the partial file.
func (c *Client) Download(ctx context.Context, url, destPath string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.do(req, "download")
	if err != nil {
		var se *StatusError
		if errors.As(err, &se) && (se.Status == http.StatusUnauthorized || se.Status == http.StatusForbidden) {
			return 0, fmt.Errorf("%w: %v", domain.ErrAuthentication, err)
		}
		return 0, err
	}
	defer resp.Body.Close()

	f, err := os.Create(destPath)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(f, resp.Body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(destPath)
		return n, fmt.Errorf("write %s: %w", destPath, err)
	}
	return n, nil
}

// do sends req and turns non-2xx responses into errors, keeping 4xx (our
// request was refused) apart from 5xx (the service failed).
func (c *Client) do(req *http.Request, op string) (*http.Response, error) {
	req.Header.Set("User-Agent", userAgent)
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	switch {
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &StatusError{Op: op, Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	case resp.StatusCode >= 500:
		resp.Body.Close()
		slog.Warn("archive service error", "op", op, "url", req.URL.Redacted(), "status", resp.Status)
		return nil, &StatusError{Op: op, Status: resp.StatusCode}
	case resp.StatusCode >= 300:
		resp.Body.Close()
		return nil, &StatusError{Op: op, Status: resp.StatusCode}
	}
	return resp, nil
}
