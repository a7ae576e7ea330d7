// Package immich is a small client for the Immich server the frame pulls
// albums from. It only covers what setup needs: reachability and album listing.
package immich

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

var ErrUnauthorized = errors.New("immich rejected the api token")

type Album struct {
	ID         string `json:"id"`
	AlbumName  string `json:"albumName"`
	AssetCount int    `json:"assetCount"`
}

type Options struct {
	RetryMax     int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
	Timeout      time.Duration
}

func DefaultOptions() Options {
	return Options{
		RetryMax:     3,
		RetryWaitMin: 500 * time.Millisecond,
		RetryWaitMax: 5 * time.Second,
		Timeout:      10 * time.Second,
	}
}

type Client struct {
	baseURL string
	token   string
	client  *http.Client
}

func NewClient(baseURL, token string, opts Options) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid immich url %q: %w", baseURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid immich url %q: scheme must be http or https", baseURL)
	}

	rc := retryablehttp.NewClient()
	rc.RetryMax = opts.RetryMax
	rc.RetryWaitMin = opts.RetryWaitMin
	rc.RetryWaitMax = opts.RetryWaitMax
	rc.Logger = slog.Default()

	hc := rc.StandardClient()
	hc.Timeout = opts.Timeout

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  hc,
	}, nil
}

func (c *Client) get(ctx context.Context, path string, authed bool, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if authed {
		req.Header.Set("x-api-key", c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return ErrUnauthorized
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("immich returned status %d: %s", resp.StatusCode, string(body))
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

// Ping checks that the server answers. It needs no token.
func (c *Client) Ping(ctx context.Context) error {
	var resp struct {
		Res string `json:"res"`
	}
	if err := c.get(ctx, "/api/server/ping", false, &resp); err != nil {
		return err
	}
	if resp.Res != "pong" {
		return fmt.Errorf("unexpected ping response %q", resp.Res)
	}
	return nil
}

// Albums lists the albums visible to the token.
func (c *Client) Albums(ctx context.Context) ([]Album, error) {
	var albums []Album
	if err := c.get(ctx, "/api/albums", true, &albums); err != nil {
		return nil, err
	}
	slog.Debug("fetched immich albums", "count", len(albums))
	return albums, nil
}
