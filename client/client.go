// Package client talks to a remote node's sync API. It implements
// protocol.Remote over HTTPS, so the engine can drive real links the same
// way tests drive in-process responders.
package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/pkg/errors"

	"github.com/SyndicLabs/syndic/models"
	"github.com/SyndicLabs/syndic/protocol"
)

const defaultTimeout = 30 * time.Second

// ErrUnauthorized marks a remote that rejected the presented api key.
var ErrUnauthorized = errors.New("unauthorized: remote rejected the api key")

type Config struct {
	// HostPort of the remote node. Connections are always HTTPS.
	HostPort   string
	ApiKey     string
	SkipVerify bool
	Timeout    time.Duration
	Logger     *slog.Logger
}

type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	apiKey     string
	skipVerify bool
	logger     *slog.Logger
}

var _ protocol.Remote = &Client{}

func NewClient(cfg *Config) (*Client, error) {
	if cfg.HostPort == "" {
		return nil, errors.New("hostPort cannot be empty")
	}
	if cfg.ApiKey == "" {
		return nil, errors.New("apiKey cannot be empty")
	}
	logger := cfg.Logger.WithGroup("sync_client")

	// HTTPS only. Plain HTTP would hand every event on the link to the
	// network path.
	baseURL, err := url.Parse(fmt.Sprintf("https://%s", cfg.HostPort))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse base URL for '%s'", cfg.HostPort)
	}

	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.SkipVerify {
		logger.Warn("TLS verification is skipped", "host", cfg.HostPort)
	}

	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{InsecureSkipVerify: cfg.SkipVerify},
			},
			Timeout: cfg.Timeout,
		},
		apiKey:     cfg.ApiKey,
		skipVerify: cfg.SkipVerify,
		logger:     logger,
	}, nil
}

// RemoteError carries a non-2xx response back to the caller.
type RemoteError struct {
	StatusCode int
	Body       string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote returned status %d: %s", e.StatusCode, e.Body)
}

func (c *Client) doRequest(ctx context.Context, method, path string, query map[string]string, body, target any) error {
	reqURL := c.baseURL.ResolveReference(&url.URL{Path: path})
	if len(query) > 0 {
		q := reqURL.Query()
		for k, v := range query {
			q.Set(k, v)
		}
		reqURL.RawQuery = q.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return errors.Wrapf(err, "failed to marshal request body for %s %s", method, path)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL.String(), reqBody)
	if err != nil {
		return errors.Wrapf(err, "failed to create request %s %s", method, path)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", c.apiKey)

	c.logger.Debug("sending request", "method", method, "url", reqURL.String())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrapf(err, "http request %s %s failed", method, reqURL.String())
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return errors.Wrapf(ErrUnauthorized, "%s %s", method, path)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &RemoteError{StatusCode: resp.StatusCode, Body: string(bytes.TrimSpace(data))}
	}

	if target != nil {
		if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
			return errors.Wrapf(err, "failed to decode response for %s %s", method, path)
		}
	}
	return nil
}

// -------------------------- protocol.Remote

func (c *Client) Ping(ctx context.Context) error {
	return c.doRequest(ctx, http.MethodGet, "/sync/v1/ping", nil, nil, nil)
}

func (c *Client) EventIndex(ctx context.Context) ([]string, error) {
	var uuids []string
	if err := c.doRequest(ctx, http.MethodGet, "/sync/v1/index", nil, nil, &uuids); err != nil {
		return nil, err
	}
	return uuids, nil
}

func (c *Client) FetchEvent(ctx context.Context, uuid string, fullScope bool) (*models.PropagationSet, error) {
	var query map[string]string
	if fullScope {
		query = map[string]string{"scope": "full"}
	}
	var set models.PropagationSet
	if err := c.doRequest(ctx, http.MethodGet, "/sync/v1/event/"+uuid, query, nil, &set); err != nil {
		return nil, err
	}
	return &set, nil
}

func (c *Client) FetchGalaxies(ctx context.Context) ([]models.GalaxyUpdate, error) {
	var updates []models.GalaxyUpdate
	if err := c.doRequest(ctx, http.MethodGet, "/sync/v1/galaxies", nil, nil, &updates); err != nil {
		return nil, err
	}
	return updates, nil
}

func (c *Client) StoreSet(ctx context.Context, set *models.PropagationSet) error {
	return c.doRequest(ctx, http.MethodPost, "/sync/v1/store", nil, set, nil)
}

func (c *Client) StoreGalaxy(ctx context.Context, gu *models.GalaxyUpdate) error {
	return c.doRequest(ctx, http.MethodPost, "/sync/v1/galaxy", nil, gu, nil)
}
