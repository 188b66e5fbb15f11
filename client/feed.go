package client

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/SyndicLabs/syndic/models"
)

const feedRedialDelay = 5 * time.Second

// SubscribeFeed connects to the remote publish feed and invokes handler for
// every announcement until ctx is cancelled. The connection is redialed
// after failures; a node that misses announcements only loses latency, the
// next full pull still converges.
func (c *Client) SubscribeFeed(ctx context.Context, handler func(models.FeedEvent)) error {
	feedURL := url.URL{Scheme: "wss", Host: c.baseURL.Host, Path: "/sync/v1/feed"}

	dialer := websocket.Dialer{
		TLSClientConfig:  &tls.Config{InsecureSkipVerify: c.skipVerify},
		HandshakeTimeout: 10 * time.Second,
	}
	header := http.Header{}
	header.Set("Authorization", c.apiKey)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		conn, _, err := dialer.DialContext(ctx, feedURL.String(), header)
		if err != nil {
			c.logger.Warn("feed dial failed, retrying", "url", feedURL.String(), "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(feedRedialDelay):
				continue
			}
		}

		if err := c.readFeed(ctx, conn, handler); err != nil && ctx.Err() == nil {
			c.logger.Warn("feed connection lost, redialing", "error", err)
		}
		conn.Close()
	}
}

func (c *Client) readFeed(ctx context.Context, conn *websocket.Conn, handler func(models.FeedEvent)) error {
	// Close the socket when the context ends so ReadMessage unblocks.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return errors.Wrap(err, "feed read failed")
		}
		var fe models.FeedEvent
		if err := json.Unmarshal(data, &fe); err != nil {
			c.logger.Warn("undecodable feed message dropped", "error", err)
			continue
		}
		handler(fe)
	}
}
