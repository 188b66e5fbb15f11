package client

import (
	"context"
	"net/http"

	"github.com/SyndicLabs/syndic/models"
)

/*
	Admin surface. These routes require the node's admin key, not a peer
	key; the CLI is the intended caller.
*/

func (c *Client) TriggerPushEvent(ctx context.Context, link, uuid string) (*models.Result, error) {
	var res models.Result
	if err := c.doRequest(ctx, http.MethodPost, "/admin/v1/push/"+link+"/"+uuid, nil, nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) TriggerPushAll(ctx context.Context, link string) (*models.Result, error) {
	var res models.Result
	if err := c.doRequest(ctx, http.MethodPost, "/admin/v1/push/"+link, nil, nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) TriggerPullEvent(ctx context.Context, link, uuid string) (*models.Result, error) {
	var res models.Result
	if err := c.doRequest(ctx, http.MethodPost, "/admin/v1/pull/"+link+"/"+uuid, nil, nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) TriggerPullAll(ctx context.Context, link string) (*models.Result, error) {
	var res models.Result
	if err := c.doRequest(ctx, http.MethodPost, "/admin/v1/pull/"+link, nil, nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) Publish(ctx context.Context, uuid string) error {
	return c.doRequest(ctx, http.MethodPost, "/admin/v1/publish/"+uuid, nil, nil, nil)
}

// CreateEvent stores a new local event on the node and returns its uuid.
func (c *Client) CreateEvent(ctx context.Context, ev *models.Event) (string, error) {
	var out struct {
		UUID string `json:"uuid"`
	}
	if err := c.doRequest(ctx, http.MethodPost, "/admin/v1/event", nil, ev, &out); err != nil {
		return "", err
	}
	return out.UUID, nil
}
