package devmate_client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/mcdev12/devmate/go/clients"
	"github.com/mcdev12/devmate/go/internal/models"
)

// Request bodies. None of them carries the locally derived duration.
type AddRequest struct {
	Device string `json:"device"`
	Model  string `json:"model"`
}

type ReserveRequest struct {
	Device   string `json:"device"`
	Username string `json:"username"`
}

type DeviceRequest struct {
	Device string `json:"device"`
}

// ListResponse is the body of a 200 list reply.
type ListResponse struct {
	Devices []models.Device `json:"devices"`
}

// MessageReply is the generic {"message": ...} body the authority sends.
type MessageReply struct {
	Message string `json:"message"`
}

// ReserveReply carries the current holder on a 409 reply.
type ReserveReply struct {
	Message    string `json:"message"`
	ReservedBy string `json:"reserved_by,omitempty"`
}

// Message extracts the authority's message from a reply body, if any.
func Message(body []byte) string {
	var reply MessageReply
	if len(body) == 0 || json.Unmarshal(body, &reply) != nil {
		return ""
	}
	return reply.Message
}

func classify[T any](resp *clients.Response, err error, success ...int) Result[T] {
	var zero T
	if err != nil {
		return unreachable[T](err)
	}
	for _, code := range success {
		if resp.StatusCode == code {
			return ok(zero, resp)
		}
	}
	return rejected[T](resp, nil)
}

// List fetches the full device snapshot. A 204 is an empty snapshot.
func (c *DevmateClient) List(ctx context.Context) Result[[]models.Device] {
	resp, err := c.Get(ctx, listPath)
	if err != nil {
		return unreachable[[]models.Device](err)
	}

	switch resp.StatusCode {
	case http.StatusNoContent:
		return ok([]models.Device{}, resp)
	case http.StatusOK:
		var body ListResponse
		if err := json.Unmarshal(resp.Body, &body); err != nil {
			return rejected[[]models.Device](resp, fmt.Errorf("failed to unmarshal device list: %w", err))
		}
		if body.Devices == nil {
			body.Devices = []models.Device{}
		}
		return ok(body.Devices, resp)
	}
	return rejected[[]models.Device](resp, nil)
}

// Health probes reachability. Any status other than 200 counts as unreachable.
func (c *DevmateClient) Health(ctx context.Context) Result[struct{}] {
	resp, err := c.Get(ctx, healthPath)
	if err != nil {
		return unreachable[struct{}](err)
	}
	if resp.StatusCode != http.StatusOK {
		return Result[struct{}]{
			Kind:       KindUnreachable,
			StatusCode: resp.StatusCode,
			Body:       resp.Body,
			Cause:      fmt.Errorf("health check returned status %d", resp.StatusCode),
		}
	}
	return ok(struct{}{}, resp)
}

func (c *DevmateClient) Add(ctx context.Context, device, model string) Result[struct{}] {
	resp, err := c.PostJSON(ctx, addPath, AddRequest{Device: device, Model: model})
	return classify[struct{}](resp, err, http.StatusCreated)
}

func (c *DevmateClient) Reserve(ctx context.Context, device, username string) Result[ReserveReply] {
	resp, err := c.PostJSON(ctx, reservePath, ReserveRequest{Device: device, Username: username})
	res := classify[ReserveReply](resp, err, http.StatusOK)
	if res.Kind == KindUnreachable || len(res.Body) == 0 {
		return res
	}
	var reply ReserveReply
	if err := json.Unmarshal(res.Body, &reply); err == nil {
		res.Payload = reply
	}
	return res
}

func (c *DevmateClient) Release(ctx context.Context, device string) Result[struct{}] {
	resp, err := c.PostJSON(ctx, releasePath, DeviceRequest{Device: device})
	return classify[struct{}](resp, err, http.StatusOK)
}

func (c *DevmateClient) SetOffline(ctx context.Context, device string) Result[struct{}] {
	resp, err := c.PostJSON(ctx, offlinePath, DeviceRequest{Device: device})
	return classify[struct{}](resp, err, http.StatusOK)
}

func (c *DevmateClient) SetOnline(ctx context.Context, device string) Result[struct{}] {
	resp, err := c.PostJSON(ctx, onlinePath, DeviceRequest{Device: device})
	return classify[struct{}](resp, err, http.StatusOK)
}

func (c *DevmateClient) Delete(ctx context.Context, device string) Result[struct{}] {
	resp, err := c.BaseClient.Delete(ctx, deletePathStart+url.PathEscape(device))
	return classify[struct{}](resp, err, http.StatusNoContent)
}
