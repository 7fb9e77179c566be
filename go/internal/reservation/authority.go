package reservation

import (
	"context"

	client "github.com/mcdev12/devmate/go/clients/devmate_client"
	"github.com/mcdev12/devmate/go/internal/models"
)

// Authority is what the engine needs from the remote device service.
// *devmate_client.DevmateClient satisfies it.
type Authority interface {
	List(ctx context.Context) client.Result[[]models.Device]
	Health(ctx context.Context) client.Result[struct{}]
	Add(ctx context.Context, device, model string) client.Result[struct{}]
	Reserve(ctx context.Context, device, username string) client.Result[client.ReserveReply]
	Release(ctx context.Context, device string) client.Result[struct{}]
	SetOffline(ctx context.Context, device string) client.Result[struct{}]
	SetOnline(ctx context.Context, device string) client.Result[struct{}]
	Delete(ctx context.Context, device string) client.Result[struct{}]
}

var _ Authority = (*client.DevmateClient)(nil)
