package devmate_client

import (
	"fmt"
	"time"

	"github.com/mcdev12/devmate/go/clients"
)

// Kind classifies the outcome of a single authority call.
type Kind int

const (
	// KindOK means the authority answered with the operation's success code.
	KindOK Kind = iota
	// KindRejected means the authority answered but declined the request.
	KindRejected
	// KindUnreachable means no usable answer was received.
	KindUnreachable
)

func (k Kind) String() string {
	switch k {
	case KindOK:
		return "ok"
	case KindRejected:
		return "rejected"
	case KindUnreachable:
		return "unreachable"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Result is the tagged outcome of an authority call. StatusCode and Body are
// set whenever an HTTP reply was received; Cause is set for Unreachable and
// for replies that could not be decoded.
type Result[T any] struct {
	Kind       Kind
	Payload    T
	StatusCode int
	Body       []byte
	Cause      error
}

func (r Result[T]) OK() bool          { return r.Kind == KindOK }
func (r Result[T]) Rejected() bool    { return r.Kind == KindRejected }
func (r Result[T]) Unreachable() bool { return r.Kind == KindUnreachable }

func ok[T any](payload T, resp *clients.Response) Result[T] {
	return Result[T]{Kind: KindOK, Payload: payload, StatusCode: resp.StatusCode, Body: resp.Body}
}

func rejected[T any](resp *clients.Response, cause error) Result[T] {
	return Result[T]{Kind: KindRejected, StatusCode: resp.StatusCode, Body: resp.Body, Cause: cause}
}

func unreachable[T any](cause error) Result[T] {
	return Result[T]{Kind: KindUnreachable, Cause: cause}
}

// DevmateClient talks to the device authority's REST API.
type DevmateClient struct {
	*clients.BaseClient
}

func NewDevmateClient(baseURL string) *DevmateClient {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	client := &DevmateClient{
		BaseClient: clients.NewBaseClient(baseURL),
	}

	client.SetHeader(JsonHeader, JsonContentType)
	client.SetTimeout(10 * time.Second)

	return client
}
