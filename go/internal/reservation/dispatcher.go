package reservation

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/jonboulle/clockwork"
	client "github.com/mcdev12/devmate/go/clients/devmate_client"
	"github.com/rs/zerolog/log"
)

// Op names a user command.
type Op string

const (
	OpReserve Op = "reserve"
	OpRelease Op = "release"
	OpOffline Op = "offline"
	OpOnline  Op = "online"
	OpDelete  Op = "delete"
	OpAdd     Op = "add"
)

const (
	unreachableMessage = "Authority is unreachable. Please check your connection and try again."
	notFoundMessage    = "The specified device does not exist."
)

// Policy holds authority-contract decisions that are not fixed by the API.
type Policy struct {
	// AllowOfflineWhileReserved lets a reserved device be taken offline. The
	// reference authority accepts this and drops the reservation.
	AllowOfflineWhileReserved bool
}

func DefaultPolicy() Policy {
	return Policy{AllowOfflineWhileReserved: true}
}

// Refresher triggers an immediate reconciliation.
type Refresher interface {
	Refresh(ctx context.Context)
}

type operation struct {
	success  string
	rejected map[int]string

	clearUsername  bool
	clearNewDevice bool
}

var operations = map[Op]operation{
	OpReserve: {
		success: "Device successfully reserved.",
		rejected: map[int]string{
			http.StatusBadRequest: "Bad request. Please check if the device and username parameters are correct.",
			http.StatusNotFound:   notFoundMessage,
			http.StatusConflict:   "Device is not available for reservation.",
		},
		clearUsername: true,
	},
	OpRelease: {
		success: "Device successfully released.",
		rejected: map[int]string{
			http.StatusNotModified: "Device is not currently reserved.",
			http.StatusBadRequest:  "Bad request. Please check if the device parameter is correct.",
			http.StatusNotFound:    notFoundMessage,
		},
		clearUsername: true,
	},
	OpOffline: {
		success: "Device successfully set to offline.",
		rejected: map[int]string{
			http.StatusNotModified: "Device is already offline.",
			http.StatusBadRequest:  "Bad request. Please check if the device parameter is correct.",
			http.StatusNotFound:    notFoundMessage,
		},
	},
	OpOnline: {
		success: "Device successfully set to online.",
		rejected: map[int]string{
			http.StatusNotModified: "Device is already online.",
			http.StatusBadRequest:  "Bad request. Please check if the device parameter is correct.",
			http.StatusNotFound:    notFoundMessage,
		},
		clearUsername: true,
	},
	OpDelete: {
		success: "Device successfully deleted.",
		rejected: map[int]string{
			http.StatusBadRequest: "Bad request. Please check if the device parameter is correct.",
			http.StatusNotFound:   notFoundMessage,
		},
		clearUsername: true,
	},
	OpAdd: {
		success: "Device successfully added.",
		rejected: map[int]string{
			http.StatusBadRequest: "Bad request. Please check if the device and model parameters are correct.",
			http.StatusConflict:   "A device with this name already exists.",
		},
		clearNewDevice: true,
	},
}

var commandValidator = newCommandValidator()

// newCommandValidator panics if the notblank tag cannot be registered, which
// only happens when the tag or its function is malformed.
func newCommandValidator() *validator.Validate {
	v := validator.New()
	if err := v.RegisterValidation("notblank", notBlank); err != nil {
		panic(fmt.Sprintf("register notblank validation: %v", err))
	}
	return v
}

func notBlank(fl validator.FieldLevel) bool {
	return strings.TrimSpace(fl.Field().String()) != ""
}

type deviceCommand struct {
	Device string `validate:"notblank"`
}

type reserveCommand struct {
	Device   string `validate:"notblank"`
	Username string `validate:"notblank"`
}

type addCommand struct {
	Device string `validate:"notblank"`
	Model  string `validate:"notblank"`
}

// reply is the type-erased view of a client result the dispatcher works on.
type reply struct {
	kind       client.Kind
	statusCode int
	body       []byte
	cause      error
	holder     string
}

func replyOf[T any](r client.Result[T]) reply {
	return reply{kind: r.Kind, statusCode: r.StatusCode, body: r.Body, cause: r.Cause}
}

// Dispatcher executes user commands against the authority. It never writes
// the store; a confirmed command triggers a full refresh instead.
type Dispatcher struct {
	authority Authority
	health    *HealthMonitor
	refresher Refresher
	store     *Store
	drafts    *Drafts
	notifier  Notifier
	clock     clockwork.Clock
	policy    Policy
	validate  *validator.Validate
}

func NewDispatcher(authority Authority, health *HealthMonitor, refresher Refresher, store *Store, drafts *Drafts, notifier Notifier, clock clockwork.Clock, policy Policy) *Dispatcher {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if notifier == nil {
		notifier = LogNotifier{}
	}
	if drafts == nil {
		drafts = NewDrafts()
	}
	return &Dispatcher{
		authority: authority,
		health:    health,
		refresher: refresher,
		store:     store,
		drafts:    drafts,
		notifier:  notifier,
		clock:     clock,
		policy:    policy,
		validate:  commandValidator,
	}
}

func (d *Dispatcher) Drafts() *Drafts { return d.drafts }

func (d *Dispatcher) Reserve(ctx context.Context, device, username string) (string, error) {
	if err := d.check(OpReserve, device, reserveCommand{Device: device, Username: username}); err != nil {
		return "", err
	}
	return d.dispatch(ctx, OpReserve, device, func(ctx context.Context) reply {
		res := d.authority.Reserve(ctx, device, username)
		r := replyOf(res)
		r.holder = res.Payload.ReservedBy
		return r
	})
}

// ReserveDraft reserves device for the username currently drafted for it.
func (d *Dispatcher) ReserveDraft(ctx context.Context, device string) (string, error) {
	return d.Reserve(ctx, device, d.drafts.Username(device))
}

func (d *Dispatcher) Release(ctx context.Context, device string) (string, error) {
	if err := d.check(OpRelease, device, deviceCommand{Device: device}); err != nil {
		return "", err
	}
	return d.dispatch(ctx, OpRelease, device, func(ctx context.Context) reply {
		return replyOf(d.authority.Release(ctx, device))
	})
}

func (d *Dispatcher) SetOffline(ctx context.Context, device string) (string, error) {
	if err := d.check(OpOffline, device, deviceCommand{Device: device}); err != nil {
		return "", err
	}
	if !d.policy.AllowOfflineWhileReserved && d.store != nil {
		if cached, ok := d.store.Get(device); ok && cached.IsReserved() {
			return "", d.fail(&CommandError{
				Kind:    ErrLocalValidation,
				Op:      OpOffline,
				Device:  device,
				Holder:  cached.Holder(),
				Message: fmt.Sprintf("Device is reserved by %s. Release it before setting it offline.", cached.Holder()),
			})
		}
	}
	return d.dispatch(ctx, OpOffline, device, func(ctx context.Context) reply {
		return replyOf(d.authority.SetOffline(ctx, device))
	})
}

func (d *Dispatcher) SetOnline(ctx context.Context, device string) (string, error) {
	if err := d.check(OpOnline, device, deviceCommand{Device: device}); err != nil {
		return "", err
	}
	return d.dispatch(ctx, OpOnline, device, func(ctx context.Context) reply {
		return replyOf(d.authority.SetOnline(ctx, device))
	})
}

func (d *Dispatcher) Delete(ctx context.Context, device string) (string, error) {
	if err := d.check(OpDelete, device, deviceCommand{Device: device}); err != nil {
		return "", err
	}
	return d.dispatch(ctx, OpDelete, device, func(ctx context.Context) reply {
		return replyOf(d.authority.Delete(ctx, device))
	})
}

func (d *Dispatcher) Add(ctx context.Context, device, model string) (string, error) {
	if err := d.check(OpAdd, device, addCommand{Device: device, Model: model}); err != nil {
		return "", err
	}
	return d.dispatch(ctx, OpAdd, device, func(ctx context.Context) reply {
		return replyOf(d.authority.Add(ctx, device, model))
	})
}

// AddDraft submits the drafted add-device form.
func (d *Dispatcher) AddDraft(ctx context.Context) (string, error) {
	draft := d.drafts.NewDevice()
	return d.Add(ctx, draft.Device, draft.Model)
}

func (d *Dispatcher) check(op Op, device string, cmd any) error {
	err := d.validate.Struct(cmd)
	if err == nil {
		return nil
	}
	var fields []string
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		for _, fe := range verrs {
			fields = append(fields, strings.ToLower(fe.Field()))
		}
	}
	return d.fail(&CommandError{
		Kind:    ErrLocalValidation,
		Op:      op,
		Device:  device,
		Message: "Required fields are empty: " + strings.Join(fields, ", "),
		Cause:   err,
	})
}

func (d *Dispatcher) dispatch(ctx context.Context, op Op, device string, call func(context.Context) reply) (string, error) {
	opDef := operations[op]
	r := call(ctx)

	switch r.kind {
	case client.KindOK:
		log.Info().Str("op", string(op)).Str("device", device).Msg("command confirmed")
		if opDef.clearUsername {
			d.drafts.ClearUsername(device)
		}
		if opDef.clearNewDevice {
			d.drafts.ClearNewDevice()
		}
		if d.refresher != nil {
			d.refresher.Refresh(ctx)
		}
		return opDef.success, nil

	case client.KindUnreachable:
		if d.health != nil {
			d.health.ReportUnreachable(r.cause)
		}
		return "", d.fail(&CommandError{
			Kind:    ErrUnreachable,
			Op:      op,
			Device:  device,
			Message: unreachableMessage,
			Cause:   r.cause,
		})
	}

	msg, known := opDef.rejected[r.statusCode]
	if !known {
		msg = fmt.Sprintf("Unexpected status code %d", r.statusCode)
	}
	if op == OpReserve && r.statusCode == http.StatusConflict && r.holder != "" {
		msg = fmt.Sprintf("Device is already reserved by %s.", r.holder)
	}
	return "", d.fail(&CommandError{
		Kind:       ErrRejected,
		Op:         op,
		Device:     device,
		StatusCode: r.statusCode,
		Holder:     r.holder,
		Message:    msg,
		Cause:      r.cause,
	})
}

func (d *Dispatcher) fail(err *CommandError) error {
	log.Warn().
		Str("op", string(err.Op)).
		Str("device", err.Device).
		Str("kind", err.Kind.String()).
		Int("status", err.StatusCode).
		Msg(err.Message)
	d.notifier.Notify(Notice{Level: NoticeWarn, Message: err.Message, Device: err.Device, At: d.clock.Now()})
	return err
}
