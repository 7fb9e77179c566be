package reservation

import (
	"strings"
	"sync"
)

// NewDeviceDraft is the not-yet-submitted content of the add-device form.
type NewDeviceDraft struct {
	Device string `json:"device"`
	Model  string `json:"model"`
}

// Drafts holds transient user input. It is never merged into the Store;
// the dispatcher discards entries once the authority confirms a command.
type Drafts struct {
	mu        sync.Mutex
	usernames map[string]string
	newDevice NewDeviceDraft
}

func NewDrafts() *Drafts {
	return &Drafts{usernames: make(map[string]string)}
}

func (d *Drafts) SetUsername(device, username string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if username == "" {
		delete(d.usernames, device)
		return
	}
	d.usernames[device] = username
}

func (d *Drafts) Username(device string) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.usernames[device]
}

func (d *Drafts) ClearUsername(device string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.usernames, device)
}

// CanReserve reports whether a reserve control for device should be enabled.
func (d *Drafts) CanReserve(device string) bool {
	return strings.TrimSpace(d.Username(device)) != ""
}

func (d *Drafts) SetNewDevice(device, model string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.newDevice = NewDeviceDraft{Device: device, Model: model}
}

func (d *Drafts) NewDevice() NewDeviceDraft {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.newDevice
}

func (d *Drafts) ClearNewDevice() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.newDevice = NewDeviceDraft{}
}
