package reservation

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// NoticeLevel is the severity of a user-facing notice.
type NoticeLevel string

const (
	NoticeInfo NoticeLevel = "info"
	NoticeWarn NoticeLevel = "warn"
)

// Notice is a short message meant for the user, the equivalent of a snackbar.
type Notice struct {
	Level   NoticeLevel `json:"level"`
	Message string      `json:"message"`
	Device  string      `json:"device,omitempty"`
	At      time.Time   `json:"at"`
}

// Notifier receives user-facing notices.
type Notifier interface {
	Notify(n Notice)
}

// NotifierFunc adapts a function to a Notifier.
type NotifierFunc func(Notice)

func (f NotifierFunc) Notify(n Notice) { f(n) }

// LogNotifier writes notices to the global logger.
type LogNotifier struct{}

func (LogNotifier) Notify(n Notice) {
	level := zerolog.InfoLevel
	if n.Level == NoticeWarn {
		level = zerolog.WarnLevel
	}
	ev := log.WithLevel(level)
	if n.Device != "" {
		ev = ev.Str("device", n.Device)
	}
	ev.Msg(n.Message)
}

// Notices fans a notice out to every registered notifier.
type Notices struct {
	mu        sync.RWMutex
	notifiers []registeredNotifier
	nextID    int
}

type registeredNotifier struct {
	id int
	n  Notifier
}

// Add registers n. The returned function removes it again.
func (ns *Notices) Add(n Notifier) (remove func()) {
	ns.mu.Lock()
	id := ns.nextID
	ns.nextID++
	ns.notifiers = append(ns.notifiers, registeredNotifier{id: id, n: n})
	ns.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			ns.mu.Lock()
			defer ns.mu.Unlock()
			for i, r := range ns.notifiers {
				if r.id == id {
					ns.notifiers = append(ns.notifiers[:i:i], ns.notifiers[i+1:]...)
					return
				}
			}
		})
	}
}

func (ns *Notices) Notify(n Notice) {
	ns.mu.RLock()
	targets := make([]Notifier, len(ns.notifiers))
	for i, r := range ns.notifiers {
		targets[i] = r.n
	}
	ns.mu.RUnlock()
	for _, t := range targets {
		t.Notify(n)
	}
}
