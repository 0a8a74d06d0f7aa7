package lifecycle

import (
	"sync"
	"time"

	"driverlink/logger"
)

// State of the host application as reported by the platform.
type State int

const (
	Foreground State = iota
	Background
)

func (s State) String() string {
	if s == Background {
		return "background"
	}
	return "foreground"
}

// Handlers receive transitions. OnForeground is passed the time spent
// backgrounded so the coordinator can decide how aggressively to refresh.
type Handlers struct {
	OnForeground func(backgroundedFor time.Duration)
	OnBackground func()
}

// Observer tracks foreground/background transitions. The host (or the signal
// harness in main) drives it through NotifyForeground/NotifyBackground;
// repeated notifications of the current state are no-ops.
type Observer struct {
	mu           sync.Mutex
	state        State
	backgroundAt time.Time
	handlers     Handlers
	log          *logger.Log
	now          func() time.Time
}

func NewObserver(handlers Handlers) *Observer {
	return &Observer{
		state:    Foreground,
		handlers: handlers,
		log:      logger.GetLogger(),
		now:      time.Now,
	}
}

// NotifyBackground records the transition timestamp. No channel is stopped:
// whether the socket survives backgrounding is the OS's decision, not ours.
func (o *Observer) NotifyBackground() {
	o.mu.Lock()
	if o.state == Background {
		o.mu.Unlock()
		return
	}
	o.state = Background
	o.backgroundAt = o.now()
	handler := o.handlers.OnBackground
	o.mu.Unlock()

	o.log.WithComponent("lifecycle").Info("app backgrounded")
	if handler != nil {
		handler()
	}
}

// NotifyForeground fires the foreground handler with the backgrounded
// duration.
func (o *Observer) NotifyForeground() {
	o.mu.Lock()
	if o.state == Foreground {
		o.mu.Unlock()
		return
	}
	o.state = Foreground
	backgroundedFor := o.now().Sub(o.backgroundAt)
	handler := o.handlers.OnForeground
	o.mu.Unlock()

	o.log.WithComponent("lifecycle").WithFields(logger.Fields{
		"backgrounded_for": backgroundedFor.String(),
	}).Info("app foregrounded")
	if handler != nil {
		handler(backgroundedFor)
	}
}

// State returns the current lifecycle state.
func (o *Observer) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}
