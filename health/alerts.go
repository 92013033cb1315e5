package health

import (
	"fmt"
	"sync"
	"time"

	"github.com/lucaswhitaker22/specracer/model"
)

// AlertSet debounces health transitions: while a component stays at one
// status nothing fires; a change to a non-healthy status raises exactly
// one alert, and a return to healthy resolves the active one.
type AlertSet struct {
	mu      sync.Mutex
	current map[string]model.HealthStatus
	active  map[string]*model.Alert
	notify  func(model.Alert)
}

// NewAlertSet creates an alert tracker. notify may be nil.
func NewAlertSet(notify func(model.Alert)) *AlertSet {
	return &AlertSet{
		current: make(map[string]model.HealthStatus),
		active:  make(map[string]*model.Alert),
		notify:  notify,
	}
}

// Observe folds one probe result into the alert state. The notify
// callback runs outside the lock so it may read the set back.
func (a *AlertSet) Observe(h model.ComponentHealth) {
	alert, fired := a.observe(h)
	if fired && a.notify != nil {
		a.notify(alert)
	}
}

func (a *AlertSet) observe(h model.ComponentHealth) (model.Alert, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	prev, seen := a.current[h.Component]
	a.current[h.Component] = h.Status
	if seen && prev == h.Status {
		return model.Alert{}, false
	}

	if h.Status == model.StatusHealthy {
		if alert, ok := a.active[h.Component]; ok {
			now := time.Now()
			alert.ResolvedAt = &now
			delete(a.active, h.Component)
			return *alert, true
		}
		return model.Alert{}, false
	}

	alert := &model.Alert{
		Component: h.Component,
		Status:    h.Status,
		Message:   fmt.Sprintf("%s is %s: %s", h.Component, h.Status, h.Detail),
		RaisedAt:  time.Now(),
	}
	a.active[h.Component] = alert
	return *alert, true
}

// Active returns the currently unresolved alerts.
func (a *AlertSet) Active() []model.Alert {
	a.mu.Lock()
	defer a.mu.Unlock()
	alerts := make([]model.Alert, 0, len(a.active))
	for _, alert := range a.active {
		alerts = append(alerts, *alert)
	}
	return alerts
}
