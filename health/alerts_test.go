package health

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucaswhitaker22/specracer/model"
)

func observed(component string, status model.HealthStatus) model.ComponentHealth {
	return model.ComponentHealth{
		Component: component,
		Status:    status,
		Detail:    "probe detail",
		CheckedAt: time.Now(),
	}
}

func TestAlertRaisedOncePerTransition(t *testing.T) {
	var fired []model.Alert
	a := NewAlertSet(func(alert model.Alert) { fired = append(fired, alert) })

	a.Observe(observed("cache", model.StatusDegraded))
	a.Observe(observed("cache", model.StatusDegraded))
	a.Observe(observed("cache", model.StatusDegraded))

	require.Len(t, fired, 1)
	assert.Equal(t, "cache", fired[0].Component)
	assert.Equal(t, model.StatusDegraded, fired[0].Status)
	assert.Len(t, a.Active(), 1)
}

func TestEscalationRaisesNewAlert(t *testing.T) {
	var fired []model.Alert
	a := NewAlertSet(func(alert model.Alert) { fired = append(fired, alert) })

	a.Observe(observed("database", model.StatusDegraded))
	a.Observe(observed("database", model.StatusCritical))

	require.Len(t, fired, 2)
	assert.Equal(t, model.StatusCritical, fired[1].Status)
	require.Len(t, a.Active(), 1)
	assert.Equal(t, model.StatusCritical, a.Active()[0].Status)
}

func TestReturnToHealthyResolves(t *testing.T) {
	var fired []model.Alert
	a := NewAlertSet(func(alert model.Alert) { fired = append(fired, alert) })

	a.Observe(observed("memory", model.StatusCritical))
	a.Observe(observed("memory", model.StatusHealthy))

	require.Len(t, fired, 2)
	assert.NotNil(t, fired[1].ResolvedAt)
	assert.Empty(t, a.Active())

	// A later regression raises a fresh alert.
	a.Observe(observed("memory", model.StatusDegraded))
	require.Len(t, fired, 3)
	assert.Nil(t, fired[2].ResolvedAt)
}

func TestHealthyStreakNeverAlerts(t *testing.T) {
	var fired []model.Alert
	a := NewAlertSet(func(alert model.Alert) { fired = append(fired, alert) })

	for i := 0; i < 5; i++ {
		a.Observe(observed("cpu", model.StatusHealthy))
	}

	assert.Empty(t, fired)
	assert.Empty(t, a.Active())
}

func TestNotifyMayReadTheSetBack(t *testing.T) {
	var fired []model.Alert
	var a *AlertSet
	a = NewAlertSet(func(alert model.Alert) {
		fired = append(fired, alert)
		// Callbacks on the observe path may query the set.
		assert.Len(t, a.Active(), 1)
	})

	a.Observe(observed("database", model.StatusCritical))

	require.Len(t, fired, 1)
	assert.Equal(t, "database", fired[0].Component)
}

func TestComponentsTrackedIndependently(t *testing.T) {
	var fired []model.Alert
	a := NewAlertSet(func(alert model.Alert) { fired = append(fired, alert) })

	a.Observe(observed("cache", model.StatusDegraded))
	a.Observe(observed("database", model.StatusCritical))
	a.Observe(observed("cache", model.StatusHealthy))

	require.Len(t, fired, 3)
	require.Len(t, a.Active(), 1)
	assert.Equal(t, "database", a.Active()[0].Component)
}
