// Package metrics provides Prometheus metrics for the synctray engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/grovetools/synctray/pkg/models"
)

var (
	// Event stream metrics
	eventsAppliedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "synctray_events_applied_total",
			Help: "Total daemon events applied to the snapshot",
		},
		[]string{"type"},
	)

	eventsDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "synctray_events_dropped_total",
			Help: "Total daemon events discarded",
		},
		[]string{"reason"},
	)

	fullRefreshesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "synctray_full_refreshes_total",
			Help: "Total full-state refreshes applied",
		},
		[]string{"reason"},
	)

	reconnectAttemptsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "synctray_reconnect_attempts_total",
			Help: "Total reconnect attempts to the daemon",
		},
	)

	connectionState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "synctray_connection_state",
			Help: "1 for the current connection state of the active session",
		},
		[]string{"state"},
	)

	// Command metrics
	commandsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "synctray_commands_total",
			Help: "Total control commands submitted",
		},
		[]string{"kind", "result"},
	)

	// Launcher metrics
	launcherStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "synctray_launcher_status",
			Help: "1 for the current status of the launched daemon",
		},
		[]string{"status"},
	)

	launcherCrashesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "synctray_launcher_crashes_total",
			Help: "Total unexpected exits of the launched daemon",
		},
	)

	// Notification metrics
	notificationsUnseen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "synctray_notifications_unseen",
			Help: "Number of unseen notifications",
		},
	)

	notificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "synctray_notifications_total",
			Help: "Total notifications raised",
		},
		[]string{"kind"},
	)

	subscriberDropsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "synctray_subscriber_updates_dropped_total",
			Help: "Total snapshot updates not delivered to a full subscriber buffer",
		},
	)

	// Local API metrics
	streamClientsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "synctray_stream_clients_active",
			Help: "Number of connected websocket stream clients",
		},
	)
)

var connectionStates = []models.ConnectionState{
	models.StateDisconnected, models.StateConnecting, models.StateConnected,
	models.StateDegraded, models.StateError,
}

var launcherStatuses = []models.LauncherStatus{
	models.LauncherNotStarted, models.LauncherStarting, models.LauncherRunning,
	models.LauncherStopping, models.LauncherStopped, models.LauncherCrashed,
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordEventApplied counts an applied event.
func RecordEventApplied(eventType string) {
	eventsAppliedTotal.WithLabelValues(eventType).Inc()
}

// RecordEventDropped counts a discarded event.
func RecordEventDropped(reason string) {
	eventsDroppedTotal.WithLabelValues(reason).Inc()
}

// RecordSubscriberDrop counts an update a subscriber did not receive.
func RecordSubscriberDrop() {
	subscriberDropsTotal.Inc()
}

// RecordFullRefresh counts a full refresh.
func RecordFullRefresh(reason string) {
	fullRefreshesTotal.WithLabelValues(reason).Inc()
}

// RecordReconnectAttempt counts a reconnect attempt.
func RecordReconnectAttempt() {
	reconnectAttemptsTotal.Inc()
}

// SetConnectionState marks state as the current connection state.
func SetConnectionState(state models.ConnectionState) {
	for _, s := range connectionStates {
		v := 0.0
		if s == state {
			v = 1
		}
		connectionState.WithLabelValues(string(s)).Set(v)
	}
}

// RecordCommand counts a submitted command.
func RecordCommand(kind string, accepted bool) {
	result := "accepted"
	if !accepted {
		result = "rejected"
	}
	commandsTotal.WithLabelValues(kind, result).Inc()
}

// SetLauncherStatus marks status as the current launcher status.
func SetLauncherStatus(status models.LauncherStatus) {
	for _, s := range launcherStatuses {
		v := 0.0
		if s == status {
			v = 1
		}
		launcherStatus.WithLabelValues(string(s)).Set(v)
	}
}

// RecordLauncherCrash counts an unexpected exit.
func RecordLauncherCrash() {
	launcherCrashesTotal.Inc()
}

// SetUnseenNotifications sets the unseen notification gauge.
func SetUnseenNotifications(n int) {
	notificationsUnseen.Set(float64(n))
}

// RecordNotification counts a raised notification.
func RecordNotification(kind models.NotificationKind) {
	notificationsTotal.WithLabelValues(string(kind)).Inc()
}

// StreamClientConnected adjusts the active stream client gauge.
func StreamClientConnected(delta int) {
	streamClientsActive.Add(float64(delta))
}
