package liveness

import (
	"context"
	"time"

	"github.com/assetray/realtime/internal/hub"
	"github.com/assetray/realtime/internal/metrics"
	"go.uber.org/zap"
)

// Monitor probes every open connection with heartbeat frames and evicts
// the ones that stop acknowledging them. Best-effort liveness: a
// slow-but-alive client may be evicted and is expected to reconnect.
type Monitor struct {
	logger   *zap.Logger
	registry hub.Registry
	metrics  *metrics.Metrics

	probeInterval time.Duration
	sweepInterval time.Duration
	timeout       time.Duration

	now func() time.Time
}

func NewMonitor(
	logger *zap.Logger,
	registry hub.Registry,
	metrics *metrics.Metrics,
	probeInterval time.Duration,
	sweepInterval time.Duration,
	timeout time.Duration,
) *Monitor {
	// At least one probe-and-reply round trip has to fit inside the
	// timeout window, or every client gets evicted eventually.
	if timeout <= probeInterval {
		adjusted := 3 * probeInterval
		logger.Warn("heartbeat timeout does not fit a probe round trip, adjusting",
			zap.Duration("timeout", timeout),
			zap.Duration("adjusted", adjusted))
		timeout = adjusted
	}

	return &Monitor{
		logger:        logger,
		registry:      registry,
		metrics:       metrics,
		probeInterval: probeInterval,
		sweepInterval: sweepInterval,
		timeout:       timeout,
		now:           time.Now,
	}
}

// Run drives both periodic tasks until the context is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	probe := time.NewTicker(m.probeInterval)
	defer probe.Stop()

	sweep := time.NewTicker(m.sweepInterval)
	defer sweep.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-probe.C:
			m.Probe()
		case <-sweep.C:
			m.Sweep()
		}
	}
}

// Probe sends a heartbeat frame to every open connection.
func (m *Monitor) Probe() {
	m.registry.BroadcastAll(hub.NewMessage(hub.EventHeartbeat, heartbeatProbe{
		Timestamp: m.now().UTC(),
	}))
}

// Sweep evicts connections whose last acknowledgment is older than the
// timeout. Eviction is silent; the peer is presumed unreachable.
func (m *Monitor) Sweep() {
	cutoff := m.now().Add(-m.timeout)

	for _, connection := range m.registry.Connections() {
		if connection.LastHeartbeatAt().Before(cutoff) {
			m.logger.Info("evicting unresponsive connection",
				zap.String("connectionId", connection.Id))

			m.registry.Remove(connection.Id)
			m.metrics.Evictions.Inc()
		}
	}
}

type heartbeatProbe struct {
	Timestamp time.Time `json:"timestamp"`
}
