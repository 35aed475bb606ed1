package instance

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"agv-simulator/internal/metrics"
)

func (m *Manager) monitor(ctx context.Context, interval time.Duration) {
	defer m.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.CheckLiveness(ctx)
		}
	}
}

// CheckLiveness finds robots that should be running but whose loop died.
// With the restart policy they are restarted, otherwise only logged.
func (m *Manager) CheckLiveness(ctx context.Context) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var dead []string
	for id, e := range m.agents {
		if !e.agent.IsRunning() || e.agent.IsAlive() {
			continue
		}
		dead = append(dead, id)
		metrics.RecordDeadRobot()
		m.logger.Warn("Robot loop is dead", "robotId", id, "policy", m.opts.MonitorPolicy)

		if m.opts.MonitorPolicy != PolicyRestart {
			continue
		}
		if err := e.agent.Stop(m.opts.StopTimeout); err != nil {
			m.logger.Warn("Dead robot did not stop cleanly", "robotId", id, slog.Any("error", err))
		}
		if err := e.agent.Start(ctx); err != nil {
			m.logger.Error("Failed to restart dead robot", "robotId", id, slog.Any("error", err))
			continue
		}
		m.logger.Info("Dead robot restarted", "robotId", id)
	}
	sort.Strings(dead)
	return dead
}
