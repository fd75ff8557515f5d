package workers

import (
	"chat-relay/observability"
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/shirou/gopsutil/process"
)

// HubStats is the read side of the broadcast hub.
type HubStats interface {
	Stats() (rooms int, subscribers int)
}

// TelemetryWorker periodically publishes hub occupancy and process usage
// as Prometheus gauges.
type TelemetryWorker struct {
	log            *slog.Logger
	hub            HubStats
	metricInterval time.Duration
	proc           *process.Process
}

func NewTelemetryWorker(log *slog.Logger, hub HubStats, metricInterval time.Duration) *TelemetryWorker {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		log.Warn("Process metrics unavailable", "error", err)
	}
	return &TelemetryWorker{
		log:            log,
		hub:            hub,
		metricInterval: metricInterval,
		proc:           proc,
	}
}

func (w *TelemetryWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.metricInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Debug("Context done, stopping telemetry")
			return nil
		case <-ticker.C:
			w.collect()
		}
	}
}

func (w *TelemetryWorker) collect() {
	rooms, subscribers := w.hub.Stats()
	observability.ActiveRooms.Set(float64(rooms))
	observability.ActiveSubscribers.Set(float64(subscribers))

	if w.proc == nil {
		return
	}
	if cpu, err := w.proc.CPUPercent(); err == nil {
		observability.ProcessCPUPercent.Set(cpu)
	} else {
		w.log.Debug("Error while finding process cpu usage", "error", err)
	}
	if mem, err := w.proc.MemoryInfo(); err == nil {
		observability.ProcessRSSBytes.Set(float64(mem.RSS))
	} else {
		w.log.Debug("Error while finding process memory usage", "error", err)
	}
}
