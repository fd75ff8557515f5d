package workers

import (
	"chat-relay/observability"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/mama165/sdk-go/logs"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

type fixedStats struct {
	rooms, subscribers int
}

func (f fixedStats) Stats() (int, int) {
	return f.rooms, f.subscribers
}

func TestTelemetryWorker_Publishes_Hub_Gauges(t *testing.T) {
	req := require.New(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	worker := NewTelemetryWorker(log, fixedStats{rooms: 3, subscribers: 7}, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	req.NoError(worker.Run(ctx))

	req.Equal(float64(3), testutil.ToFloat64(observability.ActiveRooms))
	req.Equal(float64(7), testutil.ToFloat64(observability.ActiveSubscribers))
	req.Greater(testutil.ToFloat64(observability.ProcessRSSBytes), float64(0))
}
