package telemetry

import (
	"context"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"chatrelay/pkg/logger"
)

var (
	pebbleWALBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "chatrelay",
		Name:      "pebble_wal_bytes",
		Help:      "Current size of the pebble write-ahead log.",
	})

	pebbleDiskUsageBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "chatrelay",
		Name:      "pebble_disk_usage_bytes",
		Help:      "Total bytes of live pebble data on disk.",
	})

	pebbleCompactions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "chatrelay",
		Name:      "pebble_compactions_total",
		Help:      "Cumulative pebble compaction count.",
	})

	pebbleMemtableBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "chatrelay",
		Name:      "pebble_memtable_bytes",
		Help:      "Bytes held in pebble memtables.",
	})
)

// StartPebbleSampler polls store metrics on the given interval and
// exports them as gauges. The WAL size gets a warning log past
// warnWALBytes so operators notice a stalled flush before it fills the
// disk. Returns a cancel func that stops the sampler.
func StartPebbleSampler(ctx context.Context, metrics func() *pebble.Metrics, interval time.Duration, warnWALBytes uint64) context.CancelFunc {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	if warnWALBytes == 0 {
		warnWALBytes = 1 << 30
	}
	ctx, cancel := context.WithCancel(ctx)
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m := metrics()
				if m == nil {
					continue
				}
				pebbleWALBytes.Set(float64(m.WAL.Size))
				pebbleDiskUsageBytes.Set(float64(m.DiskSpaceUsage()))
				pebbleMemtableBytes.Set(float64(m.MemTable.Size))
				var compactions uint64
				for _, l := range m.Levels {
					compactions += l.TablesCompacted
				}
				pebbleCompactions.Set(float64(compactions))
				if m.WAL.Size >= warnWALBytes {
					logger.Warn("pebble_wal_high", "wal_bytes", m.WAL.Size, "threshold", warnWALBytes)
				}
			}
		}
	}()
	return cancel
}
