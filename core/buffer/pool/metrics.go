package pool

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/ksharma-417/yureidb/pkg/logger"
)

// RegisterMetrics publishes the pool counters and list lengths on an
// OpenTelemetry meter. Counters are observed from the per-instance atomic
// snapshots, so the hot paths stay free of instrument calls.
func RegisterMetrics(meter metric.Meter, e *Engine) error {
	pageGets, err := meter.Int64ObservableCounter("yureidb.buffer.page_gets",
		metric.WithDescription("Logical page get operations"))
	if err != nil {
		return err
	}
	pagesRead, err := meter.Int64ObservableCounter("yureidb.buffer.pages_read",
		metric.WithDescription("Pages read from the I/O collaborator"))
	if err != nil {
		return err
	}
	pagesWritten, err := meter.Int64ObservableCounter("yureidb.buffer.pages_written",
		metric.WithDescription("Pages written by flush batches"))
	if err != nil {
		return err
	}
	pagesEvicted, err := meter.Int64ObservableCounter("yureidb.buffer.pages_evicted",
		metric.WithDescription("Pages evicted from the LRU"))
	if err != nil {
		return err
	}
	youngMade, err := meter.Int64ObservableCounter("yureidb.buffer.lru_young_made",
		metric.WithDescription("Old-segment blocks promoted to the young head"))
	if err != nil {
		return err
	}
	freeLen, err := meter.Int64ObservableGauge("yureidb.buffer.free_pages",
		metric.WithDescription("Free-list length"))
	if err != nil {
		return err
	}
	dirtyLen, err := meter.Int64ObservableGauge("yureidb.buffer.dirty_pages",
		metric.WithDescription("Flush-list length"))
	if err != nil {
		return err
	}

	engineID := attribute.String(logger.FieldEngineID, e.ID.String())
	_, err = meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		for i := 0; i < e.Instances(); i++ {
			s := e.Instance(i).Stats()
			attrs := metric.WithAttributes(engineID, attribute.Int(logger.FieldPoolInstance, i))
			o.ObserveInt64(pageGets, int64(s.PageGets), attrs)
			o.ObserveInt64(pagesRead, int64(s.PagesRead), attrs)
			o.ObserveInt64(pagesWritten, int64(s.PagesWritten), attrs)
			o.ObserveInt64(pagesEvicted, int64(s.PagesEvicted), attrs)
			o.ObserveInt64(youngMade, int64(s.YoungMade), attrs)
			o.ObserveInt64(freeLen, int64(s.FreeLen), attrs)
			o.ObserveInt64(dirtyLen, int64(s.FlushLen), attrs)
		}
		return nil
	}, pageGets, pagesRead, pagesWritten, pagesEvicted, youngMade, freeLen, dirtyLen)
	return err
}
