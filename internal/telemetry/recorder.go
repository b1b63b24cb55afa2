// Package telemetry records orchestrator activity. Each Record helper
// emits an OTel log event and increments a metric counter.
package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/metric"
)

const (
	meterRecorderName = "github.com/weftworks/weft"
	loggerName        = "weft"
)

// recorderInstruments holds all lazy-initialized OTel metric instruments.
type recorderInstruments struct {
	reconcileCycleTotal  metric.Int64Counter
	reconcileFailTotal   metric.Int64Counter
	eventAppendTotal     metric.Int64Counter
	busDropTotal         metric.Int64Counter
	checkpointTotal      metric.Int64Counter
	recoverTotal         metric.Int64Counter
	workerRestartTotal   metric.Int64Counter
	dispatchTotal        metric.Int64Counter
	configReloadTotal    metric.Int64Counter
	daemonLifecycleTotal metric.Int64Counter

	reconcileDurationHist metric.Float64Histogram
}

var (
	instOnce sync.Once
	inst     recorderInstruments
)

// initInstruments registers all recorder metric instruments against the
// current global MeterProvider. Must run after Init so the real provider
// is set; also called lazily on first use as a safety net.
func initInstruments() {
	instOnce.Do(func() {
		m := otel.GetMeterProvider().Meter(meterRecorderName)

		inst.reconcileCycleTotal, _ = m.Int64Counter("weft.reconcile.cycles.total",
			metric.WithDescription("Total reconciliation cycles"),
		)
		inst.reconcileFailTotal, _ = m.Int64Counter("weft.reconcile.action_failures.total",
			metric.WithDescription("Total failed reconciliation actions"),
		)
		inst.eventAppendTotal, _ = m.Int64Counter("weft.events.appends.total",
			metric.WithDescription("Total event log appends"),
		)
		inst.busDropTotal, _ = m.Int64Counter("weft.events.bus_drops.total",
			metric.WithDescription("Total events dropped by slow bus subscribers"),
		)
		inst.checkpointTotal, _ = m.Int64Counter("weft.checkpoints.total",
			metric.WithDescription("Total checkpoint creations"),
		)
		inst.recoverTotal, _ = m.Int64Counter("weft.recoveries.total",
			metric.WithDescription("Total recovery passes"),
		)
		inst.workerRestartTotal, _ = m.Int64Counter("weft.supervisor.restarts.total",
			metric.WithDescription("Total supervised worker restarts"),
		)
		inst.dispatchTotal, _ = m.Int64Counter("weft.dispatch.total",
			metric.WithDescription("Total bead dispatches"),
		)
		inst.configReloadTotal, _ = m.Int64Counter("weft.config.reloads.total",
			metric.WithDescription("Total config reload attempts"),
		)
		inst.daemonLifecycleTotal, _ = m.Int64Counter("weft.daemon.lifecycle.total",
			metric.WithDescription("Total daemon lifecycle events"),
		)

		inst.reconcileDurationHist, _ = m.Float64Histogram("weft.reconcile.duration_ms",
			metric.WithDescription("Reconcile pass wall time in milliseconds"),
			metric.WithUnit("ms"),
		)
	})
}

// statusStr returns "ok" or "error" depending on whether err is nil.
func statusStr(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// emit sends an OTel log event with the given body and attributes.
func emit(ctx context.Context, body string, sev otellog.Severity, attrs ...otellog.KeyValue) {
	logger := global.GetLoggerProvider().Logger(loggerName)
	var r otellog.Record
	r.SetBody(otellog.StringValue(body))
	r.SetSeverity(sev)
	r.AddAttributes(attrs...)
	logger.Emit(ctx, r)
}

// errKV returns a log KeyValue with the error message, or empty string
// when err is nil.
func errKV(err error) otellog.KeyValue {
	if err != nil {
		return otellog.String("error", err.Error())
	}
	return otellog.String("error", "")
}

// severity returns SeverityInfo on success, SeverityError on failure.
func severity(err error) otellog.Severity {
	if err != nil {
		return otellog.SeverityError
	}
	return otellog.SeverityInfo
}

// RecordReconcileCycle records one reconciliation pass.
func RecordReconcileCycle(ctx context.Context, taken, failed int, converged bool, durationMs float64) {
	initInstruments()
	attrs := metric.WithAttributes(attribute.Bool("converged", converged))
	inst.reconcileCycleTotal.Add(ctx, 1, attrs)
	if failed > 0 {
		inst.reconcileFailTotal.Add(ctx, int64(failed))
	}
	inst.reconcileDurationHist.Record(ctx, durationMs, attrs)
	emit(ctx, "reconcile.cycle", otellog.SeverityInfo,
		otellog.Int("taken", taken),
		otellog.Int("failed", failed),
		otellog.Bool("converged", converged),
		otellog.Float64("duration_ms", durationMs),
	)
}

// RecordEventAppend records a durable event log append.
func RecordEventAppend(ctx context.Context, kind string, seq uint64, err error) {
	initInstruments()
	inst.eventAppendTotal.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("kind", kind),
			attribute.String("status", statusStr(err)),
		),
	)
	if err != nil {
		emit(ctx, "events.append", otellog.SeverityError,
			otellog.String("kind", kind),
			errKV(err),
		)
	}
}

// RecordBusDrops records events dropped on slow subscribers since the
// last report.
func RecordBusDrops(ctx context.Context, dropped uint64) {
	if dropped == 0 {
		return
	}
	initInstruments()
	inst.busDropTotal.Add(ctx, int64(dropped))
	emit(ctx, "events.bus_drop", otellog.SeverityWarn,
		otellog.Int64("dropped", int64(dropped)),
	)
}

// RecordCheckpoint records a checkpoint creation attempt.
func RecordCheckpoint(ctx context.Context, checkpointID string, seq uint64, err error) {
	initInstruments()
	inst.checkpointTotal.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", statusStr(err))),
	)
	emit(ctx, "checkpoint.create", severity(err),
		otellog.String("checkpoint_id", checkpointID),
		otellog.Int64("event_sequence", int64(seq)),
		errKV(err),
	)
}

// RecordRecovery records a recovery pass: the checkpoint used (empty for
// a full replay) and how many events were replayed on top of it.
func RecordRecovery(ctx context.Context, checkpointID string, replayed int, finalSeq uint64, err error) {
	initInstruments()
	inst.recoverTotal.Add(ctx, 1,
		metric.WithAttributes(
			attribute.Bool("from_checkpoint", checkpointID != ""),
			attribute.String("status", statusStr(err)),
		),
	)
	emit(ctx, "replay.recover", severity(err),
		otellog.String("checkpoint_id", checkpointID),
		otellog.Int("events_replayed", replayed),
		otellog.Int64("final_sequence", int64(finalSeq)),
		errKV(err),
	)
}

// RecordWorkerRestart records a supervised worker restart.
func RecordWorkerRestart(ctx context.Context, worker string, attempt int, cause error) {
	initInstruments()
	inst.workerRestartTotal.Add(ctx, 1,
		metric.WithAttributes(attribute.String("worker", worker)),
	)
	emit(ctx, "supervisor.restart", otellog.SeverityWarn,
		otellog.String("worker", worker),
		otellog.Int("attempt", attempt),
		errKV(cause),
	)
}

// RecordDispatch records a bead dispatch attempt.
func RecordDispatch(ctx context.Context, queue string, err error) {
	initInstruments()
	inst.dispatchTotal.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("queue", queue),
			attribute.String("status", statusStr(err)),
		),
	)
	emit(ctx, "dispatch.route", severity(err),
		otellog.String("queue", queue),
		otellog.String("status", statusStr(err)),
		errKV(err),
	)
}

// RecordConfigReload records a config reload attempt.
func RecordConfigReload(ctx context.Context, path string, err error) {
	initInstruments()
	inst.configReloadTotal.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", statusStr(err))),
	)
	emit(ctx, "config.reload", severity(err),
		otellog.String("path", path),
		otellog.String("status", statusStr(err)),
		errKV(err),
	)
}

// RecordDaemonLifecycle records a daemon lifecycle event. event is
// "started" or "stopped".
func RecordDaemonLifecycle(ctx context.Context, event string) {
	initInstruments()
	inst.daemonLifecycleTotal.Add(ctx, 1,
		metric.WithAttributes(attribute.String("event", event)),
	)
	emit(ctx, "daemon.lifecycle", otellog.SeverityInfo,
		otellog.String("event", event),
	)
}
