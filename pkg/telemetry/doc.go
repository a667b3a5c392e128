// Package telemetry provides the observability stack shared by ecsroll packages.
//
// It integrates structured logging (zerolog), distributed tracing
// (OpenTelemetry), metrics (Prometheus) and a small event publisher used to
// fan campaign transitions out to the log and to the history journal.
//
// # Usage
//
//	cfg := telemetry.DefaultConfig()
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
//	tel.Events.Subscribe(telemetry.LogSubscriber(tel.Logger.Zerolog()), nil)
//
// Packages never hold a *Tracer; they open spans with StartSpan, which uses
// whichever provider NewTracer installed globally (the no-op provider when
// tracing is disabled).
//
// Every method of *Metrics is safe on a nil or disabled collector, so library
// code can take an optional *Metrics without guarding each call.
package telemetry
