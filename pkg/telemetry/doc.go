// Package telemetry provides logging, tracing and metrics for tplcheck.
//
// # Logging
//
// Structured logging is built on zerolog. Loggers are carried through
// context and specialised per component:
//
//	logger := tel.Logger.NewComponentLogger("checker")
//	logger.WithTypeName("app.AppConfig").WithSource("prod.yaml").Info("Checking value")
//
// # Tracing
//
// Spans are created through OpenTelemetry. StartOperation starts a span,
// logger and timer for one operation when the context carries telemetry:
//
//	ic := telemetry.StartOperation(ctx, "config.validate", telemetry.AttrTypeName.String("app.AppConfig"))
//	err := run(ic.Ctx)
//	ic.End(err)
//
// Supported exporters are "otlp" (gRPC), "stdout" and "none". A disabled
// tracer samples nothing.
//
// # Metrics
//
// Prometheus metrics are registered on a private registry and exposed at
// MetricsConfig.Path when the metrics server is started:
//
//  - tplcheck_validations_total{type,result}
//  - tplcheck_violations_total{kind}
//  - tplcheck_validation_duration_seconds{type}
//  - tplcheck_registry_types{namespace}
//  - tplcheck_load_errors_total{source}
//  - tplcheck_policy_evaluations_total{policy,result}
//
// Recorders are no-ops when metrics are disabled.
//
// # Shutdown
//
// Call Shutdown before exit so pending spans are exported:
//
//	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
//	defer cancel()
//	_ = tel.Shutdown(ctx)
package telemetry
