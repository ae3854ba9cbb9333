// Package telemetry provides observability instrumentation for pdreach.
//
// It combines structured logging (zerolog), tracing (OpenTelemetry), metrics
// (Prometheus) and an in-process event publisher behind one Telemetry value
// that the CLI creates at startup and threads through a context.
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
//	ctx = tel.WithContext(ctx)
//
// # Logging
//
//	logger := tel.Logger.NewComponentLogger("engine")
//	logger.WithRunID(runID).WithQuery("fwd", "forward").Info("Solving query")
//
// Packages that accept a zerolog.Logger directly, such as the automaton,
// receive one through Logger.Zerolog.
//
// # Tracing
//
// Each query runs under a "query.solve" span and each saturation under an
// "automaton.saturate" span. Supported exporters are otlp, stdout and none.
//
// # Metrics
//
// All metric names carry the configured namespace, "pdreach" by default:
//
//   - saturations_total{direction}
//   - saturation_duration_seconds{direction}
//   - automaton_edges_added{direction}, automaton_states_added{direction}
//   - queries_total{direction,verdict}, query_duration_seconds{direction}
//   - active_queries, batches_total
//   - policy_violations_total{policy}, errors_by_class_total{class}
//
// Metrics are served over HTTP only when MetricsConfig.ListenAddress is set.
//
// # Events
//
// The engine publishes batch.started, query.completed, query.failed and
// batch.completed events; the policy engine publishes policy.violation.
// Subscribers receive events in publish order.
package telemetry
