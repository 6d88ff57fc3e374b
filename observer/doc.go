// Package observer provides core.Observer implementations that export agent
// call events to Prometheus and OpenTelemetry.
//
// Observers are attached per run through the engine:
//
//	reg := prometheus.NewRegistry()
//	eng := engine.New(engine.WithObserver(core.MultiObserver{
//		core.NewLogObserver(logger),
//		observer.NewPrometheus(observer.WithRegisterer(reg)),
//		observer.NewTracing(otel.GetTracerProvider()),
//	}))
package observer
