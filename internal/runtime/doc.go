// Package runtime wires storage, metadata and services into a single-node
// broker. It exposes Open/Close, basic health checks and accessors for the
// services used by the HTTP server and the CLI.
//
// Example:
//
//	rt, err := runtime.Open(ctx, runtime.Options{DataDir: "./data", Config: config.Default()})
//	if err != nil {
//	    return err
//	}
//	defer rt.Close()
//	_ = rt.CheckHealth(ctx)
//	_, _ = rt.Admin().CreateEventType(ctx, domain.EventType{Name: "orders"})
package runtime
