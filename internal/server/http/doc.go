// Package httpserver exposes the event type, storage, timeline and event
// APIs over HTTP with SSE streaming and a Prometheus metrics endpoint.
//
// The calling client is taken from the X-Nakadi-Client header. Only the
// configured admin client may create storages and timelines.
//
// Example:
//
//	rt, _ := runtime.Open(ctx, runtime.Options{DataDir: "./data", Config: config.Default()})
//	s := httpserver.New(rt, nil)
//	ctx, cancel := context.WithCancel(context.Background())
//	defer cancel()
//	_ = s.ListenAndServe(ctx, ":8080")
package httpserver
