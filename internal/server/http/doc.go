// Package httpserver provides the ops surface: health probes, queue
// stats, dead-letter inspection and replay, envelope publishing for
// manual testing, and the Prometheus scrape endpoint.
//
// Example:
//
//	rt, _ := runtime.Open(config.Default())
//	s := httpserver.New(httpserver.Options{Runtime: rt}, logger)
//	ctx, cancel := context.WithCancel(context.Background())
//	defer cancel()
//	_ = s.ListenAndServe(ctx, ":8080")
package httpserver
