// Package runtime wires storage and config into a single Conveyor
// process. It exposes Open/Close, basic health checks, and factories for
// the configured log transport and the ordered queue client.
//
// Example:
//
//	cfg := config.Default()
//	rt, _ := runtime.Open(cfg)
//	defer rt.Close()
//	_ = rt.CheckHealth(context.Background())
//	lt, _ := rt.OpenLogTransport()
//	queue, wq, _ := rt.OpenQueue()
package runtime
