// Package config provides loading and environment overlay for Conveyor
// runtime configuration. It exposes a Default() baseline, a JSON file
// loader, and a CONVEYOR_* environment overlay.
//
// Example:
//
//	cfg := config.Default()
//	// Optionally load from file and overlay env vars
//	if fileCfg, err := config.Load("/etc/conveyor.json"); err == nil {
//	    cfg = fileCfg
//	}
//	config.FromEnv(&cfg)
//	if err := cfg.Validate(); err != nil {
//	    // Kafka mode without brokers, missing topics, etc.
//	}
//	rt, _ := runtime.Open(cfg)
//	defer rt.Close()
package config
