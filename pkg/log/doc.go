// Package log provides the structured logging system shared by Conveyor
// components.
//
// Loggers are constructed explicitly and passed by reference; there is no
// global default. Components tag their logger with a component name:
//
//	logger := log.NewLogger(log.WithLevel(log.InfoLevel))
//	logger = logger.With(log.Component("scheduler"))
//	logger.Info("worker started", log.Int("workers", n))
//
// Output format (text or JSON) and level are chosen via Config/ApplyConfig,
// which the CLI feeds from CONVEYOR_LOG_LEVEL and CONVEYOR_LOG_FORMAT.
// RedirectStdLog routes stdlib log output (e.g. Pebble's) through a Logger.
package log
