// Package lifecycle owns process startup and shutdown ordering. Startup
// blocks on partition assignment before any scheduling loop runs;
// shutdown drains the worker pool with stop sentinels, flushes the
// producer within a bounded window, closes the consumer with a final
// cursor commit, and only then releases the queue client.
package lifecycle
