// Package retry classifies processing failures and drives local retries.
//
// Failures fall into three classes. Transient failures (timeouts,
// throttling) are retried locally with exponential backoff and jitter, up to
// a bounded attempt budget. Permanent failures (malformed payloads, schema
// violations) are never retried locally. Infrastructure failures (broker or
// queue unreachable) are not application-retryable at all; transport
// reconnect and redelivery handle them.
//
// Exhausting the transient budget converts the failure into a permanent one
// for disposition purposes, which is how the scheduler guarantees a poison
// message can never block its partition.
package retry
