// Package scheduler bridges the log consumer to a bounded pool of workers
// and fans fine-grained work out to the ordered task queue.
//
// # Backpressure
//
// One pull loop owns the consumer handle and pushes fetched messages onto a
// bounded channel of capacity C = workers × k (k=2). N workers pop, process,
// and acknowledge. The push blocks when the channel is full, which blocks
// the pull loop, which pauses polling against the external log, so backpressure
// propagates backward with no explicit rate limiter.
//
// # Disposition
//
// A worker decomposes one envelope into zero or more tasks and enqueues ALL
// of them before acknowledging the envelope; a crash between decomposition
// and full enqueue redelivers the envelope rather than losing tasks.
// Transient failures retry locally with backoff; permanent failures and
// retry exhaustion are mirrored in full to the error channel and then
// acknowledged, so a poison message can never block its partition.
// Infrastructure failures are not acknowledged at all; transport
// redelivery handles them.
//
// # Shutdown
//
// Stop flips the running flag so the pull loop stops accepting new polls,
// then pushes one stop sentinel per worker so each exits after draining
// in-flight work.
package scheduler
