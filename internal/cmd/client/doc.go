// Package client provides the `conveyor` command-line client.
//
// The CLI talks to the ops HTTP endpoints to perform common operations
// from a terminal. It is primarily intended for developers and operators.
//
// # Address configuration
//
// The HTTP base URL is discovered by the application that embeds the
// commands via a BaseURLFunc. When using the standalone binary, it reads
// CONVEYOR_HTTP and defaults to http://127.0.0.1:8080.
//
// Usage
//
//	conveyor publish --entity doc-42 \
//	    --payload '{"tasks":[{"task_name":"fieldA"},{"task_name":"fieldB"}]}'
//
//	conveyor queue depth
//	conveyor queue peek-dlq --limit 10
//	conveyor queue redrive --seq 17
package client
