// Package server hosts the Fiber HTTP service and its middleware chain. It
// assigns request IDs, keeps the /-/ diagnostics namespace separate from
// package paths, and hands every other GET/HEAD request to an injected
// RequestHandler. It also builds the shared upstream HTTP clients.
package server
