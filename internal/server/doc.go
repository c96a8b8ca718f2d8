// Package server hosts the Fiber HTTP service that exposes the module cache to
// local tooling. It owns the middleware chain (request IDs, access logging,
// panic recovery), the JSON error envelope, and the shared upstream
// http.Client used by the fetcher. Route handlers live in server/routes so the
// CLI can assemble the app with explicit dependencies.
package server
