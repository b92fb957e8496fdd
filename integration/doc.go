//go:build integration

// Package integration provides integration tests for tarindex.
//
// These tests require Docker and index archives served by a real nginx
// container started with testcontainers.
// Run with: go test -tags=integration ./integration/...
package integration
