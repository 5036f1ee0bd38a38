// Package api exposes read-only HTTP endpoints for inspecting vaults,
// proposals, and pending coordination-service transactions, plus health
// and metrics endpoints for operators. State-changing operations are
// deliberately CLI-only.
package api
