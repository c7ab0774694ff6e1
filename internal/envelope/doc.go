// Package envelope provides the foundational event types for tracefold.
//
// This package contains type definitions and content hashing only. All other
// internal packages import envelope; envelope imports nothing internal. This
// keeps it the foundational layer with no circular dependencies.
//
// Key design constraints:
//   - Event kinds form a closed set (Kind) - switches over Kind must be total
//   - Envelopes are immutable once validated; candidates never mutate
//   - All content hashes use domain-separated SHA-256 over canonical JSON
//   - All JSON tags use snake_case
package envelope
