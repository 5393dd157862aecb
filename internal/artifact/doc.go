// Package artifact provides a SQLite-backed cache of compiled programs.
//
// Programs are stored as opaque bytes keyed by (function key, signature
// hash). The cache never decodes them; the compiler owns the format and
// treats an unreadable artifact as a miss.
//
// # Storage Rules
//
// Rows are insert-only:
//   - UNIQUE(function_key, signature_hash) with ON CONFLICT DO NOTHING
//   - Two processes racing to persist the same specialization both succeed
//     and the first write wins
//
// Ordering uses created_seq (logical clock), never timestamps:
//   - List orders by created_seq ASC, signature_hash ASC COLLATE BINARY
//
// # Database Configuration
//
//   - WAL mode: Concurrent readers from other processes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//
// function_key is computed by shape.FunctionKey using RFC 8785 canonical
// JSON and SHA-256 with domain separation.
package artifact
