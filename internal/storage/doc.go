// Package storage persists the task history of the cycle runtime: failed
// tasks, rejected futures and finished iterations.
//
// Drivers:
//   - "file": JSON Lines file with an in-memory tail for recent queries
//   - "sqlite": SQLite database (modernc, pure Go) migrated with goose
package storage
