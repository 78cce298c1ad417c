// Package store provides SQLite-backed durable storage for collected records.
//
// Tables:
//   - screenshots, clipboard_events, app_usage: syncable records, each with a
//     synced flag and synced_at time
//   - system_events: local diagnostics, removed by age only
//   - meta: key/value pairs such as the installation client id
//
// # Ordering
//
// Timestamps are stored as fixed-width UTC text, so ORDER BY timestamp is
// chronological. Ties break on id, giving a total order for sync batches.
//
// # Sync state
//
// MarkSynced only moves rows from unsynced to synced. A record stays
// unsynced until the remote has accepted the batch that carried it, and the
// retention policy never removes an unsynced event row before its ceiling.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - temp_store=MEMORY: Temporary tables and indices in memory
package store
