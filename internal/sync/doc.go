// Package sync implements the offline-first synchronization engine that
// reconciles the local note store against the remote store.
//
// # Sync cycle
//
// A cycle is triggered by the daemon's timer, by a connectivity transition,
// or by an explicit manual trigger. Cycles are single-flight: at most one
// runs at a time, and a trigger arriving mid-cycle is dropped, not queued.
// A cycle always runs to completion and returns the engine to idle, so a
// failing phase never blocks future triggers.
//
// # Push phase
//
// Every note with sync_status=pending is POSTed to the remote store in the
// local listing order. Outcomes per note:
//
//   - success: the note is marked synced for that exact version
//   - server-reported conflict: the pair (local, server's note) is handed to
//     the conflict resolver; the note is not marked synced here
//   - transport failure: the note stays pending and is retried next cycle;
//     the failure never aborts the rest of the batch
//
// Failed pushes bump an attempts counter on the note's mutation log entries.
// Retry remains immediate on the next cycle, but the engine logs a warning
// once the counter passes a threshold so unbounded retry loops are visible.
//
// # Pull phase
//
// Changes since the stored last-pull timestamp are fetched, scoped to this
// device id so the device does not receive its own pushes back as remote
// changes. Each change is applied sequentially in server order:
//
//   - create: materialized as synced when the id is unknown locally,
//     otherwise treated as a conflict
//   - update: materialized when absent; treated as a conflict when the local
//     copy is pending with a newer updated timestamp; otherwise applied and
//     marked synced
//   - delete: unconditional local removal, even over pending edits
//     (accepted lossy behavior)
//
// After processing all changes the last-pull timestamp advances to now. A
// pull transport failure aborts the remaining pull work but does not roll
// back push-phase progress.
package sync
