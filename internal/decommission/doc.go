// Package decommission implements the resumable vault decommission workflow.
//
// All progress lives in the record store (see package state); a run loads the
// records, advances each vault as far as the service allows, saves after every
// change and exits. Runs are meant to be repeated by an external scheduler:
//
//	NOT_STARTED -> IN_PROGRESS -> COMPLETE -> PENDING_DELETION -> DELETED
//	                    \-> ERROR -> IN_PROGRESS (next scan run)
//
// Stages, in order:
//
//   - Scanner registers vaults that have no record yet.
//   - Initiator submits an inventory job for NOT_STARTED and ERROR vaults.
//   - Poller checks running jobs and stores the archive list once one is done.
//   - RetentionGate selects COMPLETE vaults whose inventory is older than the window.
//   - Destroyer deletes the archives and then the vault, retrying while the
//     service still reports the vault as non-empty.
//
// Orchestrator runs the first two only in ModeScan. Vaults are processed one
// at a time.
package decommission
