package types

// Checkpointer is implemented by every component whose state must roll back together with a failed
// ledger operation. Checkpoint captures the current state and returns a function restoring it.
type Checkpointer interface {
	Checkpoint() (restore func())
}
