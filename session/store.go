package session

import "context"

// Store persists and retrieves session State. Implementations must be
// durable: a Save failure must surface to the caller so the driver can map
// it to exit code 12 (spec.md §6, IOError) rather than silently losing a
// checkpoint.
type Store interface {
	// Save writes state as the current checkpoint for its session ID,
	// overwriting any prior checkpoint. Implementations must make Save
	// atomic with respect to concurrent readers: a reader must observe
	// either the old or the new state in full, never a partial write.
	Save(ctx context.Context, state *State) error

	// Load reads the current checkpoint for sessionID. Returns
	// ErrSessionNotFound if no checkpoint exists.
	Load(ctx context.Context, sessionID string) (*State, error)

	// Exists reports whether a checkpoint exists for sessionID.
	Exists(ctx context.Context, sessionID string) (bool, error)

	// List returns the session IDs known to the store, most recently
	// updated first.
	List(ctx context.Context) ([]string, error)

	// Delete removes the checkpoint for sessionID. Deleting a session
	// that does not exist is a no-op.
	Delete(ctx context.Context, sessionID string) error

	// AgentsDir returns the root directory under which an agent's
	// conversation-persistence artifacts for this session are stored, per
	// spec.md §4.4: `agents_dir(session_id)/{agent_id}/`. Backends that
	// have no natural filesystem root (e.g. Mongo) return a path under a
	// configured local staging directory.
	AgentsDir(sessionID string) string

	// Cleanup removes sessions whose last update is older than olderThan
	// seconds. Intended for operator-triggered retention sweeps, not
	// called by the executors themselves.
	Cleanup(ctx context.Context, olderThanSeconds int64) (removed int, err error)
}
