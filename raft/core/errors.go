package core

import (
	"errors"
	"fmt"
)

// ErrNotLeader reports a Propose on a node that is not the leader.
// The caller may redirect to Status().LeaderID or wait.
var ErrNotLeader = errors.New("raft: not leader")

// storageError wrap a failure of the Storage port. Such a failure is
// fatal: the node stops emitting messages until re-initialized.
func storageError(err error) error {
	return fmt.Errorf("raft: storage failure: %w", err)
}
