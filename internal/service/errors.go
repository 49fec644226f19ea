package service

import "errors"

// ErrNotStarted is used by the root package's Node Handle when a command is
// sent to a service that was never started. Per the handle-before-start
// misuse policy, callers are expected to panic on this, not recover from it.
var ErrNotStarted = errors.New("service: node was never started")

// ErrNotLeader is returned to an Enqueue command sent to a node that is not
// currently Leader.
var ErrNotLeader = errors.New("service: node is not the leader")
