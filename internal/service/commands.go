package service

import (
	"github.com/google/uuid"

	"github.com/johnmq/raft/fabric"
)

// Role is a node's position in the consensus protocol.
type Role int

const (
	Follower Role = iota
	Candidate
	Leader
)

func (r Role) String() string {
	switch r {
	case Follower:
		return "Follower"
	case Candidate:
		return "Candidate"
	case Leader:
		return "Leader"
	default:
		return "Unknown"
	}
}

// Command is the tagged union of requests a Node Handle may send to a Node
// Service. Every variant carries a correlation ID, even though the current
// Handle only ever keeps one request in flight at a time.
type Command interface {
	isCommand()
}

type FetchStateCmd struct {
	ID    uuid.UUID
	Reply chan Role
}

func (FetchStateCmd) isCommand() {}

type AssignStateCmd struct {
	ID    uuid.UUID
	Role  Role
	Reply chan Role
}

func (AssignStateCmd) isCommand() {}

type FetchLeaderCmd struct {
	ID    uuid.UUID
	Reply chan *fabric.Host
}

func (FetchLeaderCmd) isCommand() {}

type AssignLeaderCmd struct {
	ID     uuid.UUID
	Leader *fabric.Host
	Reply  chan *fabric.Host
}

func (AssignLeaderCmd) isCommand() {}

type FetchNodesCmd struct {
	ID    uuid.UUID
	Reply chan []fabric.Host
}

func (FetchNodesCmd) isCommand() {}

// IntroduceCmd forces the receiving node to Follower and kicks off the peer
// discovery protocol (Ack + LeaderQuery) against Host.
type IntroduceCmd struct {
	ID   uuid.UUID
	Host fabric.Host
}

func (IntroduceCmd) isCommand() {}

// EnqueueResult is the reply to an EnqueueCmd: Offset is meaningful only
// when Ok.
type EnqueueResult struct {
	Offset int
	Ok     bool
	Err    error
}

type EnqueueCmd struct {
	ID      uuid.UUID
	Command interface{}
	Reply   chan EnqueueResult
}

func (EnqueueCmd) isCommand() {}

// QueryCmd forwards a read query straight through to the Replicated Log's
// Persistence sink. Reply is the caller's own channel, passed through
// unexamined - the sink decides whether and when to answer it.
type QueryCmd struct {
	ID    uuid.UUID
	Query interface{}
	Reply chan<- interface{}
}

func (QueryCmd) isCommand() {}

type ExitCmd struct {
	ID uuid.UUID
}

func (ExitCmd) isCommand() {}
