// Package raft is a Node Handle: the thin external façade a caller drives
// to run one member of a Raft-style consensus cluster. The handle owns
// nothing but a command channel; all state (role, term, peers, log) lives
// in the Node Service actor it starts and talks to.
package raft

import (
	"github.com/google/uuid"

	"github.com/johnmq/raft/fabric"
	"github.com/johnmq/raft/internal/service"
	"github.com/johnmq/raft/replog"
)

// Host identifies a cluster member, unique within a cluster.
type Host = fabric.Host

// Role is a node's current position in the protocol.
type Role = service.Role

const (
	Follower  = service.Follower
	Candidate = service.Candidate
	Leader    = service.Leader
)

// Bus is the in-process fabric every Node in a cluster must share.
type Bus = fabric.Bus

// NewBus constructs a Bus and starts its routing loop in a new goroutine.
func NewBus() *Bus {
	bus := fabric.NewBus()
	go bus.Run()
	return bus
}

// Persistence is the pluggable sink a Node's Replicated Log applies
// committed entries to and forwards read queries through.
type Persistence = replog.Persistence

// Config carries a Node's timing constants.
type Config = service.Config

// DefaultConfig returns the package's implementation-chosen defaults:
// randomized [150ms,300ms) election timeout, 70ms heartbeat, 2ms loop tick.
func DefaultConfig() Config {
	return service.DefaultConfig()
}

// commandBuffer is how many in-flight commands a Handle may have queued
// against its Service before Send blocks. The discipline is one pending
// request at a time, so a small buffer is purely defensive.
const commandBuffer = 8

// Node is a Node Handle bound to a single host identity. The zero value is
// a valid, unstarted handle; every method other than Start and Host panics
// if called before Start.
type Node struct {
	host     Host
	commands chan service.Command
}

// NewNode constructs an unstarted handle for host. Call Start before using
// any other method.
func NewNode(host Host) *Node {
	return &Node{host: host}
}

// Start registers the node on bus, constructs its Node Service actor with
// persistence as its commit sink, and launches the actor's control loop in
// a new goroutine. Start must be called at most once per Node.
func (n *Node) Start(bus *Bus, persistence Persistence, config Config) {
	endpoint := bus.Register(n.host)
	commands := make(chan service.Command, commandBuffer)
	n.commands = commands

	svc := service.New(n.host, endpoint, persistence, commands, config)
	go svc.Run()
}

// Host returns the identity this handle was constructed with.
func (n *Node) Host() Host {
	return n.host
}

func (n *Node) mustBeStarted() {
	if n.commands == nil {
		panic(service.ErrNotStarted)
	}
}

// FetchState returns the node's current Role.
func (n *Node) FetchState() Role {
	n.mustBeStarted()
	reply := make(chan service.Role, 1)
	n.commands <- service.FetchStateCmd{ID: uuid.New(), Reply: reply}
	return <-reply
}

// AssignState forces the node's Role. It exists for tests that need to
// force a node into a known starting state (e.g. forcing a single node
// Leader so the rest of a cluster can discover it).
func (n *Node) AssignState(role Role) Role {
	n.mustBeStarted()
	reply := make(chan service.Role, 1)
	n.commands <- service.AssignStateCmd{ID: uuid.New(), Role: role, Reply: reply}
	return <-reply
}

// FetchLeader returns the node's current leader hint, or nil if the node
// believes itself to be the leader or doesn't yet know of one.
func (n *Node) FetchLeader() *Host {
	n.mustBeStarted()
	reply := make(chan *Host, 1)
	n.commands <- service.FetchLeaderCmd{ID: uuid.New(), Reply: reply}
	return <-reply
}

// AssignLeader sets the node's leader hint. If leader is non-nil, the node
// also sends it an Ack, pulling itself into the leader's peer set - the
// force-follow test hook used by several end-to-end scenarios.
func (n *Node) AssignLeader(leader *Host) *Host {
	n.mustBeStarted()
	reply := make(chan *Host, 1)
	n.commands <- service.AssignLeaderCmd{ID: uuid.New(), Leader: leader, Reply: reply}
	return <-reply
}

// ForceFollow is a convenience wrapper used throughout the end-to-end
// scenarios: force the node to Follower and adopt leader as its hint.
func (n *Node) ForceFollow(leader Host) {
	n.AssignState(Follower)
	n.AssignLeader(&leader)
}

// FetchNodes returns the node's current peer set, as an ordered slice.
func (n *Node) FetchNodes() []Host {
	n.mustBeStarted()
	reply := make(chan []Host, 1)
	n.commands <- service.FetchNodesCmd{ID: uuid.New(), Reply: reply}
	return <-reply
}

// Introduce forces the node to Follower and kicks off peer discovery
// against bootstrap: an Ack (announcing this node's presence) followed by a
// LeaderQuery (asking bootstrap who the leader is).
func (n *Node) Introduce(bootstrap Host) {
	n.mustBeStarted()
	n.commands <- service.IntroduceCmd{ID: uuid.New(), Host: bootstrap}
}

// EnqueueResult reports the outcome of an Enqueue call.
type EnqueueResult = service.EnqueueResult

// Enqueue appends command to the node's Replicated Log and broadcasts it to
// peers, if and only if the node is currently Leader.
func (n *Node) Enqueue(command interface{}) EnqueueResult {
	n.mustBeStarted()
	reply := make(chan EnqueueResult, 1)
	n.commands <- service.EnqueueCmd{ID: uuid.New(), Command: command, Reply: reply}
	return <-reply
}

// Query forwards query to the node's Persistence sink through its
// Replicated Log. reply is the caller's own channel: the sink decides
// whether, and when, to answer it.
func (n *Node) Query(query interface{}, reply chan<- interface{}) {
	n.mustBeStarted()
	n.commands <- service.QueryCmd{ID: uuid.New(), Query: query, Reply: reply}
}

// Exit terminates the node's control loop.
func (n *Node) Exit() {
	n.mustBeStarted()
	n.commands <- service.ExitCmd{ID: uuid.New()}
}
