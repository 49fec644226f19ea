// Package service implements the Node Service actor: the per-node state
// machine that owns role, term, known peers, leader hint, and the
// Replicated Log, and drives them forward on every tick of its control
// loop. It is reached only through the command protocol in commands.go;
// the root package's Node Handle is the only intended caller.
package service

import (
	"time"

	"github.com/rs/zerolog/log"

	"github.com/johnmq/raft/fabric"
	"github.com/johnmq/raft/replog"
)

// Node is the Node Service actor. Exactly one goroutine, started by Run,
// ever touches its unexported fields; everything else talks to it through
// Commands or the Fabric.
type Node struct {
	host   fabric.Host
	config Config

	role     Role
	term     int
	votedFor fabric.Host
	votes    int

	alreadyRequested bool

	peers      []fabric.Host
	peerIndex  map[fabric.Host]struct{}
	leaderHint *fabric.Host

	lastAppendSeenAt    time.Time
	electionTimeout     time.Duration
	lastHeartbeatSentAt time.Time

	log *replog.Log

	endpoint *fabric.Endpoint
	commands <-chan Command
}

// New constructs a Node Service bound to endpoint and backed by persistence.
// It starts as a Follower, alone in its own peer set. Commands arrives from
// the owning Node Handle; Run must be started for the node to do anything.
func New(host fabric.Host, endpoint *fabric.Endpoint, persistence replog.Persistence, commands <-chan Command, config Config) *Node {
	now := time.Now()
	return &Node{
		host:             host,
		config:           config,
		role:             Follower,
		peers:            []fabric.Host{host},
		peerIndex:        map[fabric.Host]struct{}{host: {}},
		lastAppendSeenAt: now,
		electionTimeout:  config.randomElectionTimeout(),
		log:              replog.New(persistence),
		endpoint:         endpoint,
		commands:         commands,
	}
}

// Run drives the control loop until an ExitCmd is received. It is meant to
// be started in its own goroutine, one per Node.
func (n *Node) Run() {
	log.Debug().Str("host", string(n.host)).Dur("election_timeout", n.electionTimeout).
		Msg("service: node starting")

	for {
		if n.processOneCommand() {
			return
		}
		n.processOneEnvelope()
		n.tickRole()

		time.Sleep(n.config.LoopTick)
	}
}

// majoritySize returns the minimum witness-set size required to commit:
// (|peers|+1)/2 in integer division, i.e. ceil(|peers|/2).
func (n *Node) majoritySize() int {
	return (len(n.peers) + 1) / 2
}

func (n *Node) addPeer(host fabric.Host) {
	if _, ok := n.peerIndex[host]; ok {
		return
	}
	n.peerIndex[host] = struct{}{}
	n.peers = append(n.peers, host)
}

func (n *Node) replacePeers(hosts []fabric.Host) {
	n.peers = nil
	n.peerIndex = make(map[fabric.Host]struct{}, len(hosts))
	for _, h := range hosts {
		n.addPeer(h)
	}
	n.addPeer(n.host)
}

func (n *Node) peersSnapshot() []fabric.Host {
	out := make([]fabric.Host, len(n.peers))
	copy(out, n.peers)
	return out
}

func (n *Node) broadcast(payload fabric.Payload) {
	for _, p := range n.peers {
		if p == n.host {
			continue
		}
		n.endpoint.Send(p, payload)
	}
}

// -- command processing -----------------------------------------------

// processOneCommand drains at most one pending Command. It returns true if
// the caller asked the node to exit.
func (n *Node) processOneCommand() bool {
	select {
	case cmd := <-n.commands:
		return n.dispatchCommand(cmd)
	default:
		return false
	}
}

func (n *Node) dispatchCommand(cmd Command) bool {
	switch c := cmd.(type) {
	case FetchStateCmd:
		c.Reply <- n.role

	case AssignStateCmd:
		n.role = c.Role
		if n.role == Candidate {
			n.alreadyRequested = false
		}
		c.Reply <- n.role

	case FetchLeaderCmd:
		c.Reply <- n.reportedLeaderHint()

	case AssignLeaderCmd:
		n.leaderHint = c.Leader
		if c.Leader != nil {
			n.endpoint.Send(*c.Leader, fabric.Ack{})
		}
		c.Reply <- n.leaderHint

	case FetchNodesCmd:
		c.Reply <- n.peersSnapshot()

	case IntroduceCmd:
		n.role = Follower
		n.endpoint.Send(c.Host, fabric.Ack{})
		n.endpoint.Send(c.Host, fabric.LeaderQuery{})

	case EnqueueCmd:
		c.Reply <- n.handleEnqueue(c.Command)

	case QueryCmd:
		n.log.QueryPersistence(c.Query, c.Reply)

	case ExitCmd:
		log.Debug().Str("host", string(n.host)).Msg("service: node exiting")
		return true
	}
	return false
}

func (n *Node) reportedLeaderHint() *fabric.Host {
	if n.role == Leader {
		return nil
	}
	return n.leaderHint
}

func (n *Node) handleEnqueue(command interface{}) EnqueueResult {
	if n.role != Leader {
		return EnqueueResult{Ok: false, Err: ErrNotLeader}
	}

	offset := n.log.Enqueue(command)
	if err := n.log.Persisted(offset, n.host); err != nil {
		return EnqueueResult{Ok: false, Err: err}
	}

	n.broadcast(fabric.AppendQuery{Log: fabric.AppendLog{
		CommittedOffset: n.log.CommittedOffset(),
		NodeList:        n.peersSnapshot(),
		Entry:           &fabric.Entry{Offset: offset, Command: command},
	}})

	return EnqueueResult{Offset: offset, Ok: true}
}

// -- envelope processing -------------------------------------------------

// processOneEnvelope drains at most one pending Envelope from the fabric.
func (n *Node) processOneEnvelope() {
	env, ok := n.endpoint.TryReceive()
	if !ok {
		return
	}

	switch p := env.Payload.(type) {
	case fabric.Ack:
		n.addPeer(env.From)

	case fabric.LeaderQuery:
		n.endpoint.Send(env.From, fabric.LeaderQueryResponse{Leader: n.reportedLeaderHint()})

	case fabric.LeaderQueryResponse:
		if p.Leader != nil {
			n.endpoint.Send(*p.Leader, fabric.Ack{})
		}

	case fabric.AppendQuery:
		n.handleAppendQuery(env.From, p.Log)

	case fabric.Persisted:
		if n.role == Leader {
			if err := n.log.Persisted(p.Offset, env.From); err != nil {
				log.Debug().Err(err).Str("host", string(n.host)).Int("offset", p.Offset).
					Msg("service: ignoring Persisted for unknown offset")
			}
		}

	case fabric.RequestVote:
		n.handleRequestVote(env.From, p.Term)

	case fabric.Vote:
		n.handleVote(env.From, p.Term)
	}
}

func (n *Node) handleAppendQuery(from fabric.Host, appendLog fabric.AppendLog) {
	n.role = Follower
	n.lastAppendSeenAt = time.Now()
	leader := from
	n.leaderHint = &leader
	n.replacePeers(appendLog.NodeList)

	target := appendLog.CommittedOffset
	if target > n.log.Len() {
		target = n.log.Len()
	}
	if err := n.log.CommitUpto(target); err != nil {
		log.Warn().Err(err).Str("host", string(n.host)).Msg("service: follower commit_upto failed")
	}

	if appendLog.Entry == nil {
		return
	}

	if appendLog.Entry.Offset == n.log.Len() {
		n.log.Enqueue(appendLog.Entry.Command)
	}
	if appendLog.Entry.Offset < n.log.Len() {
		n.endpoint.Send(from, fabric.Persisted{Offset: appendLog.Entry.Offset})
	}
}

func (n *Node) handleRequestVote(from fabric.Host, term int) {
	if term > n.term {
		n.term = term
		n.votes = 0
		n.votedFor = ""
		n.role = Follower
		n.lastAppendSeenAt = time.Now()
	} else if term < n.term || n.votedFor != "" {
		return
	}

	n.votedFor = from
	n.endpoint.Send(from, fabric.Vote{Term: term})
}

func (n *Node) handleVote(from fabric.Host, term int) {
	if term != n.term || n.role != Candidate {
		return
	}

	n.votes++
	if n.votes > len(n.peers)/2 {
		n.becomeLeader()
	}
}

// -- per-role tick logic --------------------------------------------------

func (n *Node) tickRole() {
	switch n.role {
	case Follower:
		n.tickFollower()
	case Candidate:
		n.tickCandidate()
	case Leader:
		n.tickLeader()
	}
}

func (n *Node) tickFollower() {
	if time.Since(n.lastAppendSeenAt) > n.electionTimeout {
		n.becomeCandidate()
	}
}

func (n *Node) becomeCandidate() {
	n.role = Candidate
	n.alreadyRequested = false
	log.Debug().Str("host", string(n.host)).Int("term", n.term).Msg("service: becoming candidate")
}

func (n *Node) tickCandidate() {
	if !n.alreadyRequested {
		n.alreadyRequested = true
		n.term++
		n.votes = 0
		n.votedFor = n.host
		n.lastAppendSeenAt = time.Now()

		n.endpoint.Send(n.host, fabric.Vote{Term: n.term})
		n.broadcast(fabric.RequestVote{Term: n.term})

		log.Debug().Str("host", string(n.host)).Int("term", n.term).
			Msg("service: requesting votes")
		return
	}

	if time.Since(n.lastAppendSeenAt) > n.electionTimeout {
		n.role = Follower
		n.votes = 0
		n.lastAppendSeenAt = time.Now()
	}
}

func (n *Node) becomeLeader() {
	n.role = Leader
	n.leaderHint = nil
	log.Info().Str("host", string(n.host)).Int("term", n.term).Msg("service: elected leader")
	n.sendHeartbeat()
}

func (n *Node) tickLeader() {
	n.leaderHint = nil

	if time.Since(n.lastHeartbeatSentAt) > n.config.HeartbeatInterval {
		n.sendHeartbeat()
	}

	before := n.log.CommittedOffset()
	if err := n.log.AutocommitIfSafe(n.majoritySize()); err != nil {
		log.Warn().Err(err).Str("host", string(n.host)).Msg("service: autocommit failed")
		return
	}
	if n.log.CommittedOffset() != before {
		n.sendHeartbeat()
	}
}

func (n *Node) sendHeartbeat() {
	n.lastHeartbeatSentAt = time.Now()
	n.broadcast(fabric.AppendQuery{Log: fabric.AppendLog{
		CommittedOffset: n.log.CommittedOffset(),
		NodeList:        n.peersSnapshot(),
	}})
}
