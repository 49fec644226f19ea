package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/johnmq/raft/fabric"
	"github.com/johnmq/raft/replog"
)

func newTestNode(t *testing.T, bus *fabric.Bus, host fabric.Host, config Config) (*Node, chan Command) {
	t.Helper()
	endpoint := bus.Register(host)
	commands := make(chan Command, 8)
	return New(host, endpoint, replog.NewAccumulatorSink(), commands, config), commands
}

func fastConfig() Config {
	return Config{
		ElectionTimeoutMin: 20 * time.Millisecond,
		ElectionTimeoutMax: 30 * time.Millisecond,
		HeartbeatInterval:  5 * time.Millisecond,
		LoopTick:           time.Millisecond,
	}
}

func TestSingleNodeElectsItself(t *testing.T) {
	bus := fabric.NewBus()
	go bus.Run()
	defer bus.Shutdown()

	n, commands := newTestNode(t, bus, "john", fastConfig())
	go n.Run()
	defer func() { commands <- ExitCmd{} }()

	require.Eventually(t, func() bool {
		reply := make(chan Role, 1)
		commands <- FetchStateCmd{Reply: reply}
		return <-reply == Leader
	}, 100*time.Millisecond, time.Millisecond)
}

func TestRequestVoteGrantsAtMostOncePerTerm(t *testing.T) {
	bus := fabric.NewBus()
	go bus.Run()
	defer bus.Shutdown()

	n, commands := newTestNode(t, bus, "follower", fastConfig())
	go n.Run()
	defer func() { commands <- ExitCmd{} }()

	candidateA := bus.Register("a")
	candidateB := bus.Register("b")

	candidateA.Send("follower", fabric.RequestVote{Term: 1})
	env, ok := candidateA.ReceiveWithin(50 * time.Millisecond)
	require.True(t, ok)
	require.IsType(t, fabric.Vote{}, env.Payload)

	candidateB.Send("follower", fabric.RequestVote{Term: 1})
	_, ok = candidateB.ReceiveWithin(20 * time.Millisecond)
	require.False(t, ok, "a second RequestVote for the same term must not be granted")
}
