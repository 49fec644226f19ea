package raft

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/johnmq/raft/replog"
)

func scenarioConfig() Config {
	return Config{
		ElectionTimeoutMin: 150 * time.Millisecond,
		ElectionTimeoutMax: 300 * time.Millisecond,
		HeartbeatInterval:  70 * time.Millisecond,
		LoopTick:           2 * time.Millisecond,
	}
}

// querySettled repeatedly issues Query against node until it observes want,
// matching the end-to-end scenarios' "query three times with 30ms gaps"
// tolerance for the reference sink's at-most-one-pending-value race.
func querySettled(t *testing.T, node *Node, want int) {
	t.Helper()
	var got interface{}
	for i := 0; i < 10; i++ {
		reply := make(chan interface{}, 1)
		node.Query(nil, reply)
		select {
		case got = <-reply:
			if got == want {
				return
			}
		case <-time.After(30 * time.Millisecond):
		}
	}
	t.Fatalf("query never settled on %v, last observed %v", want, got)
}

func TestSingleNodeClusterElectsItself(t *testing.T) {
	bus := NewBus()

	john := NewNode("john")
	john.Start(bus, replog.NewAccumulatorSink(), scenarioConfig())

	time.Sleep(350 * time.Millisecond)
	require.Equal(t, Leader, john.FetchState())
}

func TestHeartbeatPreventsPromotion(t *testing.T) {
	bus := NewBus()

	leader := NewNode("leader")
	leader.Start(bus, replog.NewAccumulatorSink(), scenarioConfig())
	leader.AssignState(Leader)

	john := NewNode("john")
	john.Start(bus, replog.NewAccumulatorSink(), scenarioConfig())
	john.Introduce("leader")
	john.ForceFollow("leader")

	time.Sleep(350 * time.Millisecond)
	require.Equal(t, Follower, john.FetchState())
}

func TestThreeNodeConsensusOnThreeCommands(t *testing.T) {
	bus := NewBus()

	leaderSink := replog.NewAccumulatorSink()
	sarahSink := replog.NewAccumulatorSink()
	johnSink := replog.NewAccumulatorSink()

	leader := NewNode("leader")
	leader.Start(bus, leaderSink, scenarioConfig())
	leader.AssignState(Leader)

	sarah := NewNode("sarah")
	sarah.Start(bus, sarahSink, scenarioConfig())
	sarah.Introduce("leader")
	sarah.ForceFollow("leader")

	john := NewNode("john")
	john.Start(bus, johnSink, scenarioConfig())
	john.Introduce("leader")
	john.ForceFollow("leader")

	time.Sleep(350 * time.Millisecond)

	require.True(t, leader.Enqueue(replog.TestSet(2)).Ok)
	require.True(t, leader.Enqueue(replog.TestAdd(3)).Ok)
	require.True(t, leader.Enqueue(replog.TestSet(9)).Ok)

	time.Sleep(40 * time.Millisecond)

	for _, node := range []*Node{leader, sarah, john} {
		for _, want := range []int{2, 5, 9} {
			querySettled(t, node, want)
		}
	}
}

func TestTwoOfThreeStillProgresses(t *testing.T) {
	bus := NewBus()

	leader := NewNode("leader")
	leader.Start(bus, replog.NewAccumulatorSink(), scenarioConfig())
	leader.AssignState(Leader)

	sarah := NewNode("sarah")
	sarah.Start(bus, replog.NewAccumulatorSink(), scenarioConfig())
	sarah.Introduce("leader")
	sarah.ForceFollow("leader")

	johnSink := replog.NewAccumulatorSink()
	john := NewNode("john")
	john.Start(bus, johnSink, scenarioConfig())
	john.Introduce("leader")
	john.ForceFollow("leader")

	time.Sleep(350 * time.Millisecond)

	sarah.Exit()

	require.True(t, leader.Enqueue(replog.TestSet(2)).Ok)
	require.True(t, leader.Enqueue(replog.TestAdd(3)).Ok)
	require.True(t, leader.Enqueue(replog.TestSet(9)).Ok)

	time.Sleep(40 * time.Millisecond)

	for _, node := range []*Node{leader, john} {
		for _, want := range []int{2, 5, 9} {
			querySettled(t, node, want)
		}
	}
}

func TestOneOfThreeCannotCommit(t *testing.T) {
	bus := NewBus()

	leaderSink := replog.NewAccumulatorSink()
	leader := NewNode("leader")
	leader.Start(bus, leaderSink, scenarioConfig())
	leader.AssignState(Leader)

	sarah := NewNode("sarah")
	sarah.Start(bus, replog.NewAccumulatorSink(), scenarioConfig())
	sarah.Introduce("leader")
	sarah.ForceFollow("leader")

	john := NewNode("john")
	john.Start(bus, replog.NewAccumulatorSink(), scenarioConfig())
	john.Introduce("leader")
	john.ForceFollow("leader")

	time.Sleep(350 * time.Millisecond)

	sarah.Exit()
	john.Exit()

	require.True(t, leader.Enqueue(replog.TestSet(2)).Ok)
	require.True(t, leader.Enqueue(replog.TestAdd(3)).Ok)
	require.True(t, leader.Enqueue(replog.TestSet(9)).Ok)

	time.Sleep(60 * time.Millisecond)

	reply := make(chan interface{}, 1)
	leader.Query(nil, reply)
	select {
	case v := <-reply:
		t.Fatalf("expected no committed value without a majority, got %v", v)
	case <-time.After(30 * time.Millisecond):
	}
}

func TestLeaderDiscoveryPropagation(t *testing.T) {
	bus := NewBus()

	leader := NewNode("leader")
	leader.Start(bus, replog.NewAccumulatorSink(), scenarioConfig())
	leader.AssignState(Leader)

	followers := make([]*Node, 4)
	for i, host := range []Host{"a", "b", "c", "d"} {
		node := NewNode(host)
		node.Start(bus, replog.NewAccumulatorSink(), scenarioConfig())
		node.ForceFollow("leader")
		followers[i] = node
	}

	time.Sleep(100 * time.Millisecond)

	all := []Host{"leader", "a", "b", "c", "d"}
	require.ElementsMatch(t, all, leader.FetchNodes())
	for _, f := range followers {
		require.ElementsMatch(t, all, f.FetchNodes())
	}
}
