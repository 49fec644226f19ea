package replog

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAccumulatorSetAndAdd(t *testing.T) {
	a := NewAccumulatorSink()

	require.NoError(t, a.Commit(TestSet(5)))
	require.NoError(t, a.Commit(TestAdd(-2)))

	reply := make(chan interface{}, 1)
	a.Query(nil, reply)
	require.Equal(t, 5, <-reply)
	reply = make(chan interface{}, 1)
	a.Query(nil, reply)
	require.Equal(t, 3, <-reply)
}

func TestAccumulatorQueryWithNothingPendingIsNoop(t *testing.T) {
	a := NewAccumulatorSink()
	reply := make(chan interface{}, 1)
	a.Query(nil, reply)

	select {
	case v := <-reply:
		t.Fatalf("expected no reply, got %v", v)
	default:
	}
}

func TestAccumulatorRejectsUnknownCommand(t *testing.T) {
	a := NewAccumulatorSink()
	require.Error(t, a.Commit("not a command"))
}

func TestAccumulatorRejectsCommitAfterClose(t *testing.T) {
	a := NewAccumulatorSink()
	a.Close()
	require.ErrorIs(t, a.Commit(TestSet(1)), ErrPersistenceClosed)
}
