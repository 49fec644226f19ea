package replog

import (
	"fmt"

	iradix "github.com/hashicorp/go-immutable-radix"
)

// SetCommand durably associates Value with Key.
type SetCommand struct {
	Key   string
	Value string
}

// DeleteCommand removes Key, if present.
type DeleteCommand struct {
	Key string
}

// GetQuery reads the current value for Key.
type GetQuery struct {
	Key string
}

// GetResult is the answer to a GetQuery: Value is meaningful only if Found.
type GetResult struct {
	Value string
	Found bool
}

// RadixSink is a key/value Persistence sink backed by an immutable radix
// tree, supplementing the reference AccumulatorSink with the kind of
// realistic commit target a replicated key/value store commits to.
// Unlike AccumulatorSink, Query answers synchronously: a radix lookup has
// no "not ready yet" state, so there is no race to document here.
type RadixSink struct {
	tree   *iradix.Tree
	closed bool
}

// NewRadixSink constructs an empty RadixSink.
func NewRadixSink() *RadixSink {
	return &RadixSink{tree: iradix.New()}
}

// Close stops the sink from accepting further commits; see
// AccumulatorSink.Close.
func (s *RadixSink) Close() {
	s.closed = true
}

// Commit applies cmd (SetCommand or DeleteCommand) to the tree.
func (s *RadixSink) Commit(cmd interface{}) error {
	if s.closed {
		return ErrPersistenceClosed
	}

	switch c := cmd.(type) {
	case SetCommand:
		tree, _, _ := s.tree.Insert([]byte(c.Key), c.Value)
		s.tree = tree
	case DeleteCommand:
		tree, _, _ := s.tree.Delete([]byte(c.Key))
		s.tree = tree
	default:
		return fmt.Errorf("replog: radix sink cannot apply %T", cmd)
	}
	return nil
}

// Query answers a GetQuery with a GetResult. Any other query type is
// ignored and gets no reply (unlike AccumulatorSink, which disregards the
// query argument altogether).
func (s *RadixSink) Query(query interface{}, reply chan<- interface{}) {
	q, ok := query.(GetQuery)
	if !ok {
		return
	}

	raw, found := s.tree.Get([]byte(q.Key))
	if !found {
		reply <- GetResult{Found: false}
		return
	}

	value, _ := raw.(string)
	reply <- GetResult{Value: value, Found: true}
}
