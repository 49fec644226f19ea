package fabric

import (
	"sync"

	"github.com/rs/zerolog/log"
)

// ingressCapacity bounds how many envelopes may be queued for routing
// before Send blocks; Send is documented to never block "beyond a bounded
// enqueue", which this buffer provides.
const ingressCapacity = 256

// endpointCapacity bounds how many envelopes may sit unread in a single
// endpoint's ingress before the router starts dropping further sends to it.
const endpointCapacity = 256

// Bus is the in-process message router. Each node registers under a Host
// and obtains an Endpoint; the Bus's Run loop delivers every submitted
// envelope to the endpoint registered under its destination host.
// Unroutable envelopes (unknown destination, or a destination whose
// endpoint's queue is full) are dropped silently, per the fabric's
// best-effort failure model.
type Bus struct {
	ingress chan Envelope

	mu     sync.Mutex
	routes map[Host]chan Envelope

	done chan struct{}
}

// NewBus constructs a Bus. Callers must invoke Run (typically in its own
// goroutine) before any registered Endpoint will see delivered envelopes.
func NewBus() *Bus {
	return &Bus{
		ingress: make(chan Envelope, ingressCapacity),
		routes:  make(map[Host]chan Envelope),
		done:    make(chan struct{}),
	}
}

// Register installs (or replaces) the routing entry for host and returns an
// Endpoint bound to it. Re-registration is not idempotent: a second
// Register for the same host replaces the prior endpoint's route, so
// envelopes addressed to host are delivered only to the newest Endpoint.
func (b *Bus) Register(host Host) *Endpoint {
	rx := make(chan Envelope, endpointCapacity)

	b.mu.Lock()
	b.routes[host] = rx
	b.mu.Unlock()

	return &Endpoint{
		host:    host,
		egress:  b.ingress,
		ingress: rx,
	}
}

// Run consumes envelopes from the shared ingress and forwards each to the
// endpoint registered under its destination host, until Shutdown is called.
// It is meant to run in its own goroutine, one per Bus.
func (b *Bus) Run() {
	for {
		select {
		case env := <-b.ingress:
			b.route(env)
		case <-b.done:
			return
		}
	}
}

func (b *Bus) route(env Envelope) {
	b.mu.Lock()
	rx, ok := b.routes[env.To]
	b.mu.Unlock()

	if !ok {
		log.Trace().Str("to", string(env.To)).Str("from", string(env.From)).
			Msg("fabric: dropping envelope, unknown destination")
		return
	}

	select {
	case rx <- env:
	default:
		log.Trace().Str("to", string(env.To)).Str("from", string(env.From)).
			Msg("fabric: dropping envelope, destination queue full")
	}
}

// Shutdown signals Run to exit. It is not idempotent: call it at most once,
// as a second call panics.
func (b *Bus) Shutdown() {
	close(b.done)
}
