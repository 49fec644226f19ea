package fabric

import "time"

// pollInterval is the cadence ReceiveWithin polls the endpoint's ingress at.
const pollInterval = 2 * time.Millisecond

// pollIterations bounds how many times ReceiveWithin polls before giving up,
// regardless of the deadline passed in: a fixed iteration count rather than
// one computed from the deadline.
const pollIterations = 10

// Endpoint is the handle a registered node uses to talk to the Fabric: an
// egress shared with the router, and an ingress exclusive to this endpoint.
type Endpoint struct {
	host    Host
	egress  chan<- Envelope
	ingress chan Envelope
}

// Host returns the identifier this endpoint was registered under.
func (e *Endpoint) Host() Host {
	return e.host
}

// Send wraps payload in an Envelope addressed to "to" and hands it to the
// router. It never blocks beyond the router's bounded enqueue capacity.
func (e *Endpoint) Send(to Host, payload Payload) {
	e.egress <- Envelope{From: e.host, To: to, Payload: payload}
}

// TryReceive performs a non-blocking read of the next envelope addressed to
// this endpoint, if any is already queued.
func (e *Endpoint) TryReceive() (Envelope, bool) {
	select {
	case env := <-e.ingress:
		return env, true
	default:
		return Envelope{}, false
	}
}

// ReceiveWithin polls for an available envelope, pollIterations times,
// sleeping pollInterval between polls (or deadline/pollIterations when that
// is shorter). It therefore waits at most the smaller of deadline and
// pollIterations*pollInterval (about 20ms); a deadline of zero or less still
// waits the full 20ms.
func (e *Endpoint) ReceiveWithin(deadline time.Duration) (Envelope, bool) {
	interval := pollInterval
	if deadline > 0 && deadline/pollIterations < interval {
		interval = deadline / pollIterations
	}

	for i := 0; i < pollIterations; i++ {
		if env, ok := e.TryReceive(); ok {
			return env, true
		}
		time.Sleep(interval)
	}

	return Envelope{}, false
}
