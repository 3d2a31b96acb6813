package gami

import (
	"sync"

	"github.com/rs/zerolog"
)

// pendingAction is the live state of one in-flight action, as tracked by
// the correlator.
type pendingAction struct {
	token  string
	shape  shaper
	result chan outcome
}

// correlator routes incoming packets to pending actions by ActionID, with a
// "current" slot fallback for servers that omit ActionID on responses. It
// never blocks and never touches the network; it is the single
// authoritative registry of pending actions, consulted only by the
// transport's reader and by the action surface registering/cancelling work.
type correlator struct {
	mu      sync.Mutex
	pending map[string]*pendingAction
	current *pendingAction
	log     zerolog.Logger
	onEvent func(*Packet)
}

func newCorrelator(log zerolog.Logger, onEvent func(*Packet)) *correlator {
	return &correlator{
		pending: make(map[string]*pendingAction),
		log:     log,
		onEvent: onEvent,
	}
}

// register installs a pending action under token and marks it as the
// current (most recently written, not-yet-responded-to) action, used when
// the server's first response packet omits ActionID.
func (c *correlator) register(pa *pendingAction) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending[pa.token] = pa
	c.current = pa
}

// cancel removes a pending action without completing its shaper, so any
// packets that arrive afterward for this token are dropped.
func (c *correlator) cancel(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if pa, ok := c.pending[token]; ok {
		delete(c.pending, token)
		if c.current == pa {
			c.current = nil
		}
	}
}

// dispatch routes one incoming packet. It is called only from the
// transport's single reader goroutine.
func (c *correlator) dispatch(p *Packet) {
	token, hasToken := p.Get("ActionID")

	c.mu.Lock()
	var pa *pendingAction
	switch {
	case hasToken:
		pa = c.pending[token]
		if pa == nil {
			c.mu.Unlock()
			if p.IsEvent() {
				c.deliverEvent(p)
			} else {
				c.log.Debug().Str("actionID", token).Msg("dropping packet for unknown action")
			}
			return
		}
	case p.IsResponse():
		pa = c.current
		if pa == nil {
			c.mu.Unlock()
			c.log.Debug().Msg("dropping response packet with no current action")
			return
		}
	case p.IsEvent():
		pa = c.current
		if pa == nil || !acceptsBareEvent(pa.shape) {
			c.mu.Unlock()
			c.deliverEvent(p)
			return
		}
	case c.current != nil && isRawTextShape(c.current.shape):
		// the "queues" shape has no Response/Event headers at all on its
		// body packets or its terminating empty packet; route everything
		// to the current action until it completes.
		pa = c.current
	default:
		c.mu.Unlock()
		c.log.Debug().Msg("dropping unparseable packet")
		return
	}
	// The current slot is cleared only when pa actually completes (below),
	// not merely when its first packet is seen: list/queue-status/queues
	// shapes need continued ActionID-less routing across several packets.
	c.mu.Unlock()

	o := pa.shape.feed(p)
	if o.event != nil {
		// the shaper declined this packet (e.g. a spontaneous event seen
		// while a list accumulates); current's action is unaffected.
		c.deliverEvent(o.event)
		return
	}
	if !o.done {
		return
	}
	if o.warning != "" {
		c.log.Warn().Str("actionID", pa.token).Msg(o.warning)
	}

	c.mu.Lock()
	delete(c.pending, pa.token)
	if c.current == pa {
		c.current = nil
	}
	c.mu.Unlock()

	select {
	case pa.result <- o:
	default:
		// caller already gave up (cancelled/timed out); drop silently.
	}
}

func (c *correlator) deliverEvent(p *Packet) {
	if c.onEvent == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			c.log.Error().Interface("panic", r).Msg("event subscriber panicked, isolating from reader loop")
		}
	}()
	c.onEvent(p)
}

// disconnectAll fails every pending action with a disconnected error and
// clears the registry. Called by the transport when the socket is lost.
func (c *correlator) disconnectAll() {
	c.mu.Lock()
	pending := c.pending
	c.pending = make(map[string]*pendingAction)
	c.current = nil
	c.mu.Unlock()

	for _, pa := range pending {
		select {
		case pa.result <- completedFail(newDisconnected()):
		default:
		}
	}
}
