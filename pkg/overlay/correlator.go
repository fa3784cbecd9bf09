package overlay

import (
	"math/rand/v2"
	"sync"
)

const (
	minRequestID = 1000000
	maxRequestID = 9999999
)

type result struct {
	envelope Envelope
	err      error
}

// pendingRequest is a one-shot completion slot for a single request.
type pendingRequest struct {
	id   uint32
	done chan result
	once sync.Once
}

func (p *pendingRequest) fulfill(env Envelope, err error) bool {
	fulfilled := false
	p.once.Do(func() {
		p.done <- result{envelope: env, err: err}
		fulfilled = true
	})
	return fulfilled
}

// correlator matches reply identifiers to pending requests.
type correlator struct {
	mu      sync.Mutex
	pending map[uint32]*pendingRequest
	closed  error
	nextID  func() uint32
}

func newCorrelator() *correlator {
	return &correlator{
		pending: make(map[uint32]*pendingRequest),
		nextID:  randomRequestID,
	}
}

func randomRequestID() uint32 {
	return uint32(minRequestID + rand.IntN(maxRequestID-minRequestID))
}

// register allocates an identifier unique among pending requests and stores
// its slot. It fails once closeAll has run.
func (c *correlator) register() (*pendingRequest, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed != nil {
		return nil, c.closed
	}
	id := c.nextID()
	for {
		if _, taken := c.pending[id]; !taken {
			break
		}
		id = c.nextID()
	}
	p := &pendingRequest{id: id, done: make(chan result, 1)}
	c.pending[id] = p
	return p, nil
}

// resolve delivers a reply. It returns false when no request is waiting for
// id.
func (c *correlator) resolve(id uint32, env Envelope) bool {
	c.mu.Lock()
	p, ok := c.pending[id]
	delete(c.pending, id)
	c.mu.Unlock()
	if !ok {
		return false
	}
	return p.fulfill(env, nil)
}

func (c *correlator) fail(id uint32, err error) bool {
	c.mu.Lock()
	p, ok := c.pending[id]
	delete(c.pending, id)
	c.mu.Unlock()
	if !ok {
		return false
	}
	return p.fulfill(Envelope{}, err)
}

// closeAll fulfills every pending request with err and rejects later
// registrations. It returns the number of requests it released.
func (c *correlator) closeAll(err error) int {
	c.mu.Lock()
	if c.closed == nil {
		c.closed = err
	}
	pending := c.pending
	c.pending = make(map[uint32]*pendingRequest)
	c.mu.Unlock()

	for _, p := range pending {
		p.fulfill(Envelope{}, err)
	}
	return len(pending)
}

func (c *correlator) pendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}
