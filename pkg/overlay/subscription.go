package overlay

import "sync"

// Subscription is an unbounded stream of broadcasts for one event kind. It
// does not replay events delivered before it was created.
type Subscription struct {
	event Event

	mu     sync.Mutex
	buf    []Envelope
	closed bool
	ended  bool

	signal    chan struct{}
	done      chan struct{}
	out       chan Envelope
	closeOnce sync.Once
}

func newSubscription(event Event) *Subscription {
	s := &Subscription{
		event:  event,
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
		out:    make(chan Envelope),
	}
	go s.pump()
	return s
}

// Event returns the subscribed kind.
func (s *Subscription) Event() Event {
	return s.event
}

// C returns the stream. It is closed after Close, or after the connection
// ends and every buffered event has been received.
func (s *Subscription) C() <-chan Envelope {
	return s.out
}

// Close stops the stream and discards anything still buffered. The
// subscription is dropped from the client on the next broadcast of its kind.
func (s *Subscription) Close() {
	s.mu.Lock()
	s.closed = true
	s.buf = nil
	s.mu.Unlock()
	s.closeOnce.Do(func() { close(s.done) })
}

// push appends env to the queue. It returns false once the consumer has gone.
func (s *Subscription) push(env Envelope) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	if s.ended {
		s.mu.Unlock()
		return true
	}
	s.buf = append(s.buf, env)
	s.mu.Unlock()
	s.notify()
	return true
}

// end marks the producer side finished; buffered events are still drained.
func (s *Subscription) end() {
	s.mu.Lock()
	s.ended = true
	s.mu.Unlock()
	s.notify()
}

func (s *Subscription) notify() {
	select {
	case s.signal <- struct{}{}:
	default:
	}
}

func (s *Subscription) pump() {
	defer close(s.out)
	for {
		s.mu.Lock()
		for len(s.buf) == 0 {
			if s.closed || s.ended {
				s.mu.Unlock()
				return
			}
			s.mu.Unlock()
			select {
			case <-s.signal:
			case <-s.done:
				return
			}
			s.mu.Lock()
		}
		env := s.buf[0]
		s.buf[0] = Envelope{}
		s.buf = s.buf[1:]
		s.mu.Unlock()

		select {
		case s.out <- env:
		case <-s.done:
			return
		}
	}
}
