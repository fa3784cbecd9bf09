package overlay

import "sync"

// subscriberSet holds the streams interested in one event kind. ready is
// closed once the upstream subscribe request for the kind has settled, err
// holds its outcome.
type subscriberSet struct {
	subscribers []*Subscription
	ready       chan struct{}
	err         error
}

// registry maps event kinds to their subscriber sets.
type registry struct {
	mu     sync.Mutex
	sets   map[Event]*subscriberSet
	closed bool
}

func newRegistry() *registry {
	return &registry{sets: make(map[Event]*subscriberSet)}
}

// join adds sub to the set for event. created is true for the caller that
// made the set; that caller owns the upstream subscribe and must call settle.
func (r *registry) join(event Event, sub *Subscription) (set *subscriberSet, created bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, false, ErrConnectionClosed
	}
	set, ok := r.sets[event]
	if !ok {
		set = &subscriberSet{ready: make(chan struct{})}
		r.sets[event] = set
		created = true
	}
	set.subscribers = append(set.subscribers, sub)
	return set, created, nil
}

// settle records the upstream outcome. On failure the set is dropped and its
// streams closed, so a later subscribe retries upstream.
func (r *registry) settle(event Event, set *subscriberSet, err error) {
	var failed []*Subscription
	r.mu.Lock()
	set.err = err
	if err != nil {
		if r.sets[event] == set {
			delete(r.sets, event)
		}
		failed = set.subscribers
		set.subscribers = nil
	}
	close(set.ready)
	r.mu.Unlock()

	for _, sub := range failed {
		sub.Close()
	}
}

// deliver fans env out to every subscriber of event. Subscribers whose
// consumer has gone are removed after the pass.
func (r *registry) deliver(event Event, env Envelope) (delivered int, pruned int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.sets[event]
	if !ok {
		return 0, 0
	}

	var stale map[*Subscription]struct{}
	for _, sub := range set.subscribers {
		if sub.push(env.Clone()) {
			delivered++
			continue
		}
		if stale == nil {
			stale = make(map[*Subscription]struct{})
		}
		stale[sub] = struct{}{}
	}
	if len(stale) == 0 {
		return delivered, 0
	}

	// The set itself stays: the upstream subscription is still active.
	kept := set.subscribers[:0]
	for _, sub := range set.subscribers {
		if _, gone := stale[sub]; gone {
			continue
		}
		kept = append(kept, sub)
	}
	for i := len(kept); i < len(set.subscribers); i++ {
		set.subscribers[i] = nil
	}
	set.subscribers = kept
	return delivered, len(stale)
}

func (r *registry) subscriberCount(event Event) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.sets[event]
	if !ok {
		return 0
	}
	return len(set.subscribers)
}

// closeAll ends every stream and refuses later joins.
func (r *registry) closeAll() {
	var subs []*Subscription
	r.mu.Lock()
	for _, set := range r.sets {
		subs = append(subs, set.subscribers...)
	}
	r.sets = make(map[Event]*subscriberSet)
	r.closed = true
	r.mu.Unlock()

	for _, sub := range subs {
		sub.end()
	}
}
