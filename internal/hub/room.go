package hub

import (
	"log"
	"sync"

	"github.com/devaloi/relay/internal/protocol"
)

// Room is one broadcast domain: a membership set and an ordered queue of
// pending envelopes, drained by a single dispatcher goroutine for the
// room's lifetime. Membership is guarded by the hub's lock; the queue has
// its own mutex so enqueuing never contends with registry mutations.
type Room struct {
	name string
	hub  *Hub

	// members is mutated only under hub.mu.
	members map[Member]struct{}

	qmu     sync.Mutex
	more    *sync.Cond
	queue   []protocol.Envelope
	stopped bool
}

func newRoom(name string, h *Hub) *Room {
	r := &Room{
		name:    name,
		hub:     h,
		members: make(map[Member]struct{}),
	}
	r.more = sync.NewCond(&r.qmu)
	log.Printf("room created: %s", name)
	return r
}

// Name returns the room name.
func (r *Room) Name() string { return r.name }

// Enqueue appends an envelope to the pending queue and wakes the
// dispatcher. The queue is unbounded: a stalled consumer grows memory
// rather than blocking producers.
func (r *Room) Enqueue(env protocol.Envelope) {
	r.qmu.Lock()
	defer r.qmu.Unlock()
	if r.stopped {
		return
	}
	r.queue = append(r.queue, env)
	r.more.Signal()
}

// run is the room's dispatcher loop: dequeue one envelope, encode it
// once, then write it to every current member in turn, awaiting each
// write. A slow member therefore delays delivery to members after it in
// iteration order for that envelope; that head-of-line coupling is a
// known fairness limitation of the single-consumer design. A write error
// is taken as that member's disconnect: it is dropped from membership
// and no error is surfaced to the room.
func (r *Room) run() {
	for {
		env, ok := r.next()
		if !ok {
			return
		}
		data, err := protocol.Encode(env)
		if err != nil {
			log.Printf("room %s: encode: %v", r.name, err)
			continue
		}
		for _, m := range r.snapshot() {
			if err := m.WriteLine(data); err != nil {
				r.drop(m)
			}
		}
	}
}

// next blocks until an envelope is pending or the room is stopped.
func (r *Room) next() (protocol.Envelope, bool) {
	r.qmu.Lock()
	defer r.qmu.Unlock()
	for len(r.queue) == 0 && !r.stopped {
		r.more.Wait()
	}
	if r.stopped {
		return protocol.Envelope{}, false
	}
	env := r.queue[0]
	r.queue = r.queue[1:]
	return env, true
}

// snapshot copies the membership set so the dispatcher never writes to
// the network while the hub lock is held.
func (r *Room) snapshot() []Member {
	r.hub.mu.RLock()
	defer r.hub.mu.RUnlock()
	members := make([]Member, 0, len(r.members))
	for m := range r.members {
		members = append(members, m)
	}
	return members
}

func (r *Room) drop(m Member) {
	r.hub.mu.Lock()
	defer r.hub.mu.Unlock()
	delete(r.members, m)
	log.Printf("room %s: dropped unresponsive member %s", r.name, m.Nick())
}

func (r *Room) stop() {
	r.qmu.Lock()
	defer r.qmu.Unlock()
	r.stopped = true
	r.more.Signal()
}
