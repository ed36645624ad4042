package deploy

import (
	"sync"
	"time"
)

// Event is one item of a live feed. Exactly one of Log or Status is set.
type Event struct {
	Log    string `json:"log,omitempty"`
	Status string `json:"status,omitempty"`
}

// Terminal reports whether the event carries the final status.
func (e Event) Terminal() bool { return e.Status != "" }

// Run is the in-process handle of a deployment being executed.
type Run struct {
	DeploymentID string
	ProjectID    string
	OwnerID      string
	StartedAt    time.Time

	mu     sync.Mutex
	subs   map[*Subscription]struct{}
	closed bool
	status string
	done   chan struct{}
}

func newRun(deploymentID, projectID, ownerID string, startedAt time.Time) *Run {
	return &Run{
		DeploymentID: deploymentID,
		ProjectID:    projectID,
		OwnerID:      ownerID,
		StartedAt:    startedAt,
		subs:         make(map[*Subscription]struct{}),
		done:         make(chan struct{}),
	}
}

// Done is closed once the terminal event has been published.
func (r *Run) Done() <-chan struct{} { return r.done }

// Status returns the terminal status, or "" while the run is in progress.
func (r *Run) Status() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Subscribe attaches a new observer. It receives every event published from
// now on. Subscribing after the run finished yields an already closed feed.
func (r *Run) Subscribe() *Subscription {
	sub := &Subscription{
		run:    r,
		out:    make(chan Event),
		signal: make(chan struct{}, 1),
		stop:   make(chan struct{}),
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		sub.ended = true
		close(sub.out)
		return sub
	}
	r.subs[sub] = struct{}{}
	go sub.pump()
	return sub
}

// SubscriberCount returns the number of attached observers.
func (r *Run) SubscriberCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs)
}

func (r *Run) publish(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	for sub := range r.subs {
		sub.enqueue(ev, false)
	}
}

// finish publishes the terminal status and ends every subscription.
func (r *Run) finish(status string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	r.status = status
	for sub := range r.subs {
		sub.enqueue(Event{Status: status}, true)
	}
	r.subs = nil
	close(r.done)
}

func (r *Run) detach(sub *Subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.subs, sub)
}

// Subscription is one observer's view of a Run. Events are buffered without
// bound so a slow reader never blocks the run.
type Subscription struct {
	run *Run
	out chan Event

	mu     sync.Mutex
	queue  []Event
	ended  bool
	signal chan struct{}

	stop     chan struct{}
	stopOnce sync.Once
}

// Events returns the feed. It is closed after the terminal event or Close.
func (s *Subscription) Events() <-chan Event { return s.out }

// Close detaches the observer. The run is unaffected.
func (s *Subscription) Close() {
	s.stopOnce.Do(func() {
		close(s.stop)
		s.run.detach(s)
	})
}

func (s *Subscription) enqueue(ev Event, last bool) {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, ev)
	if last {
		s.ended = true
	}
	s.mu.Unlock()

	select {
	case s.signal <- struct{}{}:
	default:
	}
}

func (s *Subscription) pump() {
	defer close(s.out)
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			ended := s.ended
			s.mu.Unlock()
			if ended {
				return
			}
			select {
			case <-s.signal:
				continue
			case <-s.stop:
				return
			}
		}
		ev := s.queue[0]
		s.queue[0] = Event{}
		s.queue = s.queue[1:]
		s.mu.Unlock()

		select {
		case s.out <- ev:
		case <-s.stop:
			return
		}
	}
}
