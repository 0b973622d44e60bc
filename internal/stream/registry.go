package stream

import (
	"log/slog"
	"slices"
	"sync"
)

// Subscriber is one registered receiver of a target's output frames.
type Subscriber struct {
	ID     string
	Target string

	transport Transport
	onFail    func(error)
	failOnce  sync.Once
}

// NewSubscriber wraps t. onFail, if set, is called at most once when a
// broadcast send to t fails.
func NewSubscriber(id, target string, t Transport, onFail func(error)) *Subscriber {
	return &Subscriber{ID: id, Target: target, transport: t, onFail: onFail}
}

func (s *Subscriber) fail(err error) {
	s.failOnce.Do(func() {
		if s.onFail != nil {
			s.onFail(err)
		}
	})
}

// Registry tracks subscribers per target in registration order.
//
// The first-subscriber and now-empty hooks run while the registry lock is
// held, so the decision to start or stop a poller is atomic with the
// membership change that caused it. Hooks must not block or call back into
// the Registry.
type Registry struct {
	mu      sync.Mutex
	targets map[string][]*Subscriber
	total   int

	onFirst func(target string)
	onEmpty func(target string)

	logger *slog.Logger
}

// NewRegistry creates an empty registry. Either hook may be nil.
func NewRegistry(onFirst, onEmpty func(target string), logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		targets: make(map[string][]*Subscriber),
		onFirst: onFirst,
		onEmpty: onEmpty,
		logger:  logger,
	}
}

// Register adds s to target's set and reports whether the set was empty.
// Registering the same subscriber twice is a no-op.
func (r *Registry) Register(target string, s *Subscriber) (wasFirst bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	subs := r.targets[target]
	if slices.Contains(subs, s) {
		return false
	}
	wasFirst = len(subs) == 0
	r.targets[target] = append(subs, s)
	r.total++
	if wasFirst && r.onFirst != nil {
		r.onFirst(target)
	}
	return wasFirst
}

// Unregister removes s from target's set and reports whether the set is now
// empty. Removing an unknown subscriber is a no-op and reports false.
func (r *Registry) Unregister(s *Subscriber, target string) (nowEmpty bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.unregisterLocked(s, target)
}

func (r *Registry) unregisterLocked(s *Subscriber, target string) bool {
	subs := r.targets[target]
	i := slices.Index(subs, s)
	if i < 0 {
		return false
	}
	subs = slices.Delete(subs, i, i+1)
	r.total--
	if len(subs) > 0 {
		r.targets[target] = subs
		return false
	}
	delete(r.targets, target)
	if r.onEmpty != nil {
		r.onEmpty(target)
	}
	return true
}

// Broadcast sends msg to every subscriber of target in registration order
// and returns how many sends succeeded. A subscriber whose send fails is
// unregistered and notified through its failure hook; the failure is not
// retried and does not affect the other subscribers.
func (r *Registry) Broadcast(target, msg string) int {
	return r.broadcastIf(target, msg, nil)
}

// broadcastIf is Broadcast gated on ok, which is evaluated under the
// registry lock. Pollers use it so a cancelled poller never delivers.
func (r *Registry) broadcastIf(target, msg string, ok func() bool) int {
	r.mu.Lock()
	if ok != nil && !ok() {
		r.mu.Unlock()
		return 0
	}
	subs := slices.Clone(r.targets[target])
	r.mu.Unlock()

	delivered := 0
	for _, s := range subs {
		if err := s.transport.Send(msg); err != nil {
			r.logger.Debug("dropping subscriber after failed send",
				"target", target, "conn_id", s.ID, "error", err)
			r.Unregister(s, target)
			s.fail(err)
			continue
		}
		delivered++
	}
	return delivered
}

// Count returns the number of subscribers of target.
func (r *Registry) Count(target string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.targets[target])
}

// TotalConnections returns the number of subscribers across all targets.
func (r *Registry) TotalConnections() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.total
}

// Targets returns the targets that currently have subscribers.
func (r *Registry) Targets() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.targets))
	for t := range r.targets {
		out = append(out, t)
	}
	slices.Sort(out)
	return out
}
