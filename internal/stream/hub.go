package stream

import (
	"context"
	"encoding/json"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/timvw/pane-relay/internal/model"
	"github.com/timvw/pane-relay/internal/mux"
	telem "github.com/timvw/pane-relay/internal/otel"
	"github.com/timvw/pane-relay/internal/validate"
)

// Poll interval bounds and defaults.
const (
	DefaultInterval = 2 * time.Second
	MinInterval     = 100 * time.Millisecond
	MaxInterval     = 10 * time.Second
	DefaultBackoff  = 5 * time.Second
)

// Capturer is the part of the tmux gateway the poller needs.
type Capturer interface {
	HasSession(ctx context.Context, session string) (bool, error)
	Capture(ctx context.Context, target string, opts mux.CaptureOptions) (string, error)
}

// HubConfig configures a Hub. Zero values select the defaults.
type HubConfig struct {
	// Interval is the poll interval a target starts with.
	Interval time.Duration
	// Backoff is the wait after a failed capture.
	Backoff time.Duration
	// Now returns the current time for frame timestamps.
	Now func() time.Time

	Logger  *slog.Logger
	Metrics *telem.Metrics
}

// Hub couples the subscriber Registry with per-target pollers.
type Hub struct {
	gw       Capturer
	interval time.Duration
	backoff  time.Duration
	now      func() time.Time
	logger   *slog.Logger
	metrics  *telem.Metrics

	reg *Registry

	mu      sync.Mutex
	pollers map[string]*poller
	closed  bool
	wg      sync.WaitGroup
}

// poller is the state of one target's poll loop. It is discarded when the
// target loses its last subscriber.
type poller struct {
	target string
	ctx    context.Context
	cancel context.CancelFunc
	wake   chan struct{}

	mu       sync.Mutex
	interval time.Duration

	// Owned by the loop goroutine.
	snapshot string
	polled   bool
}

// NewHub creates a Hub that captures through gw.
func NewHub(gw Capturer, cfg HubConfig) *Hub {
	h := &Hub{
		gw:       gw,
		interval: cfg.Interval,
		backoff:  cfg.Backoff,
		now:      cfg.Now,
		logger:   cfg.Logger,
		metrics:  cfg.Metrics,
		pollers:  make(map[string]*poller),
	}
	if h.interval <= 0 {
		h.interval = DefaultInterval
	}
	h.interval = ClampInterval(h.interval)
	if h.backoff <= 0 {
		h.backoff = DefaultBackoff
	}
	if h.now == nil {
		h.now = time.Now
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}
	h.reg = NewRegistry(h.startPoller, h.stopPoller, h.logger)
	return h
}

// Registry returns the hub's subscriber registry.
func (h *Hub) Registry() *Registry {
	return h.reg
}

// Subscribe validates target and registers t for its output frames,
// starting the target's poller if t is the first subscriber. onFail is
// called once if a broadcast send to t fails; t is already unregistered
// by then.
func (h *Hub) Subscribe(id, target string, t Transport, onFail func(error)) (*Subscriber, error) {
	if err := validate.CheckTarget(target); err != nil {
		h.metrics.RecordValidationRejection(context.Background(), "stream")
		return nil, err
	}
	s := NewSubscriber(id, target, t, onFail)
	h.reg.Register(target, s)
	// Checked after Register so a Close racing the registration cannot
	// leave s registered without a poller.
	h.mu.Lock()
	closed := h.closed
	h.mu.Unlock()
	if closed {
		h.reg.Unregister(s, target)
		return nil, ErrHubClosed
	}
	return s, nil
}

// Unsubscribe removes s, stopping its target's poller if s was the last
// subscriber. Unsubscribing twice is harmless.
func (h *Hub) Unsubscribe(s *Subscriber) {
	h.reg.Unregister(s, s.Target)
}

// startPoller runs under the registry lock on a 0→1 transition.
func (h *Hub) startPoller(target string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	if _, ok := h.pollers[target]; ok {
		// Unreachable while the registry serializes transitions.
		h.logger.Error("poller already running", "target", target)
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &poller{
		target:   target,
		ctx:      ctx,
		cancel:   cancel,
		wake:     make(chan struct{}, 1),
		interval: h.interval,
	}
	h.pollers[target] = p
	h.metrics.PollerStarted(ctx)
	h.logger.Debug("poller started", "target", target)

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		h.run(p)
	}()
}

// stopPoller runs under the registry lock on a →0 transition. The poll state
// is dropped immediately so a resubscription starts from scratch.
func (h *Hub) stopPoller(target string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	p, ok := h.pollers[target]
	if !ok {
		return
	}
	p.cancel()
	delete(h.pollers, target)
	h.metrics.PollerStopped(context.Background())
	h.logger.Debug("poller stopped", "target", target)
}

// SetInterval sets target's poll interval, shared by all its subscribers,
// and returns the clamped value. It is a no-op if target has no poller.
func (h *Hub) SetInterval(target string, d time.Duration) time.Duration {
	d = ClampInterval(d)
	h.mu.Lock()
	p := h.pollers[target]
	h.mu.Unlock()
	if p == nil {
		return d
	}
	p.mu.Lock()
	p.interval = d
	p.mu.Unlock()
	p.poke()
	return d
}

// Interval returns target's current poll interval and whether it has a poller.
func (h *Hub) Interval(target string) (time.Duration, bool) {
	h.mu.Lock()
	p := h.pollers[target]
	h.mu.Unlock()
	if p == nil {
		return 0, false
	}
	return p.currentInterval(), true
}

// Poke makes target's poller capture now instead of waiting out its
// interval. It reports whether target has a poller.
func (h *Hub) Poke(target string) bool {
	h.mu.Lock()
	p := h.pollers[target]
	h.mu.Unlock()
	if p == nil {
		return false
	}
	p.poke()
	return true
}

// PokeSession pokes every poller whose target lies in session and returns
// how many were woken.
func (h *Hub) PokeSession(session string) int {
	h.mu.Lock()
	var woken []*poller
	for target, p := range h.pollers {
		if validate.SessionOf(target) == session {
			woken = append(woken, p)
		}
	}
	h.mu.Unlock()
	for _, p := range woken {
		p.poke()
	}
	return len(woken)
}

// ActivePollers returns the number of targets with a running poller.
func (h *Hub) ActivePollers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.pollers)
}

// Close stops every poller and waits for the loops to exit. Subscribers are
// left registered; their sessions tear themselves down.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	for target, p := range h.pollers {
		p.cancel()
		delete(h.pollers, target)
		h.metrics.PollerStopped(context.Background())
	}
	h.mu.Unlock()
	h.wg.Wait()
}

// run is the poll loop for one target.
func (h *Hub) run(p *poller) {
	log := h.logger.With("target", p.target)
	session := validate.SessionOf(p.target)
	for {
		wait := h.tick(p, session, log)
		if !p.sleep(wait) {
			return
		}
	}
}

// tick performs one poll and returns how long to wait before the next.
func (h *Hub) tick(p *poller, session string, log *slog.Logger) time.Duration {
	ctx := p.ctx
	exists, err := h.gw.HasSession(ctx, session)
	if err == nil && !exists {
		h.metrics.RecordCapture(ctx, "absent")
		return p.currentInterval()
	}
	var content string
	if err == nil {
		content, err = h.gw.Capture(ctx, p.target, mux.CaptureOptions{})
	}
	if err != nil {
		if ctx.Err() != nil {
			return 0
		}
		log.Warn("capture failed", "error", err, "backoff", h.backoff)
		h.metrics.RecordCapture(ctx, "error")
		return h.backoff
	}

	if p.polled && content == p.snapshot {
		h.metrics.RecordCapture(ctx, "unchanged")
		return p.currentInterval()
	}
	p.snapshot = content
	p.polled = true
	h.metrics.RecordCapture(ctx, "changed")

	frame, err := json.Marshal(model.Output{
		Content:   content,
		Timestamp: model.Timestamp(h.now()),
		Target:    p.target,
	})
	if err != nil {
		log.Error("encode output frame", "error", err)
		return p.currentInterval()
	}
	n := h.reg.broadcastIf(p.target, string(frame), func() bool { return p.ctx.Err() == nil })
	h.metrics.RecordBroadcast(ctx, n)
	return p.currentInterval()
}

func (p *poller) currentInterval() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.interval
}

func (p *poller) poke() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// sleep waits d, a poke, or cancellation. It returns false when cancelled.
func (p *poller) sleep(d time.Duration) bool {
	if p.ctx.Err() != nil {
		return false
	}
	if d <= 0 {
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-p.ctx.Done():
		return false
	case <-timer.C:
		return true
	case <-p.wake:
		return true
	}
}

// ClampInterval bounds d to [MinInterval, MaxInterval].
func ClampInterval(d time.Duration) time.Duration {
	return max(MinInterval, min(d, MaxInterval))
}

// IntervalFromSeconds converts a client-supplied interval in seconds to a
// clamped duration. NaN falls back to the default.
func IntervalFromSeconds(sec float64) time.Duration {
	switch {
	case math.IsNaN(sec):
		return DefaultInterval
	case sec >= MaxInterval.Seconds():
		return MaxInterval
	case sec <= MinInterval.Seconds():
		return MinInterval
	}
	return ClampInterval(time.Duration(sec * float64(time.Second)))
}
