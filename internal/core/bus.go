package core

// Bus fans events out to the members of a channel group.
type Bus struct {
	registry *Registry
	metrics  Metrics
	onSlow   func(*Session)
}

// NewBus creates a bus over registry. onSlow is called, in its own
// goroutine, for every member whose outbound queue was full.
func NewBus(registry *Registry, metrics Metrics, onSlow func(*Session)) *Bus {
	if metrics == nil {
		metrics = NopMetrics{}
	}
	return &Bus{registry: registry, metrics: metrics, onSlow: onSlow}
}

// Publish enqueues ev for every current member of channelID and returns how
// many members accepted it. It never blocks on a member.
func (b *Bus) Publish(channelID string, ev *Event) int {
	g := b.registry.lookup(channelID)
	if g == nil {
		return 0
	}

	g.pubMu.Lock()
	defer g.pubMu.Unlock()

	delivered := 0
	for _, s := range g.snapshot() {
		if s.enqueue(ev) {
			delivered++
			continue
		}
		if s.State() == StateClosed {
			continue
		}
		b.metrics.DeliveryDropped()
		if b.onSlow != nil {
			go b.onSlow(s)
		}
	}
	b.metrics.Published(delivered)
	return delivered
}
