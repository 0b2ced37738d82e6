package core

// Metrics receives hub activity counters.
type Metrics interface {
	SessionOpened()
	SessionClosed(reason string)
	Published(delivered int)
	DeliveryDropped()
}

// NopMetrics discards everything.
type NopMetrics struct{}

func (NopMetrics) SessionOpened()       {}
func (NopMetrics) SessionClosed(string) {}
func (NopMetrics) Published(int)        {}
func (NopMetrics) DeliveryDropped()     {}
