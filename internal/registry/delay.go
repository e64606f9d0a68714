package registry

import "time"

// MaxHandlerDelay caps the window computed by ComputeMaxHandlerDelay.
const MaxHandlerDelay = 60 * time.Second

// ComputeMaxHandlerDelay returns the window over which numListeners clients
// should spread their follow-up requests so the server sees at most
// throughputPerSecond of them per second: ceil(numListeners/throughput)
// seconds, clamped to [0s, 60s].
func ComputeMaxHandlerDelay(numListeners, throughputPerSecond int) time.Duration {
	if throughputPerSecond < 1 {
		throughputPerSecond = 1
	}
	window := (numListeners + throughputPerSecond - 1) / throughputPerSecond
	d := time.Duration(window) * time.Second
	return min(max(d, 0), MaxHandlerDelay)
}

// HandlerDelayWindow applies ComputeMaxHandlerDelay to the current listener
// count of topic and the configured throughput.
func (r *Registry) HandlerDelayWindow(topic string) time.Duration {
	return ComputeMaxHandlerDelay(r.ListenerCount(topic), r.throughput)
}
