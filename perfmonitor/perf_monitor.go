// Package perfmonitor measures wall-clock spans such as the lifetime of a
// stream.
package perfmonitor

import (
	"sync"
	"time"
)

// PerformanceMonitor records a start and an end instant. It is safe for
// concurrent use.
type PerformanceMonitor struct {
	mu        sync.Mutex
	startTime time.Time
	endTime   time.Time
}

// NewPerformanceMonitor returns a monitor with no recorded span.
func NewPerformanceMonitor() *PerformanceMonitor {
	return &PerformanceMonitor{}
}

// Start records the start instant, overwriting any previous one.
func (p *PerformanceMonitor) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.startTime = time.Now()
}

// Stop records the end instant. It is a no-op if Start was never called;
// calling it again moves the end instant forward.
func (p *PerformanceMonitor) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.startTime.IsZero() {
		return
	}

	p.endTime = time.Now()
}

// Reset clears both instants.
func (p *PerformanceMonitor) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.startTime = time.Time{}
	p.endTime = time.Time{}
}

// Elapsed returns the recorded span, or zero unless both Start and Stop ran.
func (p *PerformanceMonitor) Elapsed() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.startTime.IsZero() || p.endTime.IsZero() {
		return 0
	}

	return p.endTime.Sub(p.startTime)
}

// ElapsedMilliseconds returns Elapsed in fractional milliseconds.
func (p *PerformanceMonitor) ElapsedMilliseconds() float64 {
	return float64(p.Elapsed()) / float64(time.Millisecond)
}
