// Package odosampler decouples high-rate sensor sampling from the fixed-rate
// control loop.  A single sampling goroutine polls every registered signal
// faster than the control loop ticks and buffers timestamped samples, so
// motion between control ticks is not lost.  The control loop drains each
// buffer once per tick.
package odosampler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultSampleInterval is 250 Hz against the 50 Hz control loop.
	DefaultSampleInterval = 4 * time.Millisecond

	// DefaultBufferCap bounds each signal's buffer.  At 250 Hz this is
	// several control periods of headroom before samples get dropped.
	DefaultBufferCap = 64
)

// Sample is one timestamped reading of a signal.
type Sample struct {
	Timestamp time.Time
	Value     float64
}

// ReadFunc reads the current value of a signal.  It must not block; it is
// called from the sampling goroutine at the full sampling rate.
type ReadFunc func() (float64, error)

// Signal is the handle returned by RegisterSignal.  The sampling goroutine
// appends to it; exactly one consumer drains it.  The buffer mutex is the
// only state shared between the two contexts.
type Signal struct {
	name string
	read ReadFunc

	mu         sync.Mutex
	buf        []Sample
	capMax     int
	degraded   bool
	inOverflow bool
	dropped    uint64

	lastValue float64
	haveLast  bool
}

// Drain returns all buffered samples in timestamp order and clears the
// buffer.  The second result reports (and resets) the degraded-data flag:
// true when samples were dropped to overflow or substituted after a read
// error since the previous drain.  The returned slice reuses into's backing
// array when it is big enough.
func (s *Signal) Drain(into []Sample) ([]Sample, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := append(into[:0], s.buf...)
	s.buf = s.buf[:0]
	degraded := s.degraded
	s.degraded = false
	s.inOverflow = false
	return out, degraded
}

// DroppedSamples returns the total number of samples discarded because of
// buffer overflow.  Observability only.
func (s *Signal) DroppedSamples() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

func (s *Signal) append(now time.Time, v float64) (overflowed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.buf) >= s.capMax {
		// Drop the oldest sample rather than blocking the sampler.  The
		// flag is raised once per overflow episode; an episode ends at
		// the next drain.
		s.buf = s.buf[1:]
		s.dropped++
		if !s.inOverflow {
			s.inOverflow = true
			s.degraded = true
			overflowed = true
		}
	}
	s.buf = append(s.buf, Sample{Timestamp: now, Value: v})
	s.lastValue = v
	s.haveLast = true
	return
}

func (s *Signal) appendLastKnown(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.degraded = true
	if !s.haveLast {
		// Nothing sensible to substitute yet.
		return
	}
	if len(s.buf) >= s.capMax {
		s.buf = s.buf[1:]
		s.dropped++
	}
	s.buf = append(s.buf, Sample{Timestamp: now, Value: s.lastValue})
}

// Sampler owns the sampling goroutine and the set of registered signals.
type Sampler struct {
	interval time.Duration
	bufCap   int
	log      *zap.Logger

	mu      sync.Mutex
	signals []*Signal
}

type Option func(*Sampler)

func WithInterval(d time.Duration) Option {
	return func(s *Sampler) { s.interval = d }
}

func WithBufferCap(n int) Option {
	return func(s *Sampler) { s.bufCap = n }
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Sampler) {
		if l != nil {
			s.log = l
		}
	}
}

func New(opts ...Option) *Sampler {
	s := &Sampler{
		interval: DefaultSampleInterval,
		bufCap:   DefaultBufferCap,
		log:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RegisterSignal adds a signal stream to be polled.  Safe to call while the
// sampler is running; the signal joins the poll set on the next cycle.
func (s *Sampler) RegisterSignal(name string, read ReadFunc) *Signal {
	sig := &Signal{
		name:   name,
		read:   read,
		capMax: s.bufCap,
	}
	s.mu.Lock()
	s.signals = append(s.signals, sig)
	s.mu.Unlock()
	return sig
}

// Run polls every registered signal at the sampling rate until the context
// is cancelled.  Run it on its own goroutine; it never blocks on consumers.
func (s *Sampler) Run(ctx context.Context) {
	defer s.log.Info("odometry sampler stopped")
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		s.Poll(time.Now())
	}
}

// Poll samples every signal once, stamping all samples with now.  Exposed so
// simulation-driven tests can step the sampler without real time passing.
func (s *Sampler) Poll(now time.Time) {
	s.mu.Lock()
	signals := s.signals
	s.mu.Unlock()

	for _, sig := range signals {
		v, err := sig.read()
		if err != nil {
			// Transient sensor error: substitute the last-known value
			// and flag the buffer as degraded for the consumer.
			sig.appendLastKnown(now)
			continue
		}
		if sig.append(now, v) {
			s.log.Warn("signal buffer overflow, dropping oldest samples",
				zap.String("signal", sig.name))
		}
	}
}
