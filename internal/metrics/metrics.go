// Package metrics is the process-wide metrics facade for ingest jobs.
//
// Pipeline code emits named counters and histograms through package-level
// functions and never sees a concrete sink. A Backend is installed once at
// startup (see the datadog subpackage); until then every emit is a no-op,
// so library code can instrument unconditionally.
//
// Concurrency:
//   - IncCounter/ObserveHistogram may be called from any goroutine.
//   - SetBackend is expected at startup but is safe at any time; emits
//     racing a swap land on either the old or the new backend.
package metrics

import "sync/atomic"

// Labels tags one emit. Backends map them onto their own tag model.
type Labels map[string]string

// Backend is a metrics sink. Implementations buffer internally; Flush
// forces buffered state out to the service.
type Backend interface {
	IncCounter(name string, delta float64, labels Labels)
	ObserveHistogram(name string, value float64, labels Labels)
	Flush() error
}

// nopBackend drops everything. It is the default so that instrumented code
// never needs a nil check.
type nopBackend struct{}

func (nopBackend) IncCounter(string, float64, Labels)       {}
func (nopBackend) ObserveHistogram(string, float64, Labels) {}
func (nopBackend) Flush() error                             { return nil }

// holder gives atomic.Value a single concrete type to store.
type holder struct{ b Backend }

var current atomic.Value

func init() {
	current.Store(holder{nopBackend{}})
}

// SetBackend installs the process-wide sink. Passing nil restores the
// no-op backend.
func SetBackend(b Backend) {
	if b == nil {
		b = nopBackend{}
	}
	current.Store(holder{b})
}

func backend() Backend {
	return current.Load().(holder).b
}

// IncCounter adds delta to a named counter on the installed backend.
func IncCounter(name string, delta float64, labels Labels) {
	backend().IncCounter(name, delta, labels)
}

// ObserveHistogram records one sample of a named distribution on the
// installed backend.
func ObserveHistogram(name string, value float64, labels Labels) {
	backend().ObserveHistogram(name, value, labels)
}

// Flush pushes buffered metrics out through the installed backend.
func Flush() error {
	return backend().Flush()
}
