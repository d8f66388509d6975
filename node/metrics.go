package node

import (
	"github.com/go-kit/kit/metrics"
	"github.com/go-kit/kit/metrics/discard"

	"github.com/lawRathod/minidote/comm"
	"github.com/lawRathod/minidote/crdt"
)

// Structs

// Metrics bundles the engine-level instruments. The
// request-path counters are driven by the instrumenting
// middleware, the remaining ones by the engine itself.
// Every field is expected to be non-nil; NewDiscardMetrics
// supplies the no-backend variant.
type Metrics struct {
	Reads             metrics.Counter
	Updates           metrics.Counter
	FailedUpdates     metrics.Counter
	AppliedBatches    metrics.Counter
	EnvelopesApplied  metrics.Counter
	EnvelopesBuffered metrics.Counter
	EnvelopesDropped  metrics.Counter
	GatedRequests     metrics.Counter
	CausalTimeouts    metrics.Counter
	WALAppends        metrics.Counter
	Snapshots         metrics.Counter
}

type instrumentingService struct {
	metrics *Metrics
	service Service
}

// Functions

// NewDiscardMetrics returns a metrics set that drops
// every observation.
func NewDiscardMetrics() *Metrics {

	return &Metrics{
		Reads:             discard.NewCounter(),
		Updates:           discard.NewCounter(),
		FailedUpdates:     discard.NewCounter(),
		AppliedBatches:    discard.NewCounter(),
		EnvelopesApplied:  discard.NewCounter(),
		EnvelopesBuffered: discard.NewCounter(),
		EnvelopesDropped:  discard.NewCounter(),
		GatedRequests:     discard.NewCounter(),
		CausalTimeouts:    discard.NewCounter(),
		WALAppends:        discard.NewCounter(),
		Snapshots:         discard.NewCounter(),
	}
}

// NewInstrumentingService wraps a provided existing
// service with the provided engine metrics.
func NewInstrumentingService(s Service, m *Metrics) Service {

	return &instrumentingService{
		metrics: m,
		service: s,
	}
}

// Read wraps this service's Read method
// with added metrics capabilities.
func (s *instrumentingService) Read(keys []crdt.Key, clock comm.VClock) ([]ReadResult, comm.VClock, error) {

	s.metrics.Reads.Add(1)

	results, merged, err := s.service.Read(keys, clock)

	if err == ErrCausalTimeout {
		s.metrics.CausalTimeouts.Add(1)
	}

	return results, merged, err
}

// Update wraps this service's Update method
// with added metrics capabilities.
func (s *instrumentingService) Update(batch []crdt.Update, clock comm.VClock) (comm.VClock, error) {

	s.metrics.Updates.Add(1)

	newClock, err := s.service.Update(batch, clock)

	if err != nil {
		s.metrics.FailedUpdates.Add(1)

		if err == ErrCausalTimeout {
			s.metrics.CausalTimeouts.Add(1)
		}
	}

	return newClock, err
}

// InjectEnvelope wraps this service's InjectEnvelope
// method. The engine itself accounts for the envelope's
// fate (applied, buffered or dropped).
func (s *instrumentingService) InjectEnvelope(env *comm.Envelope) {
	s.service.InjectEnvelope(env)
}

// Close wraps this service's Close method.
func (s *instrumentingService) Close() error {
	return s.service.Close()
}
