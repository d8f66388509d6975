package node

import (
	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"

	"github.com/lawRathod/minidote/comm"
	"github.com/lawRathod/minidote/crdt"
)

// Structs

type loggingService struct {
	logger  log.Logger
	service Service
}

// Functions

// NewLoggingService wraps a provided existing
// service with the provided logger.
func NewLoggingService(s Service, logger log.Logger) Service {

	return &loggingService{
		logger:  logger,
		service: s,
	}
}

// Read wraps this service's Read method
// with added logging capabilities.
func (s *loggingService) Read(keys []crdt.Key, clock comm.VClock) ([]ReadResult, comm.VClock, error) {

	results, merged, err := s.service.Read(keys, clock)

	logger := log.With(s.logger,
		"method", "Read",
		"keys", len(keys),
	)

	if err != nil {
		level.Info(logger).Log("msg", "failed to perform read", "err", err)
	} else {
		level.Debug(logger).Log("clock", merged.String())
	}

	return results, merged, err
}

// Update wraps this service's Update method
// with added logging capabilities.
func (s *loggingService) Update(batch []crdt.Update, clock comm.VClock) (comm.VClock, error) {

	newClock, err := s.service.Update(batch, clock)

	logger := log.With(s.logger,
		"method", "Update",
		"updates", len(batch),
	)

	if err != nil {
		level.Info(logger).Log("msg", "failed to perform update batch", "err", err)
	} else {
		level.Debug(logger).Log("clock", newClock.String())
	}

	return newClock, err
}

// InjectEnvelope wraps this service's InjectEnvelope
// method with added logging capabilities.
func (s *loggingService) InjectEnvelope(env *comm.Envelope) {

	level.Debug(s.logger).Log(
		"method", "InjectEnvelope",
		"origin", env.Origin,
		"effects", len(env.Effects),
	)

	s.service.InjectEnvelope(env)
}

// Close wraps this service's Close method
// with added logging capabilities.
func (s *loggingService) Close() error {

	err := s.service.Close()

	if err != nil {
		level.Warn(s.logger).Log("msg", "failed to close replica engine cleanly", "err", err)
	} else {
		level.Info(s.logger).Log("msg", "replica engine closed")
	}

	return err
}
