// Package logbook persists discharge sessions and their samples to
// SQLite through the engine's sink hooks. Write failures never reach
// the sampling loop; they are logged and dropped, and the session keeps
// running on the instrument alone.
package logbook

import (
	"context"
	"sync"
	"time"

	"codeberg.org/hvlab/dischargectl/internal/engine"
	"codeberg.org/hvlab/dischargectl/internal/errors"
	"codeberg.org/hvlab/dischargectl/internal/logger"
)

var errFactory = errors.New()

type service struct {
	repo *repository

	mu          sync.Mutex
	dischargeID int64
}

// No-op implementation
type noopService struct{}

var (
	_ Service = (*service)(nil)
	_ Service = (*noopService)(nil)
)

func NewService(cfg Config) (Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errFactory.Wrap(ErrInvalidConfig, err)
	}

	// If the logbook is disabled, return a no-op service
	if !cfg.Enabled {
		logger.Debug().Msg("logbook disabled, using no-op service")
		return &noopService{}, nil
	}

	repo, err := openRepository(cfg)
	if err != nil {
		return nil, err
	}

	return newService(repo), nil
}

func newService(repo *repository) *service {
	return &service{repo: repo}
}

func (s *service) SessionStarted(info engine.SessionInfo) {
	id, err := s.repo.insertDischarge(info)
	if err != nil {
		logger.Error().Err(err).Msg("logbook: discharge row insert failed")
		return
	}

	s.mu.Lock()
	s.dischargeID = id
	s.mu.Unlock()

	logger.Debug().
		Int64("discharge_id", id).
		Str("registration", info.Metadata.Registration).
		Msg("logbook: discharge row opened")
}

func (s *service) Push(sample engine.Sample) {
	id := s.currentID()
	if id == 0 {
		return
	}

	if err := s.repo.insertSample(id, sample); err != nil {
		logger.Error().Err(err).Msg("logbook: sample insert failed")
	}
}

func (s *service) SessionCompleted(sum engine.Summary) {
	id := s.takeID()
	if id == 0 {
		return
	}

	if err := s.repo.completeDischarge(id, sum); err != nil {
		logger.Error().Err(err).Msg("logbook: discharge row completion failed")
	}
}

// SessionFaulted closes the row with a fault note. The sample rows
// written so far stay in place.
func (s *service) SessionFaulted(_ engine.SessionInfo, cause error) {
	id := s.takeID()
	if id == 0 {
		return
	}

	note := "Faulted: " + cause.Error()
	if err := s.repo.faultDischarge(id, time.Now(), note); err != nil {
		logger.Error().Err(err).Msg("logbook: discharge row fault update failed")
	}
}

func (s *service) RecentSessions(ctx context.Context, limit int) ([]SessionRecord, error) {
	return s.repo.RecentSessions(ctx, limit)
}

func (s *service) SessionData(ctx context.Context, id int64) (*SessionDetail, error) {
	return s.repo.SessionData(ctx, id)
}

func (s *service) Close() error {
	return s.repo.Close()
}

func (s *service) currentID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.dischargeID
}

func (s *service) takeID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.dischargeID
	s.dischargeID = 0

	return id
}

// No-op implementation
func (*noopService) Push(engine.Sample) {}

func (*noopService) SessionStarted(engine.SessionInfo) {}

func (*noopService) SessionCompleted(engine.Summary) {}

func (*noopService) SessionFaulted(engine.SessionInfo, error) {}

func (*noopService) RecentSessions(context.Context, int) ([]SessionRecord, error) {
	return nil, nil
}

func (*noopService) SessionData(_ context.Context, id int64) (*SessionDetail, error) {
	return nil, errFactory.New(ErrNotFound).
		WithData(struct{ ID int64 }{ID: id})
}

func (*noopService) Close() error {
	return nil
}
