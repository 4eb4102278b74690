package service

import (
	"context"
	"errors"
	"time"

	"regisync/backend/internal/domain"
	"regisync/backend/internal/store"
)

// OpenSession opens the register for date (yyyyMMdd, default today). Opening an
// open session is a no-op; a closed session may be reopened only on its own
// business day. Dates after today are rejected.
func (s *Service) OpenSession(ctx context.Context, date string) (domain.RegisterSession, error) {
	date, _, err := s.parseBusinessDate(date)
	if err != nil {
		return domain.RegisterSession{}, err
	}
	if date > s.today() {
		return domain.RegisterSession{}, domain.Invalid("date", "%s is after today", date)
	}

	s.sessionMu.Lock()
	defer s.sessionMu.Unlock()

	existing, err := s.repo.GetSession(ctx, date)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return domain.RegisterSession{}, err
	}
	if existing != nil && existing.IsOpen() {
		return *existing, nil
	}
	if existing != nil && date != s.today() {
		return domain.RegisterSession{}, ErrAlreadyClosed
	}

	latest, err := s.repo.LatestSession(ctx)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return domain.RegisterSession{}, err
	}
	if latest != nil && latest.IsOpen() && latest.DateString != date {
		return domain.RegisterSession{}, ErrAnotherSessionOpen
	}

	session := domain.RegisterSession{DateString: date, OpenedAt: s.now().UTC().Truncate(time.Microsecond)}
	action := "session_open"
	if existing != nil {
		session.OpenedAt = existing.OpenedAt
		action = "session_reopen"
	}
	if err := s.repo.SaveSession(ctx, session); err != nil {
		return domain.RegisterSession{}, err
	}

	s.logAudit(ctx, action, "session", date, "")
	return session, nil
}

func (s *Service) CloseSession(ctx context.Context, date string) (domain.RegisterSession, error) {
	date, _, err := s.parseBusinessDate(date)
	if err != nil {
		return domain.RegisterSession{}, err
	}

	s.sessionMu.Lock()
	defer s.sessionMu.Unlock()

	session, err := s.repo.GetSession(ctx, date)
	if err != nil {
		return domain.RegisterSession{}, err
	}
	if !session.IsOpen() {
		return domain.RegisterSession{}, ErrSessionNotOpen
	}

	closedAt := s.now().UTC().Truncate(time.Microsecond)
	session.ClosedAt = &closedAt
	if err := s.repo.SaveSession(ctx, *session); err != nil {
		return domain.RegisterSession{}, err
	}

	s.logAudit(ctx, "session_close", "session", date, "")
	return *session, nil
}

// CurrentSession returns the most recently opened session, or nil when the
// register was never opened.
func (s *Service) CurrentSession(ctx context.Context) (*domain.RegisterSession, error) {
	session, err := s.repo.LatestSession(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	return session, err
}

// ReportWindow is the read-path range for date. It is the session's
// opened..closed span when a session exists and FallbackDayWindow otherwise.
// It never creates a session.
func (s *Service) ReportWindow(ctx context.Context, date string) (domain.ReportWindow, error) {
	date, _, err := s.parseBusinessDate(date)
	if err != nil {
		return domain.ReportWindow{}, err
	}

	session, err := s.repo.GetSession(ctx, date)
	if errors.Is(err, store.ErrNotFound) {
		return s.FallbackDayWindow(date)
	}
	if err != nil {
		return domain.ReportWindow{}, err
	}

	window := domain.ReportWindow{From: session.OpenedAt, Source: domain.WindowSourceSession}
	if session.ClosedAt != nil {
		window.To = *session.ClosedAt
	}
	return window, nil
}

// FallbackDayWindow spans local midnight to the next local midnight of date.
func (s *Service) FallbackDayWindow(date string) (domain.ReportWindow, error) {
	_, day, err := s.parseBusinessDate(date)
	if err != nil {
		return domain.ReportWindow{}, err
	}
	return domain.ReportWindow{
		From:   day.UTC(),
		To:     day.AddDate(0, 0, 1).UTC(),
		Source: domain.WindowSourceFallback,
	}, nil
}

// CurrentSessionView pairs the current session with the window reports use
// for its business date.
func (s *Service) CurrentSessionView(ctx context.Context) (domain.CurrentSessionResponse, error) {
	session, err := s.CurrentSession(ctx)
	if err != nil {
		return domain.CurrentSessionResponse{}, err
	}
	date := s.today()
	if session != nil {
		date = session.DateString
	}
	window, err := s.ReportWindow(ctx, date)
	if err != nil {
		return domain.CurrentSessionResponse{}, err
	}
	return domain.CurrentSessionResponse{Session: session, Window: window}, nil
}
