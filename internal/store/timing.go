package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"flock/api/internal/util"
)

// StartPreachSession creates one timed delivery attempt for a bulletin. The
// bulletin must exist and not be soft-deleted; its status does not matter
// (rehearsals run against drafts too).
func (s *PostgresStore) StartPreachSession(ctx context.Context, tenantID, bulletinID string) (PreachSession, error) {
	var session PreachSession
	err := s.RunScoped(ctx, tenantID, func(sc *Scope) error {
		var exists bool
		err := sc.QueryRow(ctx, `
			SELECT EXISTS(SELECT 1 FROM bulletin_issue WHERE id=$1 AND deleted_at IS NULL)
		`, bulletinID).Scan(&exists)
		if err != nil {
			return err
		}
		if !exists {
			return ErrNotFound
		}
		session = PreachSession{
			ID:              util.NewID("ps"),
			TenantID:        sc.TenantID(),
			BulletinIssueID: bulletinID,
		}
		return sc.QueryRow(ctx, `
			INSERT INTO preach_session (id, tenant_id, bulletin_issue_id, started_at)
			VALUES ($1, $2, $3, NOW())
			RETURNING started_at
		`, session.ID, session.TenantID, bulletinID).Scan(&session.StartedAt)
	})
	if errors.Is(err, ErrNotFound) {
		return PreachSession{}, err
	}
	if err != nil {
		return PreachSession{}, fmt.Errorf("start preach session: %w", err)
	}
	return session, nil
}

// EndPreachSession sets ended_at once. The conditional update makes repeat
// calls no-ops: they report the first-recorded end time and alreadyEnded=true.
func (s *PostgresStore) EndPreachSession(ctx context.Context, tenantID, sessionID string) (endedAt time.Time, alreadyEnded bool, err error) {
	err = s.RunScoped(ctx, tenantID, func(sc *Scope) error {
		scanErr := sc.QueryRow(ctx, `
			UPDATE preach_session SET ended_at=NOW()
			WHERE id=$1 AND ended_at IS NULL
			RETURNING ended_at
		`, sessionID).Scan(&endedAt)
		if scanErr == nil {
			return nil
		}
		if !errors.Is(scanErr, sql.ErrNoRows) {
			return scanErr
		}
		var existing *time.Time
		scanErr = sc.QueryRow(ctx, `SELECT ended_at FROM preach_session WHERE id=$1`, sessionID).Scan(&existing)
		if errors.Is(scanErr, sql.ErrNoRows) || existing == nil {
			return ErrNotFound
		}
		if scanErr != nil {
			return scanErr
		}
		endedAt = *existing
		alreadyEnded = true
		return nil
	})
	if errors.Is(err, ErrNotFound) {
		return time.Time{}, false, err
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("end preach session: %w", err)
	}
	return endedAt, alreadyEnded, nil
}

func (s *PostgresStore) GetPreachSession(ctx context.Context, tenantID, sessionID string) (PreachSession, error) {
	var session PreachSession
	err := s.RunScoped(ctx, tenantID, func(sc *Scope) error {
		return sc.QueryRow(ctx, `
			SELECT id, tenant_id, bulletin_issue_id, started_at, ended_at
			FROM preach_session
			WHERE id=$1
		`, sessionID).Scan(&session.ID, &session.TenantID, &session.BulletinIssueID, &session.StartedAt, &session.EndedAt)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return PreachSession{}, ErrNotFound
	}
	if err != nil {
		return PreachSession{}, fmt.Errorf("get preach session: %w", err)
	}
	return session, nil
}

// RecordItemTiming applies one start or end event for a (session, item) pair.
// The timing row is created lazily by the first event; the COALESCE guard in
// the upsert means an already-set endpoint is never overwritten, so duplicate
// and out-of-order client calls keep the first-recorded instant. Two racing
// inserts resolve through the (session, item) unique constraint: the loser
// falls through to the update branch instead of erroring.
func (s *PostgresStore) RecordItemTiming(ctx context.Context, tenantID, sessionID, itemID, event string) error {
	var column string
	switch event {
	case TimingEventStart:
		column = "started_at"
	case TimingEventEnd:
		column = "ended_at"
	default:
		return fmt.Errorf("record item timing: unknown event %q", event)
	}

	err := s.RunScoped(ctx, tenantID, func(sc *Scope) error {
		var sessionExists, itemExists bool
		err := sc.QueryRow(ctx, `
			SELECT EXISTS(SELECT 1 FROM preach_session WHERE id=$1),
			       EXISTS(SELECT 1 FROM service_item WHERE id=$2)
		`, sessionID, itemID).Scan(&sessionExists, &itemExists)
		if err != nil {
			return err
		}
		if !sessionExists || !itemExists {
			return ErrNotFound
		}

		_, err = sc.Exec(ctx, `
			INSERT INTO service_item_timing (id, tenant_id, preach_session_id, service_item_id, `+column+`)
			VALUES ($1, $2, $3, $4, NOW())
			ON CONFLICT (preach_session_id, service_item_id)
			DO UPDATE SET `+column+` = COALESCE(service_item_timing.`+column+`, EXCLUDED.`+column+`)
		`, util.NewID("tm"), sc.TenantID(), sessionID, itemID)
		return err
	})
	if errors.Is(err, ErrNotFound) {
		return err
	}
	if err != nil {
		return fmt.Errorf("record item timing: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetItemTiming(ctx context.Context, tenantID, sessionID, itemID string) (ServiceItemTiming, error) {
	var timing ServiceItemTiming
	err := s.RunScoped(ctx, tenantID, func(sc *Scope) error {
		return sc.QueryRow(ctx, `
			SELECT id, tenant_id, preach_session_id, service_item_id, started_at, ended_at, duration_seconds
			FROM service_item_timing
			WHERE preach_session_id=$1 AND service_item_id=$2
		`, sessionID, itemID).Scan(
			&timing.ID,
			&timing.TenantID,
			&timing.PreachSessionID,
			&timing.ServiceItemID,
			&timing.StartedAt,
			&timing.EndedAt,
			&timing.DurationSeconds,
		)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return ServiceItemTiming{}, ErrNotFound
	}
	if err != nil {
		return ServiceItemTiming{}, fmt.Errorf("get item timing: %w", err)
	}
	return timing, nil
}
