package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"flock/api/internal/util"
)

const bulletinColumns = `id, tenant_id, issue_date, status, template, presenter, series, COALESCE(layout_json::text, '{}'), locked_at, COALESCE(locked_by, ''), deleted_at, created_at, updated_at`

func scanBulletin(row interface{ Scan(...any) error }) (BulletinIssue, error) {
	var item BulletinIssue
	var layout string
	err := row.Scan(
		&item.ID,
		&item.TenantID,
		&item.IssueDate,
		&item.Status,
		&item.Template,
		&item.Presenter,
		&item.Series,
		&layout,
		&item.LockedAt,
		&item.LockedBy,
		&item.DeletedAt,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	if err != nil {
		return BulletinIssue{}, err
	}
	item.Layout = []byte(layout)
	return item, nil
}

// CreateBulletinIssue inserts a draft issue for the date. A non-deleted issue
// already occupying (tenant, date) surfaces as ErrConflict via the partial
// unique index; a soft-deleted one does not block creation.
func (s *PostgresStore) CreateBulletinIssue(ctx context.Context, tenantID string, issueDate time.Time, template string) (BulletinIssue, error) {
	if template == "" {
		template = "standard"
	}
	var item BulletinIssue
	err := s.RunScoped(ctx, tenantID, func(sc *Scope) error {
		row := sc.QueryRow(ctx, `
			INSERT INTO bulletin_issue (id, tenant_id, issue_date, status, template)
			VALUES ($1, $2, $3, 'draft', $4)
			RETURNING `+bulletinColumns+`
		`, util.NewID("bi"), sc.TenantID(), issueDate, template)
		var scanErr error
		item, scanErr = scanBulletin(row)
		return scanErr
	})
	if isUniqueViolation(err) {
		return BulletinIssue{}, ErrConflict
	}
	if err != nil {
		return BulletinIssue{}, fmt.Errorf("create bulletin issue: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) GetBulletinIssue(ctx context.Context, tenantID, issueID string) (BulletinIssue, error) {
	var item BulletinIssue
	err := s.RunScoped(ctx, tenantID, func(sc *Scope) error {
		row := sc.QueryRow(ctx, `
			SELECT `+bulletinColumns+`
			FROM bulletin_issue
			WHERE id=$1 AND deleted_at IS NULL
		`, issueID)
		var scanErr error
		item, scanErr = scanBulletin(row)
		return scanErr
	})
	if errors.Is(err, sql.ErrNoRows) {
		return BulletinIssue{}, ErrNotFound
	}
	if err != nil {
		return BulletinIssue{}, fmt.Errorf("get bulletin issue: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) ListBulletinIssues(ctx context.Context, tenantID string, from, to time.Time) ([]BulletinIssue, error) {
	items := make([]BulletinIssue, 0)
	err := s.RunScoped(ctx, tenantID, func(sc *Scope) error {
		rows, err := sc.Query(ctx, `
			SELECT `+bulletinColumns+`
			FROM bulletin_issue
			WHERE deleted_at IS NULL AND issue_date BETWEEN $1 AND $2
			ORDER BY issue_date DESC
		`, from, to)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			item, err := scanBulletin(rows)
			if err != nil {
				return err
			}
			items = append(items, item)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("list bulletin issues: %w", err)
	}
	return items, nil
}

// classifyIssueMiss explains a zero-row conditional update: the row is either
// absent/soft-deleted (ErrNotFound), locked (ErrLocked), or lost a status race
// (ErrConflict).
func classifyIssueMiss(ctx context.Context, sc *Scope, issueID string) error {
	var status string
	err := sc.QueryRow(ctx, `SELECT status FROM bulletin_issue WHERE id=$1`, issueID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("classify issue state: %w", err)
	}
	switch status {
	case StatusLocked:
		return ErrLocked
	case StatusDeleted:
		return ErrNotFound
	default:
		return ErrConflict
	}
}

// guardedIssueUpdate runs one conditional update that only touches non-locked,
// non-deleted rows, then classifies a zero-row result inside the same
// transaction. The guard is the statement's WHERE clause, not a prior read.
func guardedIssueUpdate(ctx context.Context, sc *Scope, issueID, query string, args ...any) error {
	result, err := sc.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return classifyIssueMiss(ctx, sc, issueID)
	}
	return nil
}

func (s *PostgresStore) UpdateBulletinIssue(ctx context.Context, tenantID, issueID string, fields UpdateIssueFields) error {
	err := s.RunScoped(ctx, tenantID, func(sc *Scope) error {
		return guardedIssueUpdate(ctx, sc, issueID, `
			UPDATE bulletin_issue
			SET template=COALESCE($2::text, template),
			    presenter=COALESCE($3::text, presenter),
			    series=COALESCE($4::text, series),
			    updated_at=NOW()
			WHERE id=$1 AND status NOT IN ('locked', 'deleted')
		`, issueID, fields.Template, fields.Presenter, fields.Series)
	})
	if err != nil && !errors.Is(err, ErrNotFound) && !errors.Is(err, ErrLocked) && !errors.Is(err, ErrConflict) {
		return fmt.Errorf("update bulletin issue: %w", err)
	}
	return err
}

func (s *PostgresStore) SaveBulletinLayout(ctx context.Context, tenantID, issueID string, layout []byte) error {
	if len(layout) == 0 {
		layout = []byte("{}")
	}
	err := s.RunScoped(ctx, tenantID, func(sc *Scope) error {
		return guardedIssueUpdate(ctx, sc, issueID, `
			UPDATE bulletin_issue
			SET layout_json=$2::jsonb, updated_at=NOW()
			WHERE id=$1 AND status NOT IN ('locked', 'deleted')
		`, issueID, string(layout))
	})
	if err != nil && !errors.Is(err, ErrNotFound) && !errors.Is(err, ErrLocked) && !errors.Is(err, ErrConflict) {
		return fmt.Errorf("save bulletin layout: %w", err)
	}
	return err
}

func (s *PostgresStore) ChangeBulletinTemplate(ctx context.Context, tenantID, issueID, template string) error {
	err := s.RunScoped(ctx, tenantID, func(sc *Scope) error {
		return guardedIssueUpdate(ctx, sc, issueID, `
			UPDATE bulletin_issue
			SET template=$2, updated_at=NOW()
			WHERE id=$1 AND status NOT IN ('locked', 'deleted')
		`, issueID, template)
	})
	if err != nil && !errors.Is(err, ErrNotFound) && !errors.Is(err, ErrLocked) && !errors.Is(err, ErrConflict) {
		return fmt.Errorf("change bulletin template: %w", err)
	}
	return err
}

// ChangeBulletinStatus walks the issue between the editable states. Any order
// among draft, approved and built is allowed; locking and deletion are separate
// operations with their own guards and never happen through here.
func (s *PostgresStore) ChangeBulletinStatus(ctx context.Context, tenantID, issueID, status string) error {
	switch status {
	case StatusDraft, StatusApproved, StatusBuilt:
	default:
		return fmt.Errorf("change bulletin status: invalid status %q", status)
	}
	err := s.RunScoped(ctx, tenantID, func(sc *Scope) error {
		return guardedIssueUpdate(ctx, sc, issueID, `
			UPDATE bulletin_issue
			SET status=$2, updated_at=NOW()
			WHERE id=$1 AND status NOT IN ('locked', 'deleted')
		`, issueID, status)
	})
	if err != nil && !errors.Is(err, ErrNotFound) && !errors.Is(err, ErrLocked) && !errors.Is(err, ErrConflict) {
		return fmt.Errorf("change bulletin status: %w", err)
	}
	return err
}

// CopyBulletinSettings copies template, presenter, series and layout from a
// source issue onto the target, in one scoped transaction.
func (s *PostgresStore) CopyBulletinSettings(ctx context.Context, tenantID, issueID, fromIssueID string) error {
	err := s.RunScoped(ctx, tenantID, func(sc *Scope) error {
		var template, presenter, series, layout string
		err := sc.QueryRow(ctx, `
			SELECT template, presenter, series, COALESCE(layout_json::text, '{}')
			FROM bulletin_issue
			WHERE id=$1 AND deleted_at IS NULL
		`, fromIssueID).Scan(&template, &presenter, &series, &layout)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return guardedIssueUpdate(ctx, sc, issueID, `
			UPDATE bulletin_issue
			SET template=$2, presenter=$3, series=$4, layout_json=$5::jsonb, updated_at=NOW()
			WHERE id=$1 AND status NOT IN ('locked', 'deleted')
		`, issueID, template, presenter, series, layout)
	})
	if err != nil && !errors.Is(err, ErrNotFound) && !errors.Is(err, ErrLocked) && !errors.Is(err, ErrConflict) {
		return fmt.Errorf("copy bulletin settings: %w", err)
	}
	return err
}

// LockBulletinIssue flips the issue to locked. The licensing precondition is
// re-queried inside the same transaction immediately before the flip, and the
// flip itself is conditional: of two racing lock attempts exactly one update
// matches, the other sees zero rows and reports ErrConflict.
func (s *PostgresStore) LockBulletinIssue(ctx context.Context, tenantID, issueID, actor string) error {
	err := s.RunScoped(ctx, tenantID, func(sc *Scope) error {
		var issueDate time.Time
		err := sc.QueryRow(ctx, `
			SELECT issue_date FROM bulletin_issue WHERE id=$1 AND deleted_at IS NULL
		`, issueID).Scan(&issueDate)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}

		var unlicensed int
		err = sc.QueryRow(ctx, `
			SELECT COUNT(*) FROM service_item
			WHERE service_date=$1 AND item_type='song' AND COALESCE(licensing_no, '')=''
		`, issueDate).Scan(&unlicensed)
		if err != nil {
			return err
		}
		if unlicensed > 0 {
			return ErrPrecondition
		}

		result, err := sc.Exec(ctx, `
			UPDATE bulletin_issue
			SET status='locked', locked_at=NOW(), locked_by=$2, updated_at=NOW()
			WHERE id=$1 AND status NOT IN ('locked', 'deleted')
		`, issueID, actor)
		if err != nil {
			return err
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return ErrConflict
		}
		return nil
	})
	if err != nil && !errors.Is(err, ErrNotFound) && !errors.Is(err, ErrPrecondition) && !errors.Is(err, ErrConflict) {
		return fmt.Errorf("lock bulletin issue: %w", err)
	}
	return err
}

// SoftDeleteBulletinIssue marks the issue deleted. Status and deleted_at move
// together in one statement, satisfying the store's consistency constraint.
func (s *PostgresStore) SoftDeleteBulletinIssue(ctx context.Context, tenantID, issueID string) error {
	err := s.RunScoped(ctx, tenantID, func(sc *Scope) error {
		return guardedIssueUpdate(ctx, sc, issueID, `
			UPDATE bulletin_issue
			SET status='deleted', deleted_at=NOW(), updated_at=NOW()
			WHERE id=$1 AND status NOT IN ('locked', 'deleted')
		`, issueID)
	})
	if err != nil && !errors.Is(err, ErrNotFound) && !errors.Is(err, ErrLocked) && !errors.Is(err, ErrConflict) {
		return fmt.Errorf("soft delete bulletin issue: %w", err)
	}
	return err
}
