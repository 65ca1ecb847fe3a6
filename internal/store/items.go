package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"flock/api/internal/util"
)

const itemColumns = `id, tenant_id, service_date, item_type, sequence, title, duration_min, COALESCE(section, ''), COALESCE(licensing_no, ''), created_at, updated_at`

func scanItem(row interface{ Scan(...any) error }) (ServiceItem, error) {
	var item ServiceItem
	err := row.Scan(
		&item.ID,
		&item.TenantID,
		&item.ServiceDate,
		&item.ItemType,
		&item.Sequence,
		&item.Title,
		&item.DurationMin,
		&item.Section,
		&item.LicensingNo,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	if err != nil {
		return ServiceItem{}, err
	}
	return item, nil
}

// dateLockGuard refuses the mutation when the date's issue is already locked.
// An absent issue does not block item edits; items are matched to the issue by
// date, and the order of creation is not fixed.
func dateLockGuard(ctx context.Context, sc *Scope, serviceDate time.Time) error {
	var status string
	err := sc.QueryRow(ctx, `
		SELECT status FROM bulletin_issue WHERE issue_date=$1 AND deleted_at IS NULL
	`, serviceDate).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("check issue lock: %w", err)
	}
	if status == StatusLocked {
		return ErrLocked
	}
	return nil
}

func (s *PostgresStore) CreateServiceItem(ctx context.Context, tenantID string, item ServiceItem) (ServiceItem, error) {
	var created ServiceItem
	err := s.RunScoped(ctx, tenantID, func(sc *Scope) error {
		if err := dateLockGuard(ctx, sc, item.ServiceDate); err != nil {
			return err
		}
		row := sc.QueryRow(ctx, `
			INSERT INTO service_item (id, tenant_id, service_date, item_type, sequence, title, duration_min, section, licensing_no)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			RETURNING `+itemColumns+`
		`, util.NewID("si"), sc.TenantID(), item.ServiceDate, item.ItemType, item.Sequence, item.Title, item.DurationMin, item.Section, item.LicensingNo)
		var scanErr error
		created, scanErr = scanItem(row)
		return scanErr
	})
	if errors.Is(err, ErrLocked) {
		return ServiceItem{}, err
	}
	if err != nil {
		return ServiceItem{}, fmt.Errorf("create service item: %w", err)
	}
	return created, nil
}

func (s *PostgresStore) UpdateServiceItem(ctx context.Context, tenantID, itemID string, fields UpdateItemFields) error {
	err := s.RunScoped(ctx, tenantID, func(sc *Scope) error {
		var serviceDate time.Time
		err := sc.QueryRow(ctx, `SELECT service_date FROM service_item WHERE id=$1`, itemID).Scan(&serviceDate)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		if err := dateLockGuard(ctx, sc, serviceDate); err != nil {
			return err
		}
		_, err = sc.Exec(ctx, `
			UPDATE service_item
			SET item_type=COALESCE($2::text, item_type),
			    sequence=COALESCE($3::int, sequence),
			    title=COALESCE($4::text, title),
			    duration_min=COALESCE($5::int, duration_min),
			    section=COALESCE($6::text, section),
			    licensing_no=COALESCE($7::text, licensing_no),
			    updated_at=NOW()
			WHERE id=$1
		`, itemID, fields.ItemType, fields.Sequence, fields.Title, fields.DurationMin, fields.Section, fields.LicensingNo)
		return err
	})
	if err != nil && !errors.Is(err, ErrNotFound) && !errors.Is(err, ErrLocked) {
		return fmt.Errorf("update service item: %w", err)
	}
	return err
}

func (s *PostgresStore) DeleteServiceItem(ctx context.Context, tenantID, itemID string) error {
	err := s.RunScoped(ctx, tenantID, func(sc *Scope) error {
		var serviceDate time.Time
		err := sc.QueryRow(ctx, `SELECT service_date FROM service_item WHERE id=$1`, itemID).Scan(&serviceDate)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		if err := dateLockGuard(ctx, sc, serviceDate); err != nil {
			return err
		}
		_, err = sc.Exec(ctx, `DELETE FROM service_item WHERE id=$1`, itemID)
		return err
	})
	if err != nil && !errors.Is(err, ErrNotFound) && !errors.Is(err, ErrLocked) {
		return fmt.Errorf("delete service item: %w", err)
	}
	return err
}

func (s *PostgresStore) ListServiceItems(ctx context.Context, tenantID string, serviceDate time.Time) ([]ServiceItem, error) {
	items := make([]ServiceItem, 0)
	err := s.RunScoped(ctx, tenantID, func(sc *Scope) error {
		rows, err := sc.Query(ctx, `
			SELECT `+itemColumns+`
			FROM service_item
			WHERE service_date=$1
			ORDER BY sequence ASC, created_at ASC
		`, serviceDate)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			item, err := scanItem(rows)
			if err != nil {
				return err
			}
			items = append(items, item)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("list service items: %w", err)
	}
	return items, nil
}
