package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"
)

// roundMinutes converts seconds to whole minutes, rounding half away from
// zero: 67.5min -> 68, -2.5min -> -3. Every grouping dimension and the summary
// totals go through this one helper.
func roundMinutes(seconds float64) int {
	return int(math.Round(seconds / 60.0))
}

// completedSessionsCTE computes, per completed session in the window, its
// actual span in seconds, the planned seconds for its issue date, and the
// grouping attributes. In-progress sessions (ended_at IS NULL) never appear.
const completedSessionsCTE = `
	WITH completed AS (
		SELECT ps.id AS session_id,
		       ps.started_at,
		       ps.ended_at,
		       bi.issue_date,
		       bi.presenter,
		       bi.series,
		       to_char(date_trunc('hour', ps.started_at), 'HH24:00') AS time_slot,
		       EXTRACT(EPOCH FROM (ps.ended_at - ps.started_at)) AS actual_seconds,
		       COALESCE(planned.planned_seconds, 0) AS planned_seconds
		FROM preach_session ps
		JOIN bulletin_issue bi ON bi.id = ps.bulletin_issue_id
		LEFT JOIN (
			SELECT service_date, SUM(COALESCE(duration_min, 0)) * 60 AS planned_seconds
			FROM service_item
			GROUP BY service_date
		) planned ON planned.service_date = bi.issue_date
		WHERE ps.ended_at IS NOT NULL
		  AND bi.deleted_at IS NULL
		  AND bi.issue_date BETWEEN $1 AND $2
		  AND ($3 = '' OR bi.series = $3)
		  AND ($4 = '' OR bi.presenter = $4)
	)
`

// groupExpression whitelists the grouping dimension; the group key never
// reaches the SQL text from caller input.
func groupExpression(groupBy string) (string, error) {
	switch groupBy {
	case GroupByPresenter:
		return "presenter", nil
	case GroupBySeries:
		return "series", nil
	case GroupByTimeSlot:
		return "time_slot", nil
	default:
		return "", fmt.Errorf("unknown groupBy %q", groupBy)
	}
}

// GroupedStats aggregates completed sessions in [from, to] into per-group
// averages. Groups with no matching sessions are simply absent from the
// result.
func (s *PostgresStore) GroupedStats(ctx context.Context, tenantID, groupBy string, filters StatFilters, from, to time.Time) ([]StatGroup, error) {
	expr, err := groupExpression(groupBy)
	if err != nil {
		return nil, fmt.Errorf("grouped stats: %w", err)
	}

	groups := make([]StatGroup, 0)
	err = s.RunScoped(ctx, tenantID, func(sc *Scope) error {
		rows, err := sc.Query(ctx, completedSessionsCTE+`
			SELECT `+expr+` AS grp,
			       COUNT(*)::int,
			       AVG(planned_seconds)::float8,
			       AVG(actual_seconds)::float8,
			       AVG(actual_seconds - planned_seconds)::float8
			FROM completed
			WHERE ($5 = '' OR time_slot = $5)
			GROUP BY grp
			ORDER BY grp ASC
		`, from, to, filters.Series, filters.Presenter, filters.TimeSlot)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var group StatGroup
			var planned, actual, delta float64
			if err := rows.Scan(&group.Key, &group.SessionsCount, &planned, &actual, &delta); err != nil {
				return err
			}
			group.AvgPlannedMinutes = roundMinutes(planned)
			group.AvgActualMinutes = roundMinutes(actual)
			group.AvgDeltaMinutes = roundMinutes(delta)
			groups = append(groups, group)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("grouped stats: %w", err)
	}
	return groups, nil
}

// DetailForGroup lists the completed sessions backing one group key,
// most-recent-first.
func (s *PostgresStore) DetailForGroup(ctx context.Context, tenantID, groupBy, key string, from, to time.Time) ([]SessionDetail, error) {
	expr, err := groupExpression(groupBy)
	if err != nil {
		return nil, fmt.Errorf("group detail: %w", err)
	}

	sessions := make([]SessionDetail, 0)
	err = s.RunScoped(ctx, tenantID, func(sc *Scope) error {
		rows, err := sc.Query(ctx, completedSessionsCTE+`
			SELECT session_id, issue_date, presenter, series, started_at, ended_at,
			       planned_seconds::float8, actual_seconds::float8
			FROM completed
			WHERE `+expr+` = $5
			ORDER BY started_at DESC
		`, from, to, "", "", key)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var detail SessionDetail
			var planned, actual float64
			if err := rows.Scan(
				&detail.SessionID,
				&detail.IssueDate,
				&detail.Presenter,
				&detail.Series,
				&detail.StartedAt,
				&detail.EndedAt,
				&planned,
				&actual,
			); err != nil {
				return err
			}
			detail.PlannedMinutes = roundMinutes(planned)
			detail.ActualMinutes = roundMinutes(actual)
			detail.DeltaMinutes = roundMinutes(actual - planned)
			sessions = append(sessions, detail)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("group detail: %w", err)
	}
	return sessions, nil
}

// GetSessionSummary returns the per-item timing rows for one session joined
// against the planned items of its issue date, plus rounded totals. The actual
// total uses the session's own span once ended, otherwise the sum of finished
// item timings.
func (s *PostgresStore) GetSessionSummary(ctx context.Context, tenantID, sessionID string) (SessionSummary, error) {
	summary := SessionSummary{SessionID: sessionID, Items: make([]SessionItemSummary, 0)}
	err := s.RunScoped(ctx, tenantID, func(sc *Scope) error {
		var issueDate time.Time
		var startedAt time.Time
		var endedAt *time.Time
		err := sc.QueryRow(ctx, `
			SELECT bi.issue_date, ps.started_at, ps.ended_at
			FROM preach_session ps
			JOIN bulletin_issue bi ON bi.id = ps.bulletin_issue_id
			WHERE ps.id=$1
		`, sessionID).Scan(&issueDate, &startedAt, &endedAt)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}

		rows, err := sc.Query(ctx, `
			SELECT si.id, si.title, si.item_type, si.sequence, si.duration_min,
			       t.started_at, t.ended_at, t.duration_seconds
			FROM service_item si
			LEFT JOIN service_item_timing t
			  ON t.service_item_id = si.id AND t.preach_session_id = $1
			WHERE si.service_date = $2
			ORDER BY si.sequence ASC, si.created_at ASC
		`, sessionID, issueDate)
		if err != nil {
			return err
		}
		defer rows.Close()

		plannedMin := 0
		timedSeconds := 0
		for rows.Next() {
			var item SessionItemSummary
			if err := rows.Scan(
				&item.ItemID,
				&item.Title,
				&item.ItemType,
				&item.Sequence,
				&item.PlannedMin,
				&item.StartedAt,
				&item.EndedAt,
				&item.DurationSeconds,
			); err != nil {
				return err
			}
			if item.PlannedMin != nil {
				plannedMin += *item.PlannedMin
			}
			if item.DurationSeconds != nil {
				timedSeconds += *item.DurationSeconds
			}
			summary.Items = append(summary.Items, item)
		}
		if err := rows.Err(); err != nil {
			return err
		}

		actualSeconds := float64(timedSeconds)
		if endedAt != nil {
			actualSeconds = endedAt.Sub(startedAt).Seconds()
		}
		summary.Totals.PlannedMinutes = plannedMin
		summary.Totals.ActualMinutes = roundMinutes(actualSeconds)
		summary.Totals.DeltaMinutes = summary.Totals.ActualMinutes - summary.Totals.PlannedMinutes
		return nil
	})
	if errors.Is(err, ErrNotFound) {
		return SessionSummary{}, err
	}
	if err != nil {
		return SessionSummary{}, fmt.Errorf("get session summary: %w", err)
	}
	return summary, nil
}
