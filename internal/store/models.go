package store

import (
	"encoding/json"
	"time"
)

// Bulletin issue lifecycle states. Transitions between draft/approved/built
// are free; locked is terminal for edits; deleted is reachable from any
// non-locked state via soft delete.
const (
	StatusDraft    = "draft"
	StatusApproved = "approved"
	StatusBuilt    = "built"
	StatusLocked   = "locked"
	StatusDeleted  = "deleted"
)

// Timing endpoint events accepted by RecordItemTiming.
const (
	TimingEventStart = "start"
	TimingEventEnd   = "end"
)

// Grouping dimensions for the analytics queries.
const (
	GroupByPresenter = "presenter"
	GroupBySeries    = "series"
	GroupByTimeSlot  = "timeSlot"
)

type BulletinIssue struct {
	ID        string
	TenantID  string
	IssueDate time.Time
	Status    string
	Template  string
	Presenter string
	Series    string
	Layout    json.RawMessage
	LockedAt  *time.Time
	LockedBy  string
	DeletedAt *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ServiceItem belongs to a service date within a tenant (matched by date, not
// by foreign key to the issue). Items of type "song" must carry a licensing
// number before the date's issue can be locked.
type ServiceItem struct {
	ID          string
	TenantID    string
	ServiceDate time.Time
	ItemType    string
	Sequence    int
	Title       string
	DurationMin *int
	Section     string
	LicensingNo string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// PreachSession is one timed delivery attempt of a bulletin's content.
// StartedAt is set at creation and immutable; EndedAt is set at most once.
type PreachSession struct {
	ID              string
	TenantID        string
	BulletinIssueID string
	StartedAt       time.Time
	EndedAt         *time.Time
}

// ServiceItemTiming is the start/end record for one item within one session.
// DurationSeconds is derived by the store once both endpoints are present and
// is never written by code.
type ServiceItemTiming struct {
	ID              string
	TenantID        string
	PreachSessionID string
	ServiceItemID   string
	StartedAt       *time.Time
	EndedAt         *time.Time
	DurationSeconds *int
}

// UpdateIssueFields carries the mutable bulletin fields; nil means unchanged.
type UpdateIssueFields struct {
	Template  *string
	Presenter *string
	Series    *string
}

// UpdateItemFields carries the mutable service-item fields; nil means unchanged.
type UpdateItemFields struct {
	ItemType    *string
	Sequence    *int
	Title       *string
	DurationMin *int
	Section     *string
	LicensingNo *string
}

// StatFilters narrows grouped stats; empty strings mean no filter.
type StatFilters struct {
	Series    string
	Presenter string
	TimeSlot  string
}

// StatGroup is one grouped-stats row. Minute values are rounded
// half-away-from-zero at the seconds boundary.
type StatGroup struct {
	Key               string `json:"key"`
	SessionsCount     int    `json:"sessionsCount"`
	AvgPlannedMinutes int    `json:"avgPlannedMinutes"`
	AvgActualMinutes  int    `json:"avgActualMinutes"`
	AvgDeltaMinutes   int    `json:"avgDeltaMinutes"`
}

// SessionDetail is one drill-down row backing a stats group.
type SessionDetail struct {
	SessionID      string
	IssueDate      time.Time
	Presenter      string
	Series         string
	StartedAt      time.Time
	EndedAt        time.Time
	PlannedMinutes int
	ActualMinutes  int
	DeltaMinutes   int
}

type SessionItemSummary struct {
	ItemID          string
	Title           string
	ItemType        string
	Sequence        int
	PlannedMin      *int
	StartedAt       *time.Time
	EndedAt         *time.Time
	DurationSeconds *int
}

type SummaryTotals struct {
	PlannedMinutes int
	ActualMinutes  int
	DeltaMinutes   int
}

type SessionSummary struct {
	SessionID string
	Items     []SessionItemSummary
	Totals    SummaryTotals
}
