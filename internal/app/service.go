package app

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"flock/api/internal/cache"
	"flock/api/internal/store"
)

type CreateIssueInput struct {
	ServiceDate string `json:"serviceDate"`
	Template    string `json:"template"`
}

type UpdateIssueInput struct {
	Template  *string `json:"template"`
	Presenter *string `json:"presenter"`
	Series    *string `json:"series"`
}

type SaveLayoutInput struct {
	Layout json.RawMessage `json:"layout"`
}

type ChangeTemplateInput struct {
	Template string `json:"template"`
}

type ChangeStatusInput struct {
	Status string `json:"status"`
}

type CopySettingsInput struct {
	FromID string `json:"fromId"`
}

type LockIssueInput struct {
	Actor string `json:"actor"`
}

type CreateItemInput struct {
	ServiceDate string `json:"serviceDate"`
	ItemType    string `json:"itemType"`
	Sequence    int    `json:"sequence"`
	Title       string `json:"title"`
	DurationMin *int   `json:"durationMin"`
	Section     string `json:"section"`
	LicensingNo string `json:"licensingNo"`
}

type UpdateItemInput struct {
	ItemType    *string `json:"itemType"`
	Sequence    *int    `json:"sequence"`
	Title       *string `json:"title"`
	DurationMin *int    `json:"durationMin"`
	Section     *string `json:"section"`
	LicensingNo *string `json:"licensingNo"`
}

type RecordTimingInput struct {
	ItemID string `json:"itemId"`
	Event  string `json:"event"`
}

type StatsQuery struct {
	GroupBy   string
	Series    string
	Presenter string
	TimeSlot  string
	From      string
	To        string
}

type EndSessionResult struct {
	EndedAt      time.Time `json:"endedAt"`
	AlreadyEnded bool      `json:"alreadyEnded"`
}

type dataStore interface {
	CreateBulletinIssue(context.Context, string, time.Time, string) (store.BulletinIssue, error)
	GetBulletinIssue(context.Context, string, string) (store.BulletinIssue, error)
	ListBulletinIssues(context.Context, string, time.Time, time.Time) ([]store.BulletinIssue, error)
	UpdateBulletinIssue(context.Context, string, string, store.UpdateIssueFields) error
	SaveBulletinLayout(context.Context, string, string, []byte) error
	ChangeBulletinTemplate(context.Context, string, string, string) error
	ChangeBulletinStatus(context.Context, string, string, string) error
	CopyBulletinSettings(context.Context, string, string, string) error
	LockBulletinIssue(context.Context, string, string, string) error
	SoftDeleteBulletinIssue(context.Context, string, string) error
	CreateServiceItem(context.Context, string, store.ServiceItem) (store.ServiceItem, error)
	UpdateServiceItem(context.Context, string, string, store.UpdateItemFields) error
	DeleteServiceItem(context.Context, string, string) error
	ListServiceItems(context.Context, string, time.Time) ([]store.ServiceItem, error)
	StartPreachSession(context.Context, string, string) (store.PreachSession, error)
	EndPreachSession(context.Context, string, string) (time.Time, bool, error)
	GetPreachSession(context.Context, string, string) (store.PreachSession, error)
	RecordItemTiming(context.Context, string, string, string, string) error
	GetSessionSummary(context.Context, string, string) (store.SessionSummary, error)
	GroupedStats(context.Context, string, string, store.StatFilters, time.Time, time.Time) ([]store.StatGroup, error)
	DetailForGroup(context.Context, string, string, string, time.Time, time.Time) ([]store.SessionDetail, error)
	Ping(ctx context.Context) error
}

type statsCache interface {
	GetGroups(ctx context.Context, key string) ([]store.StatGroup, bool)
	SetGroups(ctx context.Context, key string, groups []store.StatGroup)
}

type Service struct {
	store dataStore
	stats statsCache
}

func New(dataStore *store.PostgresStore) *Service {
	return &Service{store: dataStore}
}

func NewWithStatsCache(dataStore *store.PostgresStore, stats *cache.StatsCache) *Service {
	return &Service{store: dataStore, stats: stats}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func parseDate(value string) (time.Time, error) {
	return time.Parse("2006-01-02", value)
}

// statsRange resolves the analytics window, defaulting to the trailing 90
// days when unspecified.
func statsRange(fromValue, toValue string, now time.Time) (time.Time, time.Time, error) {
	to := now
	from := now.AddDate(0, 0, -90)
	if toValue != "" {
		parsed, err := parseDate(toValue)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		to = parsed
	}
	if fromValue != "" {
		parsed, err := parseDate(fromValue)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		from = parsed
	}
	return from, to, nil
}

func (s *Service) CreateIssue(ctx context.Context, tenantID string, input CreateIssueInput) (store.BulletinIssue, error) {
	serviceDate, err := parseDate(input.ServiceDate)
	if err != nil {
		return store.BulletinIssue{}, domainError(http.StatusBadRequest, "INVALID_DATE", "serviceDate must be YYYY-MM-DD", nil)
	}
	issue, err := s.store.CreateBulletinIssue(ctx, tenantID, serviceDate, input.Template)
	if err != nil {
		return store.BulletinIssue{}, mapStoreError(err)
	}
	return issue, nil
}

func (s *Service) GetIssue(ctx context.Context, tenantID, issueID string) (store.BulletinIssue, error) {
	issue, err := s.store.GetBulletinIssue(ctx, tenantID, issueID)
	if err != nil {
		return store.BulletinIssue{}, mapStoreError(err)
	}
	return issue, nil
}

func (s *Service) ListIssues(ctx context.Context, tenantID, fromValue, toValue string) ([]store.BulletinIssue, error) {
	now := time.Now()
	from := now.AddDate(-1, 0, 0)
	to := now.AddDate(1, 0, 0)
	if fromValue != "" {
		parsed, err := parseDate(fromValue)
		if err != nil {
			return nil, domainError(http.StatusBadRequest, "INVALID_DATE", "from must be YYYY-MM-DD", nil)
		}
		from = parsed
	}
	if toValue != "" {
		parsed, err := parseDate(toValue)
		if err != nil {
			return nil, domainError(http.StatusBadRequest, "INVALID_DATE", "to must be YYYY-MM-DD", nil)
		}
		to = parsed
	}
	issues, err := s.store.ListBulletinIssues(ctx, tenantID, from, to)
	if err != nil {
		return nil, mapStoreError(err)
	}
	return issues, nil
}

func (s *Service) UpdateIssue(ctx context.Context, tenantID, issueID string, input UpdateIssueInput) error {
	return mapStoreError(s.store.UpdateBulletinIssue(ctx, tenantID, issueID, store.UpdateIssueFields{
		Template:  input.Template,
		Presenter: input.Presenter,
		Series:    input.Series,
	}))
}

func (s *Service) SaveLayout(ctx context.Context, tenantID, issueID string, input SaveLayoutInput) error {
	return mapStoreError(s.store.SaveBulletinLayout(ctx, tenantID, issueID, input.Layout))
}

func (s *Service) ChangeTemplate(ctx context.Context, tenantID, issueID string, input ChangeTemplateInput) error {
	if input.Template == "" {
		return domainError(http.StatusBadRequest, "INVALID_TEMPLATE", "template is required", nil)
	}
	return mapStoreError(s.store.ChangeBulletinTemplate(ctx, tenantID, issueID, input.Template))
}

func (s *Service) ChangeStatus(ctx context.Context, tenantID, issueID string, input ChangeStatusInput) error {
	switch input.Status {
	case store.StatusDraft, store.StatusApproved, store.StatusBuilt:
	default:
		return domainError(http.StatusBadRequest, "INVALID_STATUS", "status must be draft, approved or built", nil)
	}
	return mapStoreError(s.store.ChangeBulletinStatus(ctx, tenantID, issueID, input.Status))
}

func (s *Service) CopySettings(ctx context.Context, tenantID, issueID string, input CopySettingsInput) error {
	if input.FromID == "" {
		return domainError(http.StatusBadRequest, "INVALID_SOURCE", "fromId is required", nil)
	}
	return mapStoreError(s.store.CopyBulletinSettings(ctx, tenantID, issueID, input.FromID))
}

func (s *Service) LockIssue(ctx context.Context, tenantID, issueID string, input LockIssueInput) error {
	if input.Actor == "" {
		return domainError(http.StatusBadRequest, "INVALID_ACTOR", "actor is required", nil)
	}
	return mapStoreError(s.store.LockBulletinIssue(ctx, tenantID, issueID, input.Actor))
}

func (s *Service) DeleteIssue(ctx context.Context, tenantID, issueID string) error {
	return mapStoreError(s.store.SoftDeleteBulletinIssue(ctx, tenantID, issueID))
}

func (s *Service) CreateItem(ctx context.Context, tenantID string, input CreateItemInput) (store.ServiceItem, error) {
	serviceDate, err := parseDate(input.ServiceDate)
	if err != nil {
		return store.ServiceItem{}, domainError(http.StatusBadRequest, "INVALID_DATE", "serviceDate must be YYYY-MM-DD", nil)
	}
	if input.ItemType == "" {
		return store.ServiceItem{}, domainError(http.StatusBadRequest, "INVALID_ITEM_TYPE", "itemType is required", nil)
	}
	item, err := s.store.CreateServiceItem(ctx, tenantID, store.ServiceItem{
		ServiceDate: serviceDate,
		ItemType:    input.ItemType,
		Sequence:    input.Sequence,
		Title:       input.Title,
		DurationMin: input.DurationMin,
		Section:     input.Section,
		LicensingNo: input.LicensingNo,
	})
	if err != nil {
		return store.ServiceItem{}, mapStoreError(err)
	}
	return item, nil
}

func (s *Service) UpdateItem(ctx context.Context, tenantID, itemID string, input UpdateItemInput) error {
	return mapStoreError(s.store.UpdateServiceItem(ctx, tenantID, itemID, store.UpdateItemFields{
		ItemType:    input.ItemType,
		Sequence:    input.Sequence,
		Title:       input.Title,
		DurationMin: input.DurationMin,
		Section:     input.Section,
		LicensingNo: input.LicensingNo,
	}))
}

func (s *Service) DeleteItem(ctx context.Context, tenantID, itemID string) error {
	return mapStoreError(s.store.DeleteServiceItem(ctx, tenantID, itemID))
}

func (s *Service) ListItems(ctx context.Context, tenantID, dateValue string) ([]store.ServiceItem, error) {
	serviceDate, err := parseDate(dateValue)
	if err != nil {
		return nil, domainError(http.StatusBadRequest, "INVALID_DATE", "date must be YYYY-MM-DD", nil)
	}
	items, err := s.store.ListServiceItems(ctx, tenantID, serviceDate)
	if err != nil {
		return nil, mapStoreError(err)
	}
	return items, nil
}

func (s *Service) StartSession(ctx context.Context, tenantID, bulletinID string) (store.PreachSession, error) {
	if bulletinID == "" {
		return store.PreachSession{}, domainError(http.StatusBadRequest, "INVALID_BULLETIN", "bulletinId is required", nil)
	}
	session, err := s.store.StartPreachSession(ctx, tenantID, bulletinID)
	if err != nil {
		return store.PreachSession{}, mapStoreError(err)
	}
	return session, nil
}

func (s *Service) EndSession(ctx context.Context, tenantID, sessionID string) (EndSessionResult, error) {
	endedAt, alreadyEnded, err := s.store.EndPreachSession(ctx, tenantID, sessionID)
	if err != nil {
		return EndSessionResult{}, mapStoreError(err)
	}
	return EndSessionResult{EndedAt: endedAt, AlreadyEnded: alreadyEnded}, nil
}

func (s *Service) GetSession(ctx context.Context, tenantID, sessionID string) (store.PreachSession, error) {
	session, err := s.store.GetPreachSession(ctx, tenantID, sessionID)
	if err != nil {
		return store.PreachSession{}, mapStoreError(err)
	}
	return session, nil
}

func (s *Service) RecordTiming(ctx context.Context, tenantID, sessionID string, input RecordTimingInput) error {
	if input.ItemID == "" {
		return domainError(http.StatusBadRequest, "INVALID_ITEM", "itemId is required", nil)
	}
	if input.Event != store.TimingEventStart && input.Event != store.TimingEventEnd {
		return domainError(http.StatusBadRequest, "INVALID_EVENT", "event must be start or end", nil)
	}
	return mapStoreError(s.store.RecordItemTiming(ctx, tenantID, sessionID, input.ItemID, input.Event))
}

func (s *Service) SessionSummary(ctx context.Context, tenantID, sessionID string) (store.SessionSummary, error) {
	summary, err := s.store.GetSessionSummary(ctx, tenantID, sessionID)
	if err != nil {
		return store.SessionSummary{}, mapStoreError(err)
	}
	return summary, nil
}

func (s *Service) GroupedStats(ctx context.Context, tenantID string, query StatsQuery) ([]store.StatGroup, error) {
	if query.GroupBy != store.GroupByPresenter && query.GroupBy != store.GroupBySeries && query.GroupBy != store.GroupByTimeSlot {
		return nil, domainError(http.StatusBadRequest, "INVALID_GROUP_BY", "groupBy must be presenter, series or timeSlot", nil)
	}
	from, to, err := statsRange(query.From, query.To, time.Now())
	if err != nil {
		return nil, domainError(http.StatusBadRequest, "INVALID_DATE", "from/to must be YYYY-MM-DD", nil)
	}
	filters := store.StatFilters{
		Series:    query.Series,
		Presenter: query.Presenter,
		TimeSlot:  query.TimeSlot,
	}

	key := cache.Key(tenantID, query.GroupBy, filters, from, to)
	if s.stats != nil {
		if groups, ok := s.stats.GetGroups(ctx, key); ok {
			return groups, nil
		}
	}

	groups, err := s.store.GroupedStats(ctx, tenantID, query.GroupBy, filters, from, to)
	if err != nil {
		return nil, mapStoreError(err)
	}
	if s.stats != nil {
		s.stats.SetGroups(ctx, key, groups)
	}
	return groups, nil
}

func (s *Service) GroupDetail(ctx context.Context, tenantID, groupBy, key, fromValue, toValue string) ([]store.SessionDetail, error) {
	if groupBy != store.GroupByPresenter && groupBy != store.GroupBySeries && groupBy != store.GroupByTimeSlot {
		return nil, domainError(http.StatusBadRequest, "INVALID_GROUP_BY", "groupBy must be presenter, series or timeSlot", nil)
	}
	if key == "" {
		return nil, domainError(http.StatusBadRequest, "INVALID_KEY", "key is required", nil)
	}
	from, to, err := statsRange(fromValue, toValue, time.Now())
	if err != nil {
		return nil, domainError(http.StatusBadRequest, "INVALID_DATE", "from/to must be YYYY-MM-DD", nil)
	}
	sessions, err := s.store.DetailForGroup(ctx, tenantID, groupBy, key, from, to)
	if err != nil {
		return nil, mapStoreError(err)
	}
	return sessions, nil
}
