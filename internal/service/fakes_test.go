package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/sosbrian/microsoft-teams-apps-company-communicator-sub002/internal/channel"
	"github.com/sosbrian/microsoft-teams-apps-company-communicator-sub002/internal/domain"
	"github.com/sosbrian/microsoft-teams-apps-company-communicator-sub002/internal/queue"
	"github.com/sosbrian/microsoft-teams-apps-company-communicator-sub002/internal/repository"
)

type fakeNotificationRepo struct {
	createFn                 func(ctx context.Context, n *domain.Notification) error
	getByIDFn                func(ctx context.Context, id string) (*domain.Notification, error)
	listFn                   func(ctx context.Context, params repository.ListParams) ([]domain.Notification, int64, error)
	promoteDraftFn           func(ctx context.Context, draftID string, newID string, now time.Time) (*domain.Notification, error)
	setTotalRecipientCountFn func(ctx context.Context, id string, total int) error
	updateStatusFn           func(ctx context.Context, id string, status domain.Status) error
	resolveRecipientFn       func(ctx context.Context, status *domain.RecipientStatus, delta repository.DeliveryDelta, now time.Time) (*domain.Status, error)
	appendErrorMessageFn     func(ctx context.Context, id string, message string) error
	appendWarningMessageFn   func(ctx context.Context, id string, message string) error
	getDueForExpiryFn        func(ctx context.Context, now time.Time, limit int) ([]domain.Notification, error)
	markContentErasedFn      func(ctx context.Context, id string) (bool, error)
}

func (f *fakeNotificationRepo) Create(ctx context.Context, n *domain.Notification) error {
	if f.createFn != nil {
		return f.createFn(ctx, n)
	}
	return nil
}

func (f *fakeNotificationRepo) GetByID(ctx context.Context, id string) (*domain.Notification, error) {
	if f.getByIDFn != nil {
		return f.getByIDFn(ctx, id)
	}
	return nil, domain.ErrNotFound
}

func (f *fakeNotificationRepo) List(ctx context.Context, params repository.ListParams) ([]domain.Notification, int64, error) {
	if f.listFn != nil {
		return f.listFn(ctx, params)
	}
	return nil, 0, nil
}

func (f *fakeNotificationRepo) PromoteDraft(ctx context.Context, draftID string, newID string, now time.Time) (*domain.Notification, error) {
	if f.promoteDraftFn != nil {
		return f.promoteDraftFn(ctx, draftID, newID, now)
	}
	return nil, domain.ErrNotFound
}

func (f *fakeNotificationRepo) SetTotalRecipientCount(ctx context.Context, id string, total int) error {
	if f.setTotalRecipientCountFn != nil {
		return f.setTotalRecipientCountFn(ctx, id, total)
	}
	return nil
}

func (f *fakeNotificationRepo) UpdateStatus(ctx context.Context, id string, status domain.Status) error {
	if f.updateStatusFn != nil {
		return f.updateStatusFn(ctx, id, status)
	}
	return nil
}

func (f *fakeNotificationRepo) ResolveRecipient(ctx context.Context, status *domain.RecipientStatus, delta repository.DeliveryDelta, now time.Time) (*domain.Status, error) {
	if f.resolveRecipientFn != nil {
		return f.resolveRecipientFn(ctx, status, delta, now)
	}
	return nil, nil
}

func (f *fakeNotificationRepo) AppendErrorMessage(ctx context.Context, id string, message string) error {
	if f.appendErrorMessageFn != nil {
		return f.appendErrorMessageFn(ctx, id, message)
	}
	return nil
}

func (f *fakeNotificationRepo) AppendWarningMessage(ctx context.Context, id string, message string) error {
	if f.appendWarningMessageFn != nil {
		return f.appendWarningMessageFn(ctx, id, message)
	}
	return nil
}

func (f *fakeNotificationRepo) GetDueForExpiry(ctx context.Context, now time.Time, limit int) ([]domain.Notification, error) {
	if f.getDueForExpiryFn != nil {
		return f.getDueForExpiryFn(ctx, now, limit)
	}
	return nil, nil
}

func (f *fakeNotificationRepo) MarkContentErased(ctx context.Context, id string) (bool, error) {
	if f.markContentErasedFn != nil {
		return f.markContentErasedFn(ctx, id)
	}
	return false, nil
}

type fakeDraftRepo struct {
	createFn  func(ctx context.Context, d *domain.Draft) error
	getByIDFn func(ctx context.Context, id string) (*domain.Draft, error)
	deleteFn  func(ctx context.Context, id string) error
}

func (f *fakeDraftRepo) Create(ctx context.Context, d *domain.Draft) error {
	if f.createFn != nil {
		return f.createFn(ctx, d)
	}
	return nil
}

func (f *fakeDraftRepo) GetByID(ctx context.Context, id string) (*domain.Draft, error) {
	if f.getByIDFn != nil {
		return f.getByIDFn(ctx, id)
	}
	return nil, domain.ErrNotFound
}

func (f *fakeDraftRepo) Delete(ctx context.Context, id string) error {
	if f.deleteFn != nil {
		return f.deleteFn(ctx, id)
	}
	return nil
}

type fakeRecipientRepo struct {
	getFn                  func(ctx context.Context, notificationID string, recipientID string) (*domain.RecipientStatus, error)
	upsertFn               func(ctx context.Context, status *domain.RecipientStatus) error
	batchInsertInitialFn   func(ctx context.Context, statuses []*domain.RecipientStatus) []repository.InsertFailure
	isPendingFn            func(ctx context.Context, notificationID string, recipientID string) (bool, error)
	listWithLiveHandleFn   func(ctx context.Context, notificationID string, afterRecipientID string, limit int) ([]domain.RecipientStatus, error)
	countPendingFn         func(ctx context.Context, notificationID string) (int64, error)
	updateSurveyResponseFn func(ctx context.Context, notificationID string, recipientID string, response domain.SurveyResponse) error
}

func (f *fakeRecipientRepo) Get(ctx context.Context, notificationID string, recipientID string) (*domain.RecipientStatus, error) {
	if f.getFn != nil {
		return f.getFn(ctx, notificationID, recipientID)
	}
	return nil, domain.ErrNotFound
}

func (f *fakeRecipientRepo) Upsert(ctx context.Context, status *domain.RecipientStatus) error {
	if f.upsertFn != nil {
		return f.upsertFn(ctx, status)
	}
	return nil
}

func (f *fakeRecipientRepo) BatchInsertInitial(ctx context.Context, statuses []*domain.RecipientStatus) []repository.InsertFailure {
	if f.batchInsertInitialFn != nil {
		return f.batchInsertInitialFn(ctx, statuses)
	}
	return nil
}

func (f *fakeRecipientRepo) IsPending(ctx context.Context, notificationID string, recipientID string) (bool, error) {
	if f.isPendingFn != nil {
		return f.isPendingFn(ctx, notificationID, recipientID)
	}
	return false, nil
}

func (f *fakeRecipientRepo) ListWithLiveHandle(ctx context.Context, notificationID string, afterRecipientID string, limit int) ([]domain.RecipientStatus, error) {
	if f.listWithLiveHandleFn != nil {
		return f.listWithLiveHandleFn(ctx, notificationID, afterRecipientID, limit)
	}
	return nil, nil
}

func (f *fakeRecipientRepo) CountPending(ctx context.Context, notificationID string) (int64, error) {
	if f.countPendingFn != nil {
		return f.countPendingFn(ctx, notificationID)
	}
	return 0, nil
}

func (f *fakeRecipientRepo) UpdateSurveyResponse(ctx context.Context, notificationID string, recipientID string, response domain.SurveyResponse) error {
	if f.updateSurveyResponseFn != nil {
		return f.updateSurveyResponseFn(ctx, notificationID, recipientID, response)
	}
	return nil
}

type fakePublisher struct {
	mu             sync.Mutex
	published      []queue.DispatchMessage
	delayed        []queue.DispatchMessage
	publishFn      func(ctx context.Context, msg queue.DispatchMessage) error
	publishDelayFn func(ctx context.Context, msg queue.DispatchMessage, delay time.Duration) error
}

func (f *fakePublisher) Publish(ctx context.Context, msg queue.DispatchMessage) error {
	if f.publishFn != nil {
		if err := f.publishFn(ctx, msg); err != nil {
			return err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, msg)
	return nil
}

func (f *fakePublisher) PublishDelayed(ctx context.Context, msg queue.DispatchMessage, delay time.Duration) error {
	if f.publishDelayFn != nil {
		if err := f.publishDelayFn(ctx, msg, delay); err != nil {
			return err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delayed = append(f.delayed, msg)
	return nil
}

func (f *fakePublisher) Close() error {
	return nil
}

type fakeConsumer struct {
	consumeFn func(ctx context.Context, handler queue.MessageHandler) error
}

func (f *fakeConsumer) Consume(ctx context.Context, handler queue.MessageHandler) error {
	if f.consumeFn != nil {
		return f.consumeFn(ctx, handler)
	}
	return nil
}

func (f *fakeConsumer) Close() error {
	return nil
}

type fakeSender struct {
	mu     sync.Mutex
	calls  int
	sendFn func(ctx context.Context, msg channel.Message, maxAttempts int) (channel.SendResult, error)
}

func (f *fakeSender) Send(ctx context.Context, msg channel.Message, maxAttempts int) (channel.SendResult, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	if f.sendFn != nil {
		return f.sendFn(ctx, msg, maxAttempts)
	}
	return channel.SendResult{
		Type:           channel.ResultSucceeded,
		StatusCode:     201,
		AllStatusCodes: []int{201},
		ActivityID:     "activity-" + msg.ConversationID,
	}, nil
}

func (f *fakeSender) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeReplacer struct {
	replaceFn func(ctx context.Context, serviceURL, conversationID, activityID, content string) error
}

func (f *fakeReplacer) ReplaceDeliveredContent(ctx context.Context, serviceURL, conversationID, activityID, content string) error {
	if f.replaceFn != nil {
		return f.replaceFn(ctx, serviceURL, conversationID, activityID, content)
	}
	return nil
}

// fakeThrottle mirrors the shared throttle deadline against an injectable clock.
type fakeThrottle struct {
	mu    sync.Mutex
	now   func() time.Time
	until time.Time
	sets  int
}

func (f *fakeThrottle) IsThrottled(ctx context.Context) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now().Before(f.until)
}

func (f *fakeThrottle) SetThrottled(ctx context.Context, delay time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sets++
	if until := f.now().Add(delay); until.After(f.until) {
		f.until = until
	}
}

// memoryNotifications is an in-memory aggregate store with the same counter and roll-up rules as the gorm store.
// ResolveRecipient writes through to recipients so both stores change together.
type memoryNotifications struct {
	fakeNotificationRepo

	mu         sync.Mutex
	rows       map[string]*domain.Notification
	recipients *memoryRecipients
	// resolveErr, when set, runs before each ResolveRecipient and aborts it on error.
	resolveErr func() error
}

func newMemoryNotifications(notifications ...*domain.Notification) *memoryNotifications {
	m := &memoryNotifications{rows: make(map[string]*domain.Notification)}
	for _, n := range notifications {
		m.rows[n.ID] = n
	}
	return m
}

func (m *memoryNotifications) GetByID(ctx context.Context, id string) (*domain.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n, ok := m.rows[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	copied := *n
	return &copied, nil
}

func (m *memoryNotifications) ResolveRecipient(ctx context.Context, status *domain.RecipientStatus, delta repository.DeliveryDelta, now time.Time) (*domain.Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.resolveErr != nil {
		if err := m.resolveErr(); err != nil {
			return nil, err
		}
	}

	n, ok := m.rows[status.NotificationID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if m.recipients != nil {
		if current := m.recipients.row(status.NotificationID, status.RecipientID); current != nil && !current.IsPending() {
			return nil, domain.ErrConflict
		}
	}
	if n.SucceededCount+n.FailedCount+delta.Succeeded+delta.Failed > n.TotalRecipientCount {
		return nil, domain.ErrConflict
	}

	if m.recipients != nil {
		if err := m.recipients.Upsert(ctx, status); err != nil {
			return nil, err
		}
	}
	n.SucceededCount += delta.Succeeded
	n.FailedCount += delta.Failed
	n.ThrottledCount += delta.Throttled
	if delta.Succeeded+delta.Failed == 0 {
		return nil, nil
	}

	final, done := domain.RollUp(n.SucceededCount, n.FailedCount, n.TotalRecipientCount)
	if !done || n.Status.IsFinal() {
		return nil, nil
	}
	n.Status = final
	return &final, nil
}

func (m *memoryNotifications) setStatus(id string, status domain.Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[id].Status = status
}

func (m *memoryNotifications) MarkContentErased(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n, ok := m.rows[id]
	if !ok || n.Expiry.IsExpiredContentErased {
		return false, nil
	}
	n.Expiry.IsExpiredContentErased = true
	n.Content = ""
	return true, nil
}

func (m *memoryNotifications) GetDueForExpiry(ctx context.Context, now time.Time, limit int) ([]domain.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var due []domain.Notification
	for _, n := range m.rows {
		if n.Status.IsFinal() && n.Expiry.IsDue(now) {
			due = append(due, *n)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].ID < due[j].ID })
	if len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

// memoryRecipients is an in-memory status store that counts writes.
type memoryRecipients struct {
	fakeRecipientRepo

	mu      sync.Mutex
	rows    map[string]*domain.RecipientStatus
	upserts int
}

func newMemoryRecipients(rows ...*domain.RecipientStatus) *memoryRecipients {
	m := &memoryRecipients{rows: make(map[string]*domain.RecipientStatus)}
	for _, r := range rows {
		m.rows[r.NotificationID+"/"+r.RecipientID] = r
	}
	return m
}

func (m *memoryRecipients) Get(ctx context.Context, notificationID string, recipientID string) (*domain.RecipientStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.rows[notificationID+"/"+recipientID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	copied := *r
	copied.StatusCodeHistory = append([]int(nil), r.StatusCodeHistory...)
	return &copied, nil
}

func (m *memoryRecipients) Upsert(ctx context.Context, status *domain.RecipientStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	copied := *status
	copied.StatusCodeHistory = append([]int(nil), status.StatusCodeHistory...)
	m.rows[status.NotificationID+"/"+status.RecipientID] = &copied
	m.upserts++
	return nil
}

func (m *memoryRecipients) IsPending(ctx context.Context, notificationID string, recipientID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.rows[notificationID+"/"+recipientID]
	if !ok {
		return false, nil
	}
	return r.IsPending(), nil
}

func (m *memoryRecipients) ListWithLiveHandle(ctx context.Context, notificationID string, afterRecipientID string, limit int) ([]domain.RecipientStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var rows []domain.RecipientStatus
	for _, r := range m.rows {
		if r.NotificationID == notificationID && r.RecipientID > afterRecipientID && r.HasLiveHandle() {
			rows = append(rows, *r)
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].RecipientID < rows[j].RecipientID })
	if len(rows) > limit {
		rows = rows[:limit]
	}
	return rows, nil
}

func (m *memoryRecipients) Upserts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.upserts
}

func (m *memoryRecipients) row(notificationID, recipientID string) *domain.RecipientStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rows[notificationID+"/"+recipientID]
}

var (
	_ repository.NotificationRepository    = (*fakeNotificationRepo)(nil)
	_ repository.DraftRepository           = (*fakeDraftRepo)(nil)
	_ repository.RecipientStatusRepository = (*fakeRecipientRepo)(nil)
	_ repository.NotificationRepository    = (*memoryNotifications)(nil)
	_ repository.RecipientStatusRepository = (*memoryRecipients)(nil)
	_ queue.Publisher                      = (*fakePublisher)(nil)
	_ queue.Consumer                       = (*fakeConsumer)(nil)
	_ channel.Sender                       = (*fakeSender)(nil)
	_ channel.ContentReplacer              = (*fakeReplacer)(nil)
	_ ThrottleGate                         = (*fakeThrottle)(nil)
)
