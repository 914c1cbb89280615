package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/dossierflow/dossierflow/pkg/apperror"
	"github.com/dossierflow/dossierflow/pkg/eventbus"
	"github.com/dossierflow/dossierflow/pkg/metrics"
	"github.com/dossierflow/dossierflow/pkg/model"
	"github.com/dossierflow/dossierflow/pkg/store/postgres"
)

// Message is the content shared by every recipient of one fan-out.
type Message struct {
	Type  string
	Title string
	Body  string
	Link  *string
}

// Publisher pushes realtime copies of stored notifications. It is optional.
type Publisher interface {
	Publish(ctx context.Context, channel string, event eventbus.Event) error
}

type Dispatcher struct {
	store     *postgres.Store
	publisher Publisher
	logger    *zap.Logger
	batchSize int
	now       func() time.Time
}

type Option func(*Dispatcher)

func WithPublisher(publisher Publisher) Option {
	return func(d *Dispatcher) { d.publisher = publisher }
}

func WithBatchSize(size int) Option {
	return func(d *Dispatcher) {
		if size > 0 {
			d.batchSize = size
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

func NewDispatcher(store *postgres.Store, logger *zap.Logger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		store:     store,
		logger:    logger,
		batchSize: 100,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Recipients removes zero ids, duplicates and every excluded id while
// keeping first-seen order.
func Recipients(ids []uint, exclude ...uint) []uint {
	skip := make(map[uint]struct{}, len(exclude)+len(ids))
	for _, id := range exclude {
		skip[id] = struct{}{}
	}
	out := make([]uint, 0, len(ids))
	for _, id := range ids {
		if id == 0 {
			continue
		}
		if _, ok := skip[id]; ok {
			continue
		}
		skip[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func (d *Dispatcher) Notify(ctx context.Context, recipient uint, msg Message) (*model.Notification, error) {
	if recipient == 0 {
		return nil, apperror.Validation("user_id est requis")
	}
	if msg.Body == "" {
		return nil, apperror.Validation("message est requis")
	}
	notification := d.build(recipient, msg)
	if err := postgres.NewNotificationRepository(d.store.DB()).Create(ctx, notification); err != nil {
		metrics.NotificationsTotal.WithLabelValues(msg.Type, "failed").Inc()
		return nil, fmt.Errorf("create notification: %w", err)
	}
	metrics.NotificationsTotal.WithLabelValues(msg.Type, "stored").Inc()
	d.publish(ctx, notification)
	return notification, nil
}

// NotifyMany stores one notification per distinct recipient in batches.
func (d *Dispatcher) NotifyMany(ctx context.Context, recipients []uint, msg Message) (int, error) {
	recipients = Recipients(recipients)
	if len(recipients) == 0 {
		return 0, nil
	}

	notifications := make([]*model.Notification, 0, len(recipients))
	for _, id := range recipients {
		notifications = append(notifications, d.build(id, msg))
	}

	if err := postgres.NewNotificationRepository(d.store.DB()).CreateBatch(ctx, notifications, d.batchSize); err != nil {
		metrics.NotificationsTotal.WithLabelValues(msg.Type, "failed").Add(float64(len(notifications)))
		return 0, fmt.Errorf("create notifications: %w", err)
	}
	metrics.NotificationsTotal.WithLabelValues(msg.Type, "stored").Add(float64(len(notifications)))

	for _, notification := range notifications {
		d.publish(ctx, notification)
	}
	return len(notifications), nil
}

func (d *Dispatcher) build(recipient uint, msg Message) *model.Notification {
	notificationType := msg.Type
	if notificationType == "" {
		notificationType = model.NotificationInfo
	}
	return &model.Notification{
		UserID:    recipient,
		Type:      notificationType,
		Title:     msg.Title,
		Message:   msg.Body,
		Link:      msg.Link,
		CreatedAt: d.now(),
	}
}

func (d *Dispatcher) publish(ctx context.Context, notification *model.Notification) {
	if d.publisher == nil {
		return
	}
	event, err := eventbus.NewEvent(eventbus.EventNotificationCreated, eventbus.NotificationEvent{
		NotificationID: notification.ID,
		UserID:         notification.UserID,
		Type:           notification.Type,
		Title:          notification.Title,
		Message:        notification.Message,
		Link:           notification.Link,
	})
	if err != nil {
		d.logger.Warn("failed to encode notification event", zap.Error(err))
		return
	}
	if err := d.publisher.Publish(ctx, eventbus.UserChannel(notification.UserID), event); err != nil {
		d.logger.Warn("failed to publish notification event",
			zap.Uint("notification_id", notification.ID),
			zap.Uint("user_id", notification.UserID),
			zap.Error(err),
		)
	}
}

func (d *Dispatcher) Get(ctx context.Context, id uint) (*model.Notification, error) {
	notification, err := postgres.NewNotificationRepository(d.store.DB()).GetByID(ctx, id)
	if err != nil {
		return nil, notFound(err, "Notification introuvable")
	}
	return notification, nil
}

func (d *Dispatcher) List(ctx context.Context, userID uint, limit int) ([]model.Notification, error) {
	return postgres.NewNotificationRepository(d.store.DB()).ListForUser(ctx, userID, false, limit)
}

func (d *Dispatcher) Unread(ctx context.Context, userID uint, limit int) ([]model.Notification, error) {
	return postgres.NewNotificationRepository(d.store.DB()).ListForUser(ctx, userID, true, limit)
}

func (d *Dispatcher) UnreadCount(ctx context.Context, userID uint) (int64, error) {
	return postgres.NewNotificationRepository(d.store.DB()).CountUnread(ctx, userID)
}

// MarkRead is idempotent: a notification already read keeps its read time.
func (d *Dispatcher) MarkRead(ctx context.Context, id uint) error {
	err := postgres.NewNotificationRepository(d.store.DB()).MarkRead(ctx, id, d.now())
	return notFound(err, "Notification introuvable")
}

func (d *Dispatcher) MarkAllRead(ctx context.Context, userID uint) (int64, error) {
	return postgres.NewNotificationRepository(d.store.DB()).MarkAllRead(ctx, userID, d.now())
}

func (d *Dispatcher) Delete(ctx context.Context, id uint) error {
	err := postgres.NewNotificationRepository(d.store.DB()).Delete(ctx, id)
	return notFound(err, "Notification introuvable")
}

func (d *Dispatcher) DeleteRead(ctx context.Context, userID uint) (int64, error) {
	return postgres.NewNotificationRepository(d.store.DB()).DeleteRead(ctx, userID)
}

// PurgeRead removes read notifications created more than maxAge ago.
func (d *Dispatcher) PurgeRead(ctx context.Context, maxAge time.Duration) (int64, error) {
	return postgres.NewNotificationRepository(d.store.DB()).PurgeReadBefore(ctx, d.now().Add(-maxAge))
}

func notFound(err error, message string) error {
	if errors.Is(err, postgres.ErrNotFound) {
		return apperror.NotFound(message)
	}
	return err
}
