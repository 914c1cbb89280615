package notify_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/dossierflow/dossierflow/pkg/apperror"
	"github.com/dossierflow/dossierflow/pkg/eventbus"
	"github.com/dossierflow/dossierflow/pkg/model"
	"github.com/dossierflow/dossierflow/pkg/notify"
	"github.com/dossierflow/dossierflow/pkg/store/postgres"
	"github.com/dossierflow/dossierflow/pkg/store/sqlitetest"
)

type recordingPublisher struct {
	channels []string
	err      error
}

func (p *recordingPublisher) Publish(_ context.Context, channel string, _ eventbus.Event) error {
	p.channels = append(p.channels, channel)
	return p.err
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func setup(t *testing.T, opts ...notify.Option) (*notify.Dispatcher, *postgres.Store, []*model.User) {
	t.Helper()
	store := sqlitetest.Open(t)
	profile := sqlitetest.Profile(t, store, model.ProfileFonctionnaire)
	users := []*model.User{
		sqlitetest.User(t, store, "u1", profile),
		sqlitetest.User(t, store, "u2", profile),
		sqlitetest.User(t, store, "u3", profile),
	}
	return notify.NewDispatcher(store, zap.NewNop(), opts...), store, users
}

func TestRecipients(t *testing.T) {
	got := notify.Recipients([]uint{3, 1, 3, 0, 2, 1}, 2)
	want := []uint{3, 1}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestNotifyManyStoresOnePerRecipient(t *testing.T) {
	publisher := &recordingPublisher{}
	dispatcher, _, users := setup(t, notify.WithPublisher(publisher), notify.WithBatchSize(2))
	ctx := context.Background()

	ids := []uint{users[0].ID, users[1].ID, users[0].ID, users[2].ID}
	created, err := dispatcher.NotifyMany(ctx, ids, notify.Message{Type: model.NotificationDossier, Title: "Nouveau dossier", Body: "Nouveau dossier créé: X"})
	if err != nil {
		t.Fatalf("NotifyMany() error: %v", err)
	}
	if created != 3 {
		t.Fatalf("expected 3 notifications, got %d", created)
	}

	for _, user := range users {
		count, err := dispatcher.UnreadCount(ctx, user.ID)
		if err != nil {
			t.Fatalf("UnreadCount() error: %v", err)
		}
		if count != 1 {
			t.Fatalf("user %d: expected 1 unread, got %d", user.ID, count)
		}
	}

	if len(publisher.channels) != 3 {
		t.Fatalf("expected 3 realtime events, got %d", len(publisher.channels))
	}
	if publisher.channels[0] != eventbus.UserChannel(users[0].ID) {
		t.Fatalf("unexpected channel %q", publisher.channels[0])
	}
}

func TestPublisherFailureDoesNotFailNotify(t *testing.T) {
	dispatcher, _, users := setup(t, notify.WithPublisher(&recordingPublisher{err: errors.New("redis down")}))

	notification, err := dispatcher.Notify(context.Background(), users[0].ID, notify.Message{Body: "hello"})
	if err != nil {
		t.Fatalf("Notify() error: %v", err)
	}
	if notification.Type != model.NotificationInfo {
		t.Fatalf("expected default type info, got %q", notification.Type)
	}
}

func TestNotifyValidates(t *testing.T) {
	dispatcher, _, users := setup(t)

	if _, err := dispatcher.Notify(context.Background(), 0, notify.Message{Body: "x"}); !apperror.Is(err, apperror.KindValidation) {
		t.Fatalf("expected validation error for missing user, got %v", err)
	}
	if _, err := dispatcher.Notify(context.Background(), users[0].ID, notify.Message{}); !apperror.Is(err, apperror.KindValidation) {
		t.Fatalf("expected validation error for empty message, got %v", err)
	}
}

func TestMarkReadIsIdempotent(t *testing.T) {
	c := &clock{t: time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)}
	dispatcher, _, users := setup(t, notify.WithClock(c.now))
	ctx := context.Background()

	n, err := dispatcher.Notify(ctx, users[0].ID, notify.Message{Body: "a"})
	if err != nil {
		t.Fatalf("Notify() error: %v", err)
	}

	c.t = c.t.Add(time.Hour)
	if err := dispatcher.MarkRead(ctx, n.ID); err != nil {
		t.Fatalf("MarkRead() error: %v", err)
	}
	firstRead := c.t

	c.t = c.t.Add(time.Hour)
	if err := dispatcher.MarkRead(ctx, n.ID); err != nil {
		t.Fatalf("second MarkRead() error: %v", err)
	}

	stored, err := dispatcher.Get(ctx, n.ID)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if !stored.IsRead || stored.ReadAt == nil {
		t.Fatal("expected notification to be read")
	}
	if !stored.ReadAt.Equal(firstRead) {
		t.Fatalf("expected read_at %s to be kept, got %s", firstRead, stored.ReadAt)
	}

	if err := dispatcher.MarkRead(ctx, 9999); !apperror.Is(err, apperror.KindNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestMarkAllReadAndDeleteRead(t *testing.T) {
	dispatcher, _, users := setup(t)
	ctx := context.Background()
	owner := users[0].ID

	for i := 0; i < 3; i++ {
		if _, err := dispatcher.Notify(ctx, owner, notify.Message{Body: "x"}); err != nil {
			t.Fatalf("Notify() error: %v", err)
		}
	}
	if _, err := dispatcher.Notify(ctx, users[1].ID, notify.Message{Body: "y"}); err != nil {
		t.Fatalf("Notify() error: %v", err)
	}

	updated, err := dispatcher.MarkAllRead(ctx, owner)
	if err != nil {
		t.Fatalf("MarkAllRead() error: %v", err)
	}
	if updated != 3 {
		t.Fatalf("expected 3 updated, got %d", updated)
	}

	updated, err = dispatcher.MarkAllRead(ctx, owner)
	if err != nil {
		t.Fatalf("MarkAllRead() error: %v", err)
	}
	if updated != 0 {
		t.Fatalf("expected second MarkAllRead to update nothing, got %d", updated)
	}

	deleted, err := dispatcher.DeleteRead(ctx, owner)
	if err != nil {
		t.Fatalf("DeleteRead() error: %v", err)
	}
	if deleted != 3 {
		t.Fatalf("expected 3 deleted, got %d", deleted)
	}

	remaining, _ := dispatcher.Unread(ctx, users[1].ID, 0)
	if len(remaining) != 1 {
		t.Fatalf("expected other user's notification untouched, got %d", len(remaining))
	}
}

func TestRetentionPurgesOldReadNotifications(t *testing.T) {
	c := &clock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	dispatcher, _, users := setup(t, notify.WithClock(c.now))
	ctx := context.Background()

	old, _ := dispatcher.Notify(ctx, users[0].ID, notify.Message{Body: "old"})
	oldUnread, _ := dispatcher.Notify(ctx, users[0].ID, notify.Message{Body: "old unread"})
	if err := dispatcher.MarkRead(ctx, old.ID); err != nil {
		t.Fatalf("MarkRead() error: %v", err)
	}

	c.t = c.t.Add(40 * 24 * time.Hour)
	recent, _ := dispatcher.Notify(ctx, users[0].ID, notify.Message{Body: "recent"})
	if err := dispatcher.MarkRead(ctx, recent.ID); err != nil {
		t.Fatalf("MarkRead() error: %v", err)
	}

	job := notify.NewRetentionJob(dispatcher, zap.NewNop(), "@daily", 30*24*time.Hour)
	job.Run(ctx)

	if _, err := dispatcher.Get(ctx, old.ID); !apperror.Is(err, apperror.KindNotFound) {
		t.Fatalf("expected old read notification purged, got %v", err)
	}
	for _, id := range []uint{oldUnread.ID, recent.ID} {
		if _, err := dispatcher.Get(ctx, id); err != nil {
			t.Fatalf("expected notification %d kept, got %v", id, err)
		}
	}
}

func TestRetentionJobRejectsBadSchedule(t *testing.T) {
	dispatcher, _, _ := setup(t)
	job := notify.NewRetentionJob(dispatcher, zap.NewNop(), "not a schedule", time.Hour)
	if err := job.Start(); err == nil {
		job.Stop()
		t.Fatal("expected invalid schedule error")
	}
}
