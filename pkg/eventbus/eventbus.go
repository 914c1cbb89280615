package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

type Event struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Timestamp int64           `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

type NotificationEvent struct {
	NotificationID uint    `json:"notification_id"`
	UserID         uint    `json:"user_id"`
	Type           string  `json:"type"`
	Title          string  `json:"title"`
	Message        string  `json:"message"`
	Link           *string `json:"link,omitempty"`
}

type DossierEvent struct {
	DossierID     uint    `json:"num_dossier"`
	Label         string  `json:"libelle_situation"`
	PreviousLabel *string `json:"previous_state,omitempty"`
	ActorID       uint    `json:"id_user"`
}

const (
	EventNotificationCreated = "notification_created"
	EventDossierCreated      = "dossier_created"
	EventDossierStateChanged = "dossier_state_changed"
)

const (
	ChannelDossier           = "df:events:dossier"
	channelUserNotifications = "df:notifications:user:%d"
)

// UserChannel is the per-recipient channel realtime notifications go to.
func UserChannel(userID uint) string {
	return fmt.Sprintf(channelUserNotifications, userID)
}

type Bus struct {
	client redis.UniversalClient
}

func NewBus(client redis.UniversalClient) *Bus {
	return &Bus{client: client}
}

func NewEvent(eventType string, payload interface{}) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}
	return Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Timestamp: time.Now().Unix(),
		Data:      data,
	}, nil
}

func (b *Bus) Publish(ctx context.Context, channel string, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, channel, payload).Err()
}

// Subscribe streams decoded events until ctx is done. Undecodable payloads
// are skipped.
func (b *Bus) Subscribe(ctx context.Context, channels ...string) <-chan *Event {
	sub := b.client.Subscribe(ctx, channels...)
	ch := make(chan *Event, 100)

	go func() {
		defer close(ch)
		for msg := range sub.Channel() {
			var event Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				continue
			}
			select {
			case ch <- &event:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		<-ctx.Done()
		_ = sub.Close()
	}()

	return ch
}
