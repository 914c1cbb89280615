package eventbus

import (
	"encoding/json"
	"testing"
)

func TestNewEventEncodesPayload(t *testing.T) {
	link := "/dossiers/7"
	event, err := NewEvent(EventNotificationCreated, NotificationEvent{NotificationID: 3, UserID: 9, Type: "dossier", Link: &link})
	if err != nil {
		t.Fatalf("NewEvent() error: %v", err)
	}
	if event.ID == "" {
		t.Fatal("expected event id")
	}
	if event.Type != EventNotificationCreated {
		t.Fatalf("unexpected type %q", event.Type)
	}

	var decoded NotificationEvent
	if err := json.Unmarshal(event.Data, &decoded); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	if decoded.UserID != 9 || decoded.Link == nil || *decoded.Link != link {
		t.Fatalf("unexpected payload %+v", decoded)
	}
}

func TestUserChannel(t *testing.T) {
	if got := UserChannel(12); got != "df:notifications:user:12" {
		t.Fatalf("unexpected channel %q", got)
	}
}
