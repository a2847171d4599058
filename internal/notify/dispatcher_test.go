package notify

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/rlacerda/vigia/internal/realtime"
)

type recordingPresenter struct {
	mu   sync.Mutex
	seen []Notification
}

func (p *recordingPresenter) Present(n Notification) {
	p.mu.Lock()
	p.seen = append(p.seen, n)
	p.mu.Unlock()
}

func (p *recordingPresenter) all() []Notification {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Notification(nil), p.seen...)
}

func allowAll(string, string, Kind) bool { return true }

func TestDispatchGatesOnAuthorization(t *testing.T) {
	p := &recordingPresenter{}
	d := NewDispatcher("viewer", p, func(viewerID, subjectID string, kind Kind) bool {
		return subjectID == "child-1"
	})

	d.Dispatch(Event{Kind: KindGeofence, SubjectID: "child-1", Title: "Safe zone", Body: "ok"})
	d.Dispatch(Event{Kind: KindGeofence, SubjectID: "stranger", Title: "Safe zone", Body: "no"})

	got := p.all()
	if len(got) != 1 {
		t.Fatalf("presented %d notifications, want 1", len(got))
	}
	if got[0].Body != "ok" {
		t.Errorf("body = %q", got[0].Body)
	}
}

func TestDispatchDefaultDeniesEverything(t *testing.T) {
	p := &recordingPresenter{}
	d := NewDispatcher("viewer", p, nil)

	d.Dispatch(Event{Kind: KindPanic, SubjectID: "child-1"})
	if len(p.all()) != 0 {
		t.Fatal("nil authorize presented a notification")
	}
}

func TestOnlyPanicIsSticky(t *testing.T) {
	p := &recordingPresenter{}
	d := NewDispatcher("viewer", p, allowAll)

	d.Dispatch(Event{Kind: KindPanic, SubjectID: "a"})
	d.Dispatch(Event{Kind: KindBattery, SubjectID: "a"})
	d.Dispatch(Event{Kind: KindGeofence, SubjectID: "a"})

	got := p.all()
	if len(got) != 3 {
		t.Fatalf("presented %d, want 3", len(got))
	}
	if !got[0].Sticky {
		t.Error("panic notification not sticky")
	}
	if got[1].Sticky || got[2].Sticky {
		t.Error("non-panic notification sticky")
	}
}

func TestAttachFormatsRelayEvents(t *testing.T) {
	hub := realtime.NewMemHub()
	child := hub.Channel("child-1")
	parent := hub.Channel("parent")
	child.Connect(context.Background())
	parent.Connect(context.Background())

	p := &recordingPresenter{}
	d := NewDispatcher("parent", p, allowAll)
	d.Attach(parent)
	defer d.Detach()

	child.Send(realtime.TopicGeofenceAlert, realtime.GeofenceAlertPayload{
		UserID: "child-1", UserName: "Ana", ZoneName: "School", Action: realtime.ActionExit,
	})
	child.Send(realtime.TopicBatteryAlert, realtime.BatteryAlertPayload{
		UserID: "child-1", UserName: "Ana", Level: 15,
	})
	child.Send(realtime.TopicPanicAlert, realtime.PanicAlertPayload{
		UserID: "child-1", UserName: "Ana",
	})

	got := p.all()
	if len(got) != 3 {
		t.Fatalf("presented %d, want 3", len(got))
	}
	if !strings.Contains(got[0].Body, "Ana left School") {
		t.Errorf("geofence body = %q", got[0].Body)
	}
	if !strings.Contains(got[1].Body, "15%") {
		t.Errorf("battery body = %q", got[1].Body)
	}
	if got[2].Title != "EMERGENCY" || !got[2].Sticky {
		t.Errorf("panic notification = %+v", got[2])
	}
}

func TestDetachStopsDelivery(t *testing.T) {
	hub := realtime.NewMemHub()
	child := hub.Channel("child-1")
	parent := hub.Channel("parent")
	child.Connect(context.Background())
	parent.Connect(context.Background())

	p := &recordingPresenter{}
	d := NewDispatcher("parent", p, allowAll)
	d.Attach(parent)

	child.Send(realtime.TopicNewMessage, realtime.NewMessagePayload{SenderID: "child-1", Text: "hi"})
	d.Detach()
	child.Send(realtime.TopicNewMessage, realtime.NewMessagePayload{SenderID: "child-1", Text: "bye"})

	if n := len(p.all()); n != 1 {
		t.Fatalf("presented %d, want 1", n)
	}
}

func TestEventConstructors(t *testing.T) {
	cases := []struct {
		name string
		ev   Event
		kind Kind
		body string
	}{
		{"geofence enter", GeofenceEvent("u1", "Ana", realtime.ActionEnter, "School"), KindGeofence, "Ana entered School"},
		{"geofence exit", GeofenceEvent("u1", "Ana", realtime.ActionExit, "School"), KindGeofence, "Ana left School"},
		{"battery", BatteryEvent("u1", "Ana", 15), KindBattery, "Ana is at 15% battery"},
		{"panic", PanicEvent("u1", "Ana"), KindPanic, "Ana pressed the panic button"},
		{"status", StatusEvent("u1", false), KindMemberStatus, "u1 is offline"},
		{"call failed", CallFailedEvent("u1", "u2", errors.New("negotiation failed")), KindCall, "Camera session with u2 failed: negotiation failed"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if tc.ev.Kind != tc.kind {
				t.Errorf("kind = %s, want %s", tc.ev.Kind, tc.kind)
			}
			if tc.ev.Body != tc.body {
				t.Errorf("body = %q, want %q", tc.ev.Body, tc.body)
			}
		})
	}
}

func TestTrackingHaltedEventIsActionable(t *testing.T) {
	ev := TrackingHaltedEvent("u1")
	if ev.Kind != KindTracking {
		t.Errorf("kind = %s", ev.Kind)
	}
	// The user must be told how to recover, not just that it broke.
	if !strings.Contains(ev.Body, "Grant location access") {
		t.Errorf("body = %q", ev.Body)
	}
}
