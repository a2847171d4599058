// Package notify maps domain events onto user-facing notifications. The
// host application supplies both the presentation side (Presenter) and the
// visibility rule (Authorize); the dispatcher only decides what a given
// event should look like and whether it may be shown at all.
package notify

import (
	"fmt"
	"log"

	"github.com/rlacerda/vigia/internal/realtime"
)

// Kind classifies a domain event.
type Kind string

const (
	KindMessage      Kind = "message"
	KindPanic        Kind = "panic"
	KindBattery      Kind = "battery"
	KindGeofence     Kind = "geofence"
	KindMemberStatus Kind = "memberStatus"
	KindTracking     Kind = "tracking"
	KindCall         Kind = "call"
)

// Event is a transient domain event headed for presentation. SubjectID is
// the member the event is about, which the authorization check gates on.
type Event struct {
	Kind        Kind
	SubjectID   string
	SubjectName string
	Title       string
	Body        string
}

// MessageEvent formats an incoming family message.
func MessageEvent(senderID, senderName, text string) Event {
	return Event{
		Kind:        KindMessage,
		SubjectID:   senderID,
		SubjectName: senderName,
		Title:       "New message",
		Body:        fmt.Sprintf("%s: %s", senderName, text),
	}
}

// PanicEvent formats an emergency alert.
func PanicEvent(userID, userName string) Event {
	return Event{
		Kind:        KindPanic,
		SubjectID:   userID,
		SubjectName: userName,
		Title:       "EMERGENCY",
		Body:        fmt.Sprintf("%s pressed the panic button", userName),
	}
}

// BatteryEvent formats a low-battery alert.
func BatteryEvent(userID, userName string, level int) Event {
	return Event{
		Kind:        KindBattery,
		SubjectID:   userID,
		SubjectName: userName,
		Title:       "Low battery",
		Body:        fmt.Sprintf("%s is at %d%% battery", userName, level),
	}
}

// GeofenceEvent formats a zone crossing. Action is realtime.ActionEnter or
// realtime.ActionExit.
func GeofenceEvent(userID, userName, action, zoneName string) Event {
	verb := "entered"
	if action == realtime.ActionExit {
		verb = "left"
	}
	return Event{
		Kind:        KindGeofence,
		SubjectID:   userID,
		SubjectName: userName,
		Title:       "Safe zone",
		Body:        fmt.Sprintf("%s %s %s", userName, verb, zoneName),
	}
}

// StatusEvent formats a member going online or offline.
func StatusEvent(userID string, online bool) Event {
	status := "online"
	if !online {
		status = "offline"
	}
	return Event{
		Kind:      KindMemberStatus,
		SubjectID: userID,
		Title:     "Member status",
		Body:      fmt.Sprintf("%s is %s", userID, status),
	}
}

// TrackingHaltedEvent formats a permanent tracking failure on this device.
// The body tells the user what to do about it.
func TrackingHaltedEvent(userID string) Event {
	return Event{
		Kind:      KindTracking,
		SubjectID: userID,
		Title:     "Tracking stopped",
		Body:      "Location permission denied. Grant location access to resume sharing.",
	}
}

// CallFailedEvent formats a camera session failure on this device.
func CallFailedEvent(userID, remoteID string, err error) Event {
	body := fmt.Sprintf("Camera session with %s failed", remoteID)
	if err != nil {
		body = fmt.Sprintf("%s: %v", body, err)
	}
	return Event{
		Kind:      KindCall,
		SubjectID: userID,
		Title:     "Camera",
		Body:      body,
	}
}

// Notification is what the platform presents. Sticky notifications demand
// attention until dismissed; only emergency-class events set it.
type Notification struct {
	Title  string
	Body   string
	Sticky bool
}

// Presenter triggers platform notification presentation.
type Presenter interface {
	Present(n Notification)
}

// Authorize reports whether the event's subject is visible to the viewer.
type Authorize func(viewerID, subjectID string, kind Kind) bool

// Dispatcher gates and formats events for one viewer.
type Dispatcher struct {
	viewerID  string
	presenter Presenter
	authorize Authorize
	cancels   []func()
}

func NewDispatcher(viewerID string, p Presenter, auth Authorize) *Dispatcher {
	if auth == nil {
		auth = func(string, string, Kind) bool { return false }
	}
	return &Dispatcher{viewerID: viewerID, presenter: p, authorize: auth}
}

// Dispatch gates the event through the authorization predicate and presents
// it. Unauthorized events are dropped silently; that is policy, not an error.
func (d *Dispatcher) Dispatch(ev Event) {
	if !d.authorize(d.viewerID, ev.SubjectID, ev.Kind) {
		return
	}
	n := Notification{
		Title:  ev.Title,
		Body:   ev.Body,
		Sticky: ev.Kind == KindPanic,
	}
	d.presenter.Present(n)
}

// Attach subscribes the dispatcher to every notification-bearing relay
// topic. Detach unsubscribes.
func (d *Dispatcher) Attach(ch realtime.Channel) {
	sub := func(topic string, h realtime.Handler) {
		d.cancels = append(d.cancels, ch.OnMessage(topic, h))
	}

	sub(realtime.TopicNewMessage, func(env realtime.Envelope) {
		var p realtime.NewMessagePayload
		if err := env.Decode(&p); err != nil {
			log.Printf("NOTIFY: bad %s payload: %v", env.Topic, err)
			return
		}
		d.Dispatch(MessageEvent(p.SenderID, p.SenderName, p.Text))
	})

	sub(realtime.TopicPanicAlert, func(env realtime.Envelope) {
		var p realtime.PanicAlertPayload
		if err := env.Decode(&p); err != nil {
			log.Printf("NOTIFY: bad %s payload: %v", env.Topic, err)
			return
		}
		d.Dispatch(PanicEvent(p.UserID, p.UserName))
	})

	sub(realtime.TopicBatteryAlert, func(env realtime.Envelope) {
		var p realtime.BatteryAlertPayload
		if err := env.Decode(&p); err != nil {
			log.Printf("NOTIFY: bad %s payload: %v", env.Topic, err)
			return
		}
		d.Dispatch(BatteryEvent(p.UserID, p.UserName, p.Level))
	})

	sub(realtime.TopicGeofenceAlert, func(env realtime.Envelope) {
		var p realtime.GeofenceAlertPayload
		if err := env.Decode(&p); err != nil {
			log.Printf("NOTIFY: bad %s payload: %v", env.Topic, err)
			return
		}
		d.Dispatch(GeofenceEvent(p.UserID, p.UserName, p.Action, p.ZoneName))
	})

	sub(realtime.TopicMemberStatus, func(env realtime.Envelope) {
		var p realtime.MemberStatusPayload
		if err := env.Decode(&p); err != nil {
			log.Printf("NOTIFY: bad %s payload: %v", env.Topic, err)
			return
		}
		d.Dispatch(StatusEvent(p.UserID, p.Online))
	})
}

// Detach removes all topic subscriptions added by Attach.
func (d *Dispatcher) Detach() {
	for _, cancel := range d.cancels {
		cancel()
	}
	d.cancels = nil
}
