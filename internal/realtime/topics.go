package realtime

// ── Topic constants ───────────────────────────────────────────────────────────
// Single source of truth for all relay topic strings used across the codebase.
const (
	// Tracking distribution, device to family.
	TopicLocationUpdate = "location_update"

	// Family messaging and alerts.
	TopicNewMessage    = "new_message"
	TopicPanicAlert    = "panic_alert"
	TopicBatteryAlert  = "battery_alert"
	TopicGeofenceAlert = "geofence_alert"
	TopicMemberStatus  = "member_status"

	// Camera session control between viewer and target.
	TopicCameraRequest  = "camera_request"
	TopicCameraAccepted = "camera_accepted"
	TopicCameraRejected = "camera_rejected"
	TopicCameraStopped  = "camera_stopped"

	// Media negotiation, relayed verbatim between the two parties.
	TopicWebRTCOffer  = "webrtc_offer"
	TopicWebRTCAnswer = "webrtc_answer"
	TopicWebRTCICE    = "webrtc_ice_candidate"
)

// Geofence crossing directions carried in GeofenceAlertPayload.Action.
const (
	ActionEnter = "enter"
	ActionExit  = "exit"
)

// ── Payload structs ───────────────────────────────────────────────────────────

// LocationUpdatePayload carries a full position sample plus identity.
type LocationUpdatePayload struct {
	UserID       string  `json:"user_id"`
	UserName     string  `json:"user_name"`
	Latitude     float64 `json:"latitude"`
	Longitude    float64 `json:"longitude"`
	Accuracy     float64 `json:"accuracy"`
	Altitude     float64 `json:"altitude,omitempty"`
	Speed        float64 `json:"speed,omitempty"`
	Heading      float64 `json:"heading,omitempty"`
	BatteryLevel int     `json:"battery_level"`
	IsCharging   bool    `json:"is_charging"`
	CapturedAt   int64   `json:"captured_at"` // Unix milliseconds
}

// NewMessagePayload is a family chat message.
type NewMessagePayload struct {
	SenderID   string `json:"sender_id"`
	SenderName string `json:"sender_name"`
	Text       string `json:"text"`
	Timestamp  int64  `json:"timestamp"`
}

// PanicAlertPayload is an emergency alert with the sender's last position.
type PanicAlertPayload struct {
	UserID    string  `json:"user_id"`
	UserName  string  `json:"user_name"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Timestamp int64   `json:"timestamp"`
}

// BatteryAlertPayload reports a member's battery dropping below the threshold.
type BatteryAlertPayload struct {
	UserID   string `json:"user_id"`
	UserName string `json:"user_name"`
	Level    int    `json:"battery_level"`
}

// GeofenceAlertPayload reports a zone crossing. Action is ActionEnter or
// ActionExit.
type GeofenceAlertPayload struct {
	UserID    string  `json:"user_id"`
	UserName  string  `json:"user_name"`
	ZoneID    string  `json:"zone_id"`
	ZoneName  string  `json:"zone_name"`
	Action    string  `json:"action"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Timestamp int64   `json:"timestamp"`
}

// MemberStatusPayload reports a member going online or offline.
type MemberStatusPayload struct {
	UserID string `json:"user_id"`
	Online bool   `json:"online"`
}

// ── Camera signaling payloads ─────────────────────────────────────────────────
//
// Signaling sequence (viewer = requester, target = responder):
//
//   viewer                            target
//   ──────────────────────────────────────────────────────────
//   camera_request  ────────────────► (consent policy decides)
//                   ◄──────────────── camera_accepted | camera_rejected
//                   ◄──────────────── webrtc_offer  (target sends media)
//   webrtc_answer   ────────────────►
//   webrtc_ice_candidate ◄─────────► webrtc_ice_candidate (trickle, both ways)
//   camera_stopped  ◄──────────────► (either side, any time)

// CameraRequestPayload asks the target to start a live camera session.
// TargetUserID is routing information for the relay; the target itself only
// reads the requester fields.
type CameraRequestPayload struct {
	SessionID     string `json:"session_id"`
	TargetUserID  string `json:"target_user_id"`
	RequesterID   string `json:"requester_id"`
	RequesterName string `json:"requester_name"`
}

// CameraAnswerPayload is shared by camera_accepted, camera_rejected and
// camera_stopped; UserID identifies the party that acted.
type CameraAnswerPayload struct {
	SessionID    string `json:"session_id"`
	TargetUserID string `json:"target_user_id"`
	UserID       string `json:"user_id"`
}

// SDPPayload carries an offer or answer description.
type SDPPayload struct {
	SessionID    string `json:"session_id"`
	TargetUserID string `json:"target_user_id"`
	SDP          string `json:"sdp"`
}

// ICECandidateInit is the standard RTCIceCandidateInit shape (W3C WebRTC).
type ICECandidateInit struct {
	Candidate     string `json:"candidate"`
	SDPMid        string `json:"sdpMid,omitempty"`
	SDPMLineIndex uint16 `json:"sdpMLineIndex"`
}

// ICEPayload carries one trickle ICE candidate.
type ICEPayload struct {
	SessionID    string           `json:"session_id"`
	TargetUserID string           `json:"target_user_id"`
	Candidate    ICECandidateInit `json:"candidate"`
}
