package hub

// Frame is the outbound JSON envelope pushed to sessions. Event is only set
// on sync_update frames.
type Frame struct {
	Type  string `json:"type"`
	Event string `json:"event,omitempty"`
	Data  any    `json:"data,omitempty"`
}

// Frame types on the wire.
const (
	TypePong              = "pong"
	TypeRecognitionResult = "recognition_result"
	TypeSyncUpdate        = "sync_update"
	TypePersonRegistered  = "person_registered"
)

// Pong is the reply to an inbound ping.
func Pong() Frame {
	return Frame{Type: TypePong}
}

// SyncUpdate wraps a state-change event for broadcast to all sessions.
func SyncUpdate(event string, data any) Frame {
	return Frame{Type: TypeSyncUpdate, Event: event, Data: data}
}

// PersonRegistered announces a successful embedding registration.
func PersonRegistered(data any) Frame {
	return Frame{Type: TypePersonRegistered, Data: data}
}
