package live

// EventType classifies the inbound events a [Session] delivers on its
// Events channel. Each server message maps deterministically to exactly one
// event variant; the consumer (the session controller) dispatches on the
// type rather than on raw protocol frames.
type EventType int

const (
	// EventOpened signals that the service acknowledged the setup message
	// and the session moved to [StateConnected].
	EventOpened EventType = iota

	// EventAudio carries one chunk of synthesized speech: raw 16-bit
	// little-endian PCM (already base64-decoded) plus its mime descriptor.
	EventAudio

	// EventInterrupted signals that the user spoke over the model and all
	// scheduled playback must stop immediately.
	EventInterrupted

	// EventError signals a connection-level failure; the session is in
	// [StateError] and will produce no further audio.
	EventError

	// EventClosed signals that the session ended and the Events channel is
	// about to close.
	EventClosed
)

// String returns the human-readable name of the event type.
func (t EventType) String() string {
	switch t {
	case EventOpened:
		return "OPENED"
	case EventAudio:
		return "AUDIO"
	case EventInterrupted:
		return "INTERRUPTED"
	case EventError:
		return "ERROR"
	case EventClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// Event is one tagged inbound event. Only the fields relevant to Type are
// populated.
type Event struct {
	Type EventType

	// Audio is the decoded PCM payload for EventAudio.
	Audio []byte

	// MIMEType is the format descriptor accompanying EventAudio, e.g.
	// "audio/pcm;rate=24000".
	MIMEType string

	// Err is the failure for EventError.
	Err error
}
