package dialog

// Button is an inline button. Key is the input key it produces and Data an
// optional argument such as a course id.
type Button struct {
	Text string
	Key  string
	Data string
}

// Screen is one outbound message. The gateway turns it into platform calls.
type Screen struct {
	Text string
	// Media is sent as one album before Text, if set.
	Media []string
	// Reply is a reply keyboard of labels, one slice per row.
	Reply [][]string
	// Inline is an inline keyboard, one slice per row.
	Inline [][]Button
	// RequestContact, when set, is the label of a contact-sharing button.
	RequestContact string
	RemoveKeyboard bool
	// Plain disables HTML formatting, used to echo admin content verbatim.
	Plain bool
}

// Event kinds delivered by the gateway.
type EventKind string

const (
	EventStart    EventKind = "start"
	EventCancel   EventKind = "cancel"
	EventText     EventKind = "text"
	EventContact  EventKind = "contact"
	EventCallback EventKind = "callback"
	EventMedia    EventKind = "media"
)

// Event is one inbound interaction.
type Event struct {
	RecipientID int64
	Kind        EventKind
	// Payload is the text, phone number, media id or callback key.
	Payload string
	// Data is the callback argument.
	Data string
	// MediaGroupID is set for media that arrive as part of an album.
	MediaGroupID string
}
