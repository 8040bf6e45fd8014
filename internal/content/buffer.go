// Package content accumulates the ordered text and media parts of a broadcast
// while an admin composes it.
package content

import "errors"

// ErrFrozen is returned by Append once Stop has frozen the buffer.
var ErrFrozen = errors.New("content: buffer is frozen")

// Kind distinguishes plain text parts from media references.
type Kind string

const (
	KindText  Kind = "text"
	KindMedia Kind = "media"
)

// Item is one composed part. For media, Value holds the platform file id.
type Item struct {
	Kind  Kind
	Value string
}

// Text builds a text item.
func Text(s string) Item { return Item{Kind: KindText, Value: s} }

// Media builds a media item.
func Media(fileID string) Item { return Item{Kind: KindMedia, Value: fileID} }

// Payload is a frozen buffer split by kind, each slice in composition order.
type Payload struct {
	Texts []string
	Media []string
}

// Empty reports whether the payload carries nothing to deliver.
func (p Payload) Empty() bool { return len(p.Texts) == 0 && len(p.Media) == 0 }

// Buffer is session scoped and is not safe for concurrent use; the dialog
// engine serializes access per session.
type Buffer struct {
	items  []Item
	active bool
	frozen bool
}

// Begin resets the buffer to an empty, writable sequence.
func (b *Buffer) Begin() {
	b.items = nil
	b.active = true
	b.frozen = false
}

// Restart discards everything and starts over. It is Begin under another name
// so call sites read like the flow they implement.
func (b *Buffer) Restart() { b.Begin() }

// Append adds item at the end. Appending to an idle buffer begins it.
func (b *Buffer) Append(item Item) error {
	if b.frozen {
		return ErrFrozen
	}
	if !b.active {
		b.Begin()
	}
	b.items = append(b.items, item)
	return nil
}

// Stop freezes the sequence for review and returns a copy of it.
func (b *Buffer) Stop() []Item {
	b.frozen = true
	return b.Items()
}

// Items returns a copy of the accumulated sequence.
func (b *Buffer) Items() []Item {
	if len(b.items) == 0 {
		return nil
	}
	out := make([]Item, len(b.items))
	copy(out, b.items)
	return out
}

// Len returns the number of accumulated items.
func (b *Buffer) Len() int { return len(b.items) }

// Empty reports whether nothing has been appended since Begin.
func (b *Buffer) Empty() bool { return len(b.items) == 0 }

// Active reports whether Begin was called.
func (b *Buffer) Active() bool { return b.active }

// Frozen reports whether Stop was called since the last Begin.
func (b *Buffer) Frozen() bool { return b.frozen }

// Payload splits the sequence by kind.
func (b *Buffer) Payload() Payload {
	var p Payload
	for _, it := range b.items {
		switch it.Kind {
		case KindText:
			p.Texts = append(p.Texts, it.Value)
		case KindMedia:
			p.Media = append(p.Media, it.Value)
		}
	}
	return p
}
