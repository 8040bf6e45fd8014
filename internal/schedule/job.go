// Package schedule turns durable records into armed timers and delivers
// them through the gateway when they fire.
package schedule

import (
	"fmt"
	"time"

	"github.com/m3rciful/cbtbot/internal/content"
)

// Kind distinguishes job families. Each family has its own key policy.
type Kind uint8

const (
	// KindBroadcast jobs deliver one committed broadcast to one recipient.
	KindBroadcast Kind = iota + 1
	// KindReminder jobs deliver the webinar reminder to one recipient.
	KindReminder
)

func (k Kind) String() string {
	switch k {
	case KindBroadcast:
		return "broadcast"
	case KindReminder:
		return "reminder"
	default:
		return "unknown"
	}
}

// Key identifies an armed job. Arming a job whose key is already armed
// replaces the earlier job.
type Key struct {
	Kind      Kind
	Recipient int64
	Broadcast int64
}

// BroadcastKey is composite so distinct broadcasts to one recipient coexist.
func BroadcastKey(broadcastID, recipientID int64) Key {
	return Key{Kind: KindBroadcast, Recipient: recipientID, Broadcast: broadcastID}
}

// ReminderKey allows one pending reminder per recipient.
func ReminderKey(recipientID int64) Key {
	return Key{Kind: KindReminder, Recipient: recipientID}
}

func (k Key) String() string {
	if k.Kind == KindBroadcast {
		return fmt.Sprintf("%s:%d:%d", k.Kind, k.Broadcast, k.Recipient)
	}
	return fmt.Sprintf("%s:%d", k.Kind, k.Recipient)
}

// Job is one fire-once delivery.
type Job struct {
	Key    Key
	FireAt time.Time
	// Payload is set for broadcast jobs.
	Payload content.Payload
	// URL is the join link carried by reminder jobs.
	URL string
}
