package store

import "time"

// ScheduledBroadcast is a committed broadcast that still has recipients
// waiting for delivery.
type ScheduledBroadcast struct {
	ID       int64
	FireAt   time.Time
	FireTime string
	Texts    []string
	Media    []string
	// Pending lists recipients the broadcast has not been attempted for yet.
	Pending []int64
}

// WebinarSchedule is the single announced webinar.
type WebinarSchedule struct {
	FireAt   time.Time
	FireTime string
	URL      string
}

// WebinarSubscription is a pending reminder for one recipient.
type WebinarSubscription struct {
	RecipientID int64
	FireAt      time.Time
	URL         string
}

// PurgeResult reports how many consumed records a purge removed.
type PurgeResult struct {
	Broadcasts    int64
	Subscriptions int64
}

type broadcastRow struct {
	ID           int64  `db:"id"`
	FireAt       int64  `db:"fire_at"`
	FireTime     string `db:"fire_time"`
	TextPayload  string `db:"text_payload"`
	MediaPayload string `db:"media_payload"`
}

type deliveryRow struct {
	BroadcastID int64 `db:"broadcast_id"`
	RecipientID int64 `db:"recipient_id"`
}

type webinarRow struct {
	FireAt   int64  `db:"fire_at"`
	FireTime string `db:"fire_time"`
	URL      string `db:"join_url"`
}

type subscriptionRow struct {
	RecipientID int64  `db:"recipient_id"`
	FireAt      int64  `db:"fire_at"`
	URL         string `db:"join_url"`
}
