package schedule

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/m3rciful/cbtbot/internal/content"

	tele "gopkg.in/telebot.v4"
)

// floodingGateway answers the first send with a flood wait.
type floodingGateway struct {
	*fakeGateway
	flooded bool
}

func (g *floodingGateway) SendText(ctx context.Context, rid int64, text string) error {
	if !g.flooded {
		g.flooded = true
		return tele.FloodError{RetryAfter: 0}
	}
	return g.fakeGateway.SendText(ctx, rid, text)
}

type ledgerCalls struct {
	completed []int64
	dropped   []int64
}

func (l *ledgerCalls) CompleteDelivery(_ context.Context, _ int64, recipientID int64) (int, error) {
	l.completed = append(l.completed, recipientID)
	return 0, nil
}

func (l *ledgerCalls) DeleteWebinarSubscription(_ context.Context, recipientID int64) error {
	l.dropped = append(l.dropped, recipientID)
	return nil
}

func TestDelivererHonoursFloodWait(t *testing.T) {
	gw := &floodingGateway{fakeGateway: newFakeGateway()}
	ledger := &ledgerCalls{}
	d := NewDeliverer(gw, ledger, DelivererOptions{})

	d.Fire(context.Background(), Job{
		Key:     BroadcastKey(3, 8),
		Payload: content.Payload{Texts: []string{"hello", "again"}},
	})

	if diff := cmp.Diff([]string{"hello", "again"}, gw.texts[8]); diff != "" {
		t.Fatalf("texts mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int64{8}, ledger.completed); diff != "" {
		t.Fatalf("ledger mismatch (-want +got):\n%s", diff)
	}
}

func TestDelivererReminderClearsSubscription(t *testing.T) {
	gw := newFakeGateway()
	gw.failOn[5] = true
	ledger := &ledgerCalls{}
	d := NewDeliverer(gw, ledger, DelivererOptions{RatePerSecond: 100})

	d.Fire(context.Background(), Job{Key: ReminderKey(5), URL: "https://meet.example/w"})
	d.Fire(context.Background(), Job{Key: ReminderKey(6), URL: "https://meet.example/w"})

	if diff := cmp.Diff([]int64{5, 6}, ledger.dropped); diff != "" {
		t.Fatalf("dropped mismatch (-want +got):\n%s", diff)
	}
	want := []string{"The webinar is about to start. Join here: https://meet.example/w"}
	if diff := cmp.Diff(want, gw.texts[6]); diff != "" {
		t.Fatalf("reminder mismatch (-want +got):\n%s", diff)
	}
}
