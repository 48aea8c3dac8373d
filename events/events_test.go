package events_test

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap/zaptest"

	"github.com/jt05610/drawbot/events"
	"github.com/jt05610/drawbot/machine"
)

type published struct {
	exchange, key string
	msg           amqp.Publishing
}

type fakeChannel struct {
	sent []published
	err  error
}

func (f *fakeChannel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, published{exchange, key, msg})
	return nil
}

func TestPublisher(t *testing.T) {
	ch := &fakeChannel{}
	p := events.NewPublisher(ch, "", "Drawing Machine", zaptest.NewLogger(t))
	p.Observe(context.Background(), machine.Event{
		Kind:   machine.MoveDispatched,
		MoveID: "42",
		Target: []float64{10, 10, 0},
		Steps:  []int64{1000, 0},
	})
	p.Observe(context.Background(), machine.Event{
		Kind:    machine.MoveFailed,
		MoveID:  "43",
		Elapsed: 3 * time.Millisecond,
		Err:     errors.New("no reply"),
	})
	if len(ch.sent) != 2 {
		t.Fatalf("expected 2 publishings, got %d", len(ch.sent))
	}
	first := ch.sent[0]
	if first.exchange != events.DefaultExchange || first.key != "Drawing_Machine.move.dispatched" {
		t.Fatalf("unexpected destination %s %s", first.exchange, first.key)
	}
	if first.msg.Headers["x-event-id"] != "42" || first.msg.Headers["x-event-name"] != "move.dispatched" {
		t.Fatalf("unexpected headers %v", first.msg.Headers)
	}
	var body events.Body
	if err := json.Unmarshal(first.msg.Body, &body); err != nil {
		t.Fatal(err)
	}
	if body.Move != "42" || len(body.Steps) != 2 || body.Steps[0] != 1000 {
		t.Fatalf("unexpected body %+v", body)
	}
	if err := json.Unmarshal(ch.sent[1].msg.Body, &body); err != nil {
		t.Fatal(err)
	}
	if body.Error != "no reply" || body.Elapsed != "3ms" {
		t.Fatalf("unexpected failure body %+v", body)
	}
}

func TestPublisher_Failure(t *testing.T) {
	ch := &fakeChannel{err: errors.New("channel closed")}
	p := events.NewPublisher(ch, "x", "m", zaptest.NewLogger(t))
	// must not panic or block
	p.Observe(context.Background(), machine.Event{Kind: machine.MoveCommitted, MoveID: "1"})
}

func TestDial(t *testing.T) {
	uri, ok := os.LookupEnv("RABBITMQ_URI")
	if !ok {
		t.Skip("RABBITMQ_URI not set")
	}
	conn, err := events.Dial(uri, "drawbot_test")
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	p := events.NewPublisher(conn.Channel, "drawbot_test", "test", zaptest.NewLogger(t))
	p.Observe(context.Background(), machine.Event{Kind: machine.MoveCommitted, MoveID: "1"})
}
