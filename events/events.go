// Package events publishes move lifecycle events to an AMQP exchange.
package events

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/jt05610/drawbot/machine"
)

var _ machine.Observer = (*Publisher)(nil)

// DefaultExchange is the topic exchange events are published to.
const DefaultExchange = "drawbot"

// Channel is the subset of *amqp.Channel used for publishing.
type Channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// Body is the JSON payload of every event.
type Body struct {
	Move    string    `json:"move"`
	Target  []float64 `json:"target,omitempty"`
	Steps   []int64   `json:"steps,omitempty"`
	Polls   int       `json:"polls,omitempty"`
	Elapsed string    `json:"elapsed,omitempty"`
	Error   string    `json:"error,omitempty"`
}

// RoutingKey is "<machine>.<kind>", for example "DrawingMachine.move.committed".
func RoutingKey(machineName string, kind machine.EventKind) string {
	name := strings.ReplaceAll(machineName, " ", "_")
	if name == "" {
		name = "machine"
	}
	return name + "." + string(kind)
}

// Flush encodes e as a persistent JSON publishing.
func Flush(e machine.Event) (amqp.Publishing, error) {
	body := Body{Move: e.MoveID, Target: e.Target, Steps: e.Steps, Polls: e.Polls}
	if e.Elapsed > 0 {
		body.Elapsed = e.Elapsed.String()
	}
	if e.Err != nil {
		body.Error = e.Err.Error()
	}
	bytes, err := json.Marshal(&body)
	if err != nil {
		return amqp.Publishing{}, err
	}
	return amqp.Publishing{
		Body:         bytes,
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		Headers: amqp.Table{
			"x-event-name": string(e.Kind),
			"x-event-id":   e.MoveID,
		},
	}, nil
}

// Publisher forwards machine events to an exchange. Publishing failures are
// logged and never stop the machine.
type Publisher struct {
	ch       Channel
	exchange string
	machine  string
	logger   *zap.Logger
}

func NewPublisher(ch Channel, exchange, machineName string, logger *zap.Logger) *Publisher {
	if exchange == "" {
		exchange = DefaultExchange
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{ch: ch, exchange: exchange, machine: machineName, logger: logger}
}

func (p *Publisher) Observe(ctx context.Context, e machine.Event) {
	msg, err := Flush(e)
	if err != nil {
		p.logger.Error("encode event", zap.Error(err))
		return
	}
	key := RoutingKey(p.machine, e.Kind)
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
	defer cancel()
	if err := p.ch.PublishWithContext(ctx, p.exchange, key, false, false, msg); err != nil {
		p.logger.Warn("publish event", zap.String("key", key), zap.Error(err))
	}
}

// Connection is a dialed broker connection with one channel.
type Connection struct {
	*amqp.Connection
	*amqp.Channel
}

func (c *Connection) Close() error {
	if c.Channel != nil {
		if err := c.Channel.Close(); err != nil {
			return err
		}
	}
	return c.Connection.Close()
}

// Dial connects to uri and declares exchange as a durable topic exchange.
func Dial(uri, exchange string) (*Connection, error) {
	conn, err := amqp.Dial(uri)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}
	if exchange == "" {
		exchange = DefaultExchange
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}
	return &Connection{conn, ch}, nil
}
