package amqp

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/pkg/errors"
	"github.com/streadway/amqp"
)

const connectionRetryLimit = 5

var (
	connectionRetryDelay = 500 * time.Millisecond

	queueArgs = amqp.Table{
		"x-single-active-consumer": true,
	}
)

// publisher delivers deployment events to a durable queue on a single
// broker connection, redialing when the broker drops it.
type publisher struct {
	log       logr.Logger
	uri       string
	queueName string

	mu      sync.Mutex
	conn    AMQPConnection
	channel AMQPChannel
	err     chan error
}

// NewPublisher connects to the broker at uri, retrying failed dials up to
// connectionRetryLimit times before giving up.
func NewPublisher(uri, queueName string, log logr.Logger) (*publisher, error) {
	p := &publisher{
		log:       log,
		uri:       uri,
		queueName: queueName,
		err:       make(chan error, 1),
	}

	if err := p.connect(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *publisher) connect() error {
	var lastErr error
	for attempt := 1; attempt <= connectionRetryLimit; attempt++ {
		conn, err := defaultDialerAdapter(p.uri)
		if err != nil {
			lastErr = err
			p.log.Info("Message broker dial failed; retrying", "attempt", attempt, "error", err.Error())
			time.Sleep(connectionRetryDelay)
			continue
		}

		channel, err := conn.Channel()
		if err != nil {
			conn.Close()
			return errors.Wrap(err, "opening amqp channel")
		}

		p.conn = conn
		p.channel = channel
		p.watchClose(conn)
		return nil
	}

	return errors.Wrapf(lastErr, "broker connect failed after %d attempts", connectionRetryLimit)
}

// watchClose forwards an async connection loss into p.err so the next
// Publish call knows to redial. Graceful closes deliver nil and are
// ignored.
func (p *publisher) watchClose(conn AMQPConnection) {
	closings := conn.NotifyClose(make(chan *amqp.Error, 1))
	go func() {
		if amqpErr := <-closings; amqpErr != nil {
			select {
			case p.err <- amqpErr:
			default:
			}
		}
	}()
}

// Publish sends message to the queue as a JSON document. The queue is
// declared durable on every call; declaration is idempotent and keeps the
// first publish from racing queue setup.
func (p *publisher) Publish(message interface{}) error {
	data, err := json.Marshal(message)
	if err != nil {
		return errors.Wrap(err, "marshaling event")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	select {
	case connErr := <-p.err:
		p.log.Info("Message broker connection lost; reconnecting", "error", connErr.Error())
		if err := p.connect(); err != nil {
			return err
		}
	default:
	}

	if p.conn == nil {
		if err := p.connect(); err != nil {
			return err
		}
	}

	if _, err := p.channel.QueueDeclare(p.queueName, true, false, false, false, queueArgs); err != nil {
		return errors.Wrapf(err, "declaring queue %q", p.queueName)
	}

	msg := amqp.Publishing{
		ContentType: "application/json",
		Body:        data,
	}
	return errors.Wrap(p.channel.Publish("", p.queueName, false, false, msg), "publishing event")
}

// Close shuts down the broker connection.
func (p *publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.conn == nil {
		return nil
	}

	err := p.conn.Close()
	p.conn = nil
	p.channel = nil
	return err
}
