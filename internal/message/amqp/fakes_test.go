package amqp

import (
	"github.com/streadway/amqp"
	"github.com/stretchr/testify/mock"
)

type fakeChannel struct {
	mock.Mock
}

func (f *fakeChannel) Close() error {
	return f.Called().Error(0)
}

func (f *fakeChannel) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error) {
	ret := f.Called(name, durable, autoDelete, exclusive, noWait, args)

	queue, _ := ret.Get(0).(amqp.Queue)
	return queue, ret.Error(1)
}

func (f *fakeChannel) Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	return f.Called(exchange, key, mandatory, immediate, msg).Error(0)
}

type fakeConnection struct {
	mock.Mock
}

func (f *fakeConnection) Close() error {
	return f.Called().Error(0)
}

func (f *fakeConnection) Channel() (AMQPChannel, error) {
	ret := f.Called()

	channel, _ := ret.Get(0).(AMQPChannel)
	return channel, ret.Error(1)
}

// NotifyClose hands back a closed channel so the publisher's close watcher
// sees a graceful shutdown and exits.
func (f *fakeConnection) NotifyClose(receiver chan *amqp.Error) chan *amqp.Error {
	close(receiver)
	return receiver
}

type fakeDialerAdapter struct {
	mock.Mock
}

func (f *fakeDialerAdapter) Dial(url string) (AMQPConnection, error) {
	ret := f.Called(url)

	conn, _ := ret.Get(0).(AMQPConnection)
	return conn, ret.Error(1)
}
