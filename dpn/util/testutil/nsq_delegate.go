package testutil

import (
	"github.com/nsqio/go-nsq"
	"time"
)

// NSQDelegate stands in for the connection behind an nsq.Message, so
// tests can see how a handler answered the message. It implements
// nsq.MessageDelegate.
type NSQDelegate struct {
	Operation string
	Delay     time.Duration
	Backoff   bool
	Responses int
}

// NewNSQMessage returns a message carrying body, answered through
// a new NSQDelegate, as if this were delivery number attempts.
func NewNSQMessage(body []byte, attempts uint16) (*nsq.Message, *NSQDelegate) {
	delegate := &NSQDelegate{}
	message := nsq.NewMessage(nsq.MessageID{'t', 'e', 's', 't'}, body)
	message.Attempts = attempts
	message.Delegate = delegate
	return message, delegate
}

func (delegate *NSQDelegate) OnFinish(message *nsq.Message) {
	delegate.Operation = "finish"
	delegate.Responses++
}

func (delegate *NSQDelegate) OnRequeue(message *nsq.Message, delay time.Duration, backoff bool) {
	delegate.Operation = "requeue"
	delegate.Delay = delay
	delegate.Backoff = backoff
	delegate.Responses++
}

func (delegate *NSQDelegate) OnTouch(message *nsq.Message) {
	delegate.Operation = "touch"
}
