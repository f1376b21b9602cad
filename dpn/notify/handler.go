package notify

import (
	"fmt"
	"github.com/nsqio/go-nsq"
	"github.com/op/go-logging"
	"time"
)

const DEFAULT_MAX_ATTEMPTS = 5
const DEFAULT_REQUEUE_DELAY = 1 * time.Minute

// EventHandler is an nsq.Handler for the replication topic. It decodes
// each message and passes the event to Process. Failed events are
// requeued until MaxAttempts, then dropped with an error in the log.
type EventHandler struct {
	Process      func(*ReplicationEvent) error
	MaxAttempts  uint16
	RequeueDelay time.Duration
	log          *logging.Logger
}

// NewEventHandler returns a handler with the default retry settings.
func NewEventHandler(process func(*ReplicationEvent) error, log *logging.Logger) *EventHandler {
	return &EventHandler{
		Process:      process,
		MaxAttempts:  DEFAULT_MAX_ATTEMPTS,
		RequeueDelay: DEFAULT_REQUEUE_DELAY,
		log:          log,
	}
}

// HandleMessage always answers the message itself and returns nil,
// so the consumer never applies its own backoff.
func (handler *EventHandler) HandleMessage(message *nsq.Message) error {
	message.DisableAutoResponse()
	event, err := DecodeEvent(message)
	if err != nil {
		// Retrying won't make it parse.
		handler.log.Error(err.Error())
		message.Finish()
		return nil
	}
	if err = handler.Process(event); err != nil {
		if message.Attempts >= handler.MaxAttempts {
			handler.log.Error("Giving up on replication %s (%s) after %d attempts: %v",
				event.ReplicationId, event.Status, message.Attempts, err)
			message.Finish()
			return nil
		}
		handler.log.Warning("Requeueing replication %s (%s), attempt %d: %v",
			event.ReplicationId, event.Status, message.Attempts, err)
		message.Requeue(handler.RequeueDelay)
		return nil
	}
	message.Finish()
	return nil
}

// Subscribe connects a consumer for topic/channel to the nsqd at
// address and starts delivering messages to handler. Call Stop on
// the consumer to disconnect.
func Subscribe(address, topic, channel string, handler nsq.Handler, log *logging.Logger) (*nsq.Consumer, error) {
	nsqConfig := nsq.NewConfig()
	nsqConfig.Set("max_in_flight", 1)
	nsqConfig.Set("max_attempts", DEFAULT_MAX_ATTEMPTS)
	consumer, err := nsq.NewConsumer(topic, channel, nsqConfig)
	if err != nil {
		return nil, fmt.Errorf("Cannot create NSQ consumer for %s/%s: %v", topic, channel, err)
	}
	consumer.SetLogger(nsqLogger{log}, nsq.LogLevelWarning)
	consumer.AddHandler(handler)
	if err = consumer.ConnectToNSQD(address); err != nil {
		consumer.Stop()
		return nil, fmt.Errorf("Cannot connect to nsqd at %s: %v", address, err)
	}
	return consumer, nil
}
