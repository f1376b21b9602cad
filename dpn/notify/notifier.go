package notify

import (
	"encoding/json"
	"fmt"
	"github.com/APTrust/dpn-registry/dpn"
	"github.com/APTrust/dpn-registry/dpn/models"
	"github.com/nsqio/go-nsq"
	"github.com/op/go-logging"
	"time"
)

// ReplicationEvent is the NSQ message body published whenever a
// replication transfer is created or changes status. Local workers
// that copy, validate and store bags consume these.
type ReplicationEvent struct {
	ReplicationId  string                `json:"replication_id"`
	FromNode       string                `json:"from_node"`
	ToNode         string                `json:"to_node"`
	Bag            string                `json:"uuid"`
	Status         dpn.ReplicationStatus `json:"status"`
	PreviousStatus dpn.ReplicationStatus `json:"previous_status"`
	UpdatedAt      time.Time             `json:"updated_at"`
}

// NewReplicationEvent describes xfer's move from previous to its
// current status. previous is empty for a new transfer.
func NewReplicationEvent(previous dpn.ReplicationStatus, xfer *models.ReplicationTransfer) *ReplicationEvent {
	return &ReplicationEvent{
		ReplicationId:  xfer.ReplicationId,
		FromNode:       xfer.FromNode,
		ToNode:         xfer.ToNode,
		Bag:            xfer.Bag,
		Status:         xfer.Status,
		PreviousStatus: previous,
		UpdatedAt:      xfer.UpdatedAt,
	}
}

// DecodeEvent parses the body of an NSQ message into a ReplicationEvent.
func DecodeEvent(message *nsq.Message) (*ReplicationEvent, error) {
	event := &ReplicationEvent{}
	if err := json.Unmarshal(message.Body, event); err != nil {
		return nil, fmt.Errorf("Could not parse replication event from NSQ message %s: %v",
			string(message.ID[:]), err)
	}
	return event, nil
}

// publisher is the part of *nsq.Producer we use.
type publisher interface {
	Publish(topic string, body []byte) error
	Stop()
}

// NSQNotifier publishes ReplicationEvents to an NSQ topic. A notifier
// with no producer drops every event.
type NSQNotifier struct {
	Topic    string
	producer publisher
	log      *logging.Logger
}

// NewNSQNotifier connects a producer to the nsqd at address. If
// address is empty, the notifier is disabled and Publish does nothing.
func NewNSQNotifier(address, topic string, log *logging.Logger) (*NSQNotifier, error) {
	notifier := &NSQNotifier{Topic: topic, log: log}
	if address == "" {
		log.Info("No nsqd address configured. Replication events will not be published.")
		return notifier, nil
	}
	producer, err := nsq.NewProducer(address, nsq.NewConfig())
	if err != nil {
		return nil, fmt.Errorf("Cannot create NSQ producer for %s: %v", address, err)
	}
	producer.SetLogger(nsqLogger{log}, nsq.LogLevelWarning)
	notifier.producer = producer
	return notifier, nil
}

// Enabled returns true if events will actually be published.
func (notifier *NSQNotifier) Enabled() bool {
	return notifier.producer != nil
}

// Publish sends one event for xfer. Failures are returned to the
// caller and never retried.
func (notifier *NSQNotifier) Publish(previous dpn.ReplicationStatus, xfer *models.ReplicationTransfer) error {
	if notifier.producer == nil {
		return nil
	}
	body, err := json.Marshal(NewReplicationEvent(previous, xfer))
	if err != nil {
		return err
	}
	if err = notifier.producer.Publish(notifier.Topic, body); err != nil {
		return fmt.Errorf("NSQ publish to %s failed: %v", notifier.Topic, err)
	}
	notifier.log.Debug("Published %s -> %s for replication %s to %s",
		previous, xfer.Status, xfer.ReplicationId, notifier.Topic)
	return nil
}

// Stop disconnects from nsqd.
func (notifier *NSQNotifier) Stop() {
	if notifier.producer != nil {
		notifier.producer.Stop()
	}
}

// nsqLogger routes go-nsq's internal logging into our logger.
type nsqLogger struct {
	log *logging.Logger
}

func (l nsqLogger) Output(calldepth int, s string) error {
	l.log.Warning("nsq: %s", s)
	return nil
}
