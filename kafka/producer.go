package kafka

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"

	eve "github.com/rustyrobot/rustyrobot/common"
	"github.com/rustyrobot/rustyrobot/config"
	"github.com/rustyrobot/rustyrobot/shutdown"
)

// asyncProducer is the slice of sarama.AsyncProducer the buffered producer
// needs. Narrowed for test injection.
type asyncProducer interface {
	Input() chan<- *sarama.ProducerMessage
	Errors() <-chan *sarama.ProducerError
	AsyncClose()
}

// BufferedProducer publishes JSON messages onto one topic. Send returns as
// soon as the message is buffered; delivery happens in the background on the
// flush interval. Delivery failures surface in the log, and as an error
// report when they happen outside of a requested shutdown.
type BufferedProducer struct {
	topic    string
	producer asyncProducer
	shutdown *shutdown.Handle

	finalFlushTimeout time.Duration
	drained           chan struct{}

	sleep func(time.Duration)
}

// NewBufferedProducer connects a producer for the topic and starts its
// background error drain.
func NewBufferedProducer(broker config.BrokerConfig, topic string, sd *shutdown.Handle) (*BufferedProducer, error) {
	producer, err := sarama.NewAsyncProducer(broker.Servers(), producerConfig(broker))
	if err != nil {
		return nil, fmt.Errorf("failed to create producer for %s: %w", topic, err)
	}
	return newBufferedProducer(producer, broker, topic, sd), nil
}

func newBufferedProducer(producer asyncProducer, broker config.BrokerConfig, topic string, sd *shutdown.Handle) *BufferedProducer {
	p := &BufferedProducer{
		topic:             topic,
		producer:          producer,
		shutdown:          sd,
		finalFlushTimeout: broker.FinalFlushTimeout,
		drained:           make(chan struct{}),
		sleep:             time.Sleep,
	}

	go p.drainErrors()

	return p
}

// drainErrors logs delivery failures for the lifetime of the producer. A
// failure while no shutdown was requested means a message was dropped in
// normal operation, which is reported at error level.
func (p *BufferedProducer) drainErrors() {
	lock := p.shutdown.Started(fmt.Sprintf("producer error drain for %s (%s)", p.topic, uuid.New()))
	defer lock.Release()
	defer close(p.drained)

	for producerError := range p.producer.Errors() {
		entry := eve.Logger.WithField("topic", p.topic).WithError(producerError.Err)
		if p.shutdown.ShouldShutdown() {
			entry.Warn("message delivery failed during shutdown")
		} else {
			entry.Error("message dropped without shutdown requested")
		}
	}
}

// Send publishes a value under a fresh UUID key.
func (p *BufferedProducer) Send(value interface{}) error {
	return p.SendWithKey([]byte(uuid.New().String()), value)
}

// SendWithKey publishes a value under the given key. The call returns once
// the message is placed into the memory buffer; a full buffer is retried on
// a short backoff.
func (p *BufferedProducer) SendWithKey(key []byte, value interface{}) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode message for %s: %w", p.topic, err)
	}

	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.ByteEncoder(key),
		Value: sarama.ByteEncoder(payload),
	}

	for {
		select {
		case p.producer.Input() <- msg:
			eve.Logger.WithField("topic", p.topic).Debug("produced message")
			return nil
		default:
			eve.Logger.WithField("topic", p.topic).Warn("failed to enqueue, retrying")
			p.sleep(enqueueRetryBackoff)
		}
	}
}

// Close flushes the remaining buffered messages and releases the producer.
// The flush is bounded; messages still undelivered when the cap expires are
// reported as an error.
func (p *BufferedProducer) Close() error {
	p.producer.AsyncClose()

	select {
	case <-p.drained:
		return nil
	case <-time.After(p.finalFlushTimeout):
		return fmt.Errorf("failed to flush producer for %s within %s", p.topic, p.finalFlushTimeout)
	}
}
