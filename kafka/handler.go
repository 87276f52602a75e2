package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/IBM/sarama"

	eve "github.com/rustyrobot/rustyrobot/common"
	"github.com/rustyrobot/rustyrobot/config"
	"github.com/rustyrobot/rustyrobot/shutdown"
)

// HandlerError classifies a handler failure. An internal error terminates
// the service without committing the message, so it is redelivered after a
// restart. Any other error is logged and the message is committed and
// skipped.
type HandlerError struct {
	internal bool
	err      error
}

// InternalError marks a failure of the service itself (broken dependency,
// unrecoverable state). The triggering message must not be lost.
func InternalError(err error) *HandlerError {
	return &HandlerError{internal: true, err: err}
}

// OtherError marks a failure scoped to the message being handled.
func OtherError(err error) *HandlerError {
	return &HandlerError{err: err}
}

func (e *HandlerError) Error() string {
	if e.internal {
		return fmt.Sprintf("internal error: %s", e.err)
	}
	return e.err.Error()
}

func (e *HandlerError) Unwrap() error {
	return e.err
}

// IsInternal reports whether the error terminates the service.
func (e *HandlerError) IsInternal() bool {
	return e.internal
}

// Handler processes one decoded message and emits any number of responses
// through the callback.
type Handler[I, O any] func(msg I, emit func(O)) *HandlerError

// sender is where the consumer publishes handler responses.
type sender interface {
	SendWithKey(key []byte, value interface{}) error
}

// HandlingConsumer is the stage runtime: it consumes an input topic within
// a consumer group, decodes each message as JSON, filters it, hands it to
// the handler, publishes the responses, and commits the offset. Messages
// that cannot be decoded are committed and skipped so a poison pill never
// wedges the group.
type HandlingConsumer[I, O any] struct {
	group       string
	inputTopic  string
	outputTopic string
	filter      func(I) bool
	keyFrom     func(O) []byte
	handler     Handler[I, O]
}

// HandlingConsumerBuilder assembles a HandlingConsumer.
type HandlingConsumerBuilder[I, O any] struct {
	consumer HandlingConsumer[I, O]
}

// NewHandlingConsumer starts building a stage consumer.
func NewHandlingConsumer[I, O any]() *HandlingConsumerBuilder[I, O] {
	return &HandlingConsumerBuilder[I, O]{}
}

// Subscribe sets the input topic.
func (b *HandlingConsumerBuilder[I, O]) Subscribe(topic string) *HandlingConsumerBuilder[I, O] {
	b.consumer.inputTopic = topic
	return b
}

// Group sets the consumer group.
func (b *HandlingConsumerBuilder[I, O]) Group(group string) *HandlingConsumerBuilder[I, O] {
	b.consumer.group = group
	return b
}

// RespondTo sets the topic handler responses are published to. Without it
// responses are dropped.
func (b *HandlingConsumerBuilder[I, O]) RespondTo(topic string) *HandlingConsumerBuilder[I, O] {
	b.consumer.outputTopic = topic
	return b
}

// Filter installs a predicate; messages it rejects are committed without
// reaching the handler.
func (b *HandlingConsumerBuilder[I, O]) Filter(filter func(I) bool) *HandlingConsumerBuilder[I, O] {
	b.consumer.filter = filter
	return b
}

// KeyFrom derives response keys from the response value instead of the
// incoming message key.
func (b *HandlingConsumerBuilder[I, O]) KeyFrom(keyFrom func(O) []byte) *HandlingConsumerBuilder[I, O] {
	b.consumer.keyFrom = keyFrom
	return b
}

// Handler sets the message handler.
func (b *HandlingConsumerBuilder[I, O]) Handler(handler Handler[I, O]) *HandlingConsumerBuilder[I, O] {
	b.consumer.handler = handler
	return b
}

// Build validates the configuration.
func (b *HandlingConsumerBuilder[I, O]) Build() (*HandlingConsumer[I, O], error) {
	if b.consumer.group == "" {
		return nil, fmt.Errorf("group id is undefined")
	}
	if b.consumer.inputTopic == "" {
		return nil, fmt.Errorf("no topic to subscribe")
	}
	if b.consumer.handler == nil {
		return nil, fmt.Errorf("no handler function")
	}
	consumer := b.consumer
	return &consumer, nil
}

// Start runs the consume loop until shutdown is requested or the handler
// reports an internal error. The call blocks.
func (c *HandlingConsumer[I, O]) Start(broker config.BrokerConfig, sd *shutdown.Handle) error {
	eve.Logger.WithFields(map[string]interface{}{
		"topic":  c.inputTopic,
		"group":  c.group,
		"output": c.outputTopic,
	}).Info("starting handling consumer")

	var producer sender
	if c.outputTopic != "" {
		buffered, err := NewBufferedProducer(broker, c.outputTopic, sd)
		if err != nil {
			return err
		}
		defer func() {
			if err := buffered.Close(); err != nil {
				eve.Logger.WithError(err).Error("failed to flush producer on shutdown")
			}
		}()
		producer = buffered
	}

	group, err := sarama.NewConsumerGroup(broker.Servers(), c.group, consumerConfig(broker))
	if err != nil {
		return fmt.Errorf("failed to join group %s: %w", c.group, err)
	}
	defer group.Close()

	lock := sd.Started(fmt.Sprintf("handler %s/%s", c.inputTopic, c.group))
	defer lock.Release()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go pollShutdown(ctx, cancel, sd, newPollTicker(broker))

	handler := &claimHandler[I, O]{consumer: c, producer: producer}
	for ctx.Err() == nil {
		err := group.Consume(ctx, []string{c.inputTopic}, handler)

		// Sarama never returns ConsumeClaim errors from Consume; they are
		// dropped on the group's unread error channel. The claim handler
		// records its own failure so it survives the session teardown.
		if failure := handler.failure(); failure != nil {
			return fmt.Errorf("stopping the service without commit: %w", failure)
		}

		if err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				break
			}
			eve.Logger.WithError(err).Warn("consume session failed, rejoining")
		}
	}

	return nil
}

// pollShutdown cancels the consume context once shutdown is requested, and
// stops when the context dies first so the ticker is released either way.
func pollShutdown(ctx context.Context, cancel context.CancelFunc, sd *shutdown.Handle, ticker *time.Ticker) {
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if sd.ShouldShutdown() {
				cancel()
				return
			}
		}
	}
}

// processMessage runs the decode, filter, handle and emit steps for one
// message. A nil return means the message may be committed; a non-nil
// return is a terminal internal error and the message must stay uncommitted.
func (c *HandlingConsumer[I, O]) processMessage(key, payload []byte, producer sender) error {
	var msg I
	if err := json.Unmarshal(payload, &msg); err != nil {
		eve.Logger.WithField("topic", c.inputTopic).WithError(err).Error("payload is invalid json, skipping")
		return nil
	}

	if c.filter != nil && !c.filter(msg) {
		eve.Logger.WithField("topic", c.inputTopic).Debug("received message filtered out")
		return nil
	}

	var responses []O
	if err := c.handler(msg, func(resp O) { responses = append(responses, resp) }); err != nil {
		if err.IsInternal() {
			return err
		}
		eve.Logger.WithError(err).Error("handler failed to process message")
		return nil
	}

	for idx, resp := range responses {
		messageKey := c.responseKey(key, idx, resp)
		if producer == nil {
			continue
		}
		if err := producer.SendWithKey(messageKey, resp); err != nil {
			eve.Logger.WithError(err).Error("failed to produce message")
		}
	}

	return nil
}

// responseKey derives the key for the idx-th response to a message. Without
// a custom derivation the incoming key is reused, suffixed for every
// response after the first so keys stay unique.
func (c *HandlingConsumer[I, O]) responseKey(base []byte, idx int, resp O) []byte {
	if c.keyFrom != nil {
		return c.keyFrom(resp)
	}
	key := append([]byte{}, base...)
	if idx != 0 {
		key = append(key, []byte(fmt.Sprintf("-%d", idx))...)
	}
	return key
}

// claimHandler adapts the consumer to sarama's group session callbacks. It
// keeps the first terminal error itself; returning it to sarama only ends
// the session.
type claimHandler[I, O any] struct {
	consumer *HandlingConsumer[I, O]
	producer sender

	mu  sync.Mutex
	err error
}

func (h *claimHandler[I, O]) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *claimHandler[I, O]) Cleanup(sarama.ConsumerGroupSession) error { return nil }

// fail records the first terminal error. Claims run on one goroutine per
// partition, so the record is guarded.
func (h *claimHandler[I, O]) fail(err error) {
	h.mu.Lock()
	if h.err == nil {
		h.err = err
	}
	h.mu.Unlock()
}

// failure returns the recorded terminal error, if any.
func (h *claimHandler[I, O]) failure() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

func (h *claimHandler[I, O]) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for msg := range claim.Messages() {
		eve.Logger.WithFields(map[string]interface{}{
			"topic":  msg.Topic,
			"offset": msg.Offset,
		}).Debug("received message")

		if err := h.consumer.processMessage(msg.Key, msg.Value, h.producer); err != nil {
			h.fail(err)
			return err
		}

		// Emit first, then commit: redelivery is preferred over loss.
		session.MarkMessage(msg, "")
		session.Commit()
	}
	return nil
}
