package kafka

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyrobot/rustyrobot/shutdown"
)

type sentMessage struct {
	key   string
	value interface{}
}

type fakeSender struct {
	sent []sentMessage
	err  error
}

func (f *fakeSender) SendWithKey(key []byte, value interface{}) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, sentMessage{key: string(key), value: value})
	return nil
}

type echoPayload struct {
	Name string `json:"name"`
}

func buildEchoConsumer(t *testing.T, handler Handler[echoPayload, echoPayload], opts ...func(*HandlingConsumerBuilder[echoPayload, echoPayload])) *HandlingConsumer[echoPayload, echoPayload] {
	t.Helper()
	builder := NewHandlingConsumer[echoPayload, echoPayload]().
		Subscribe("rustyrobot.test.in").
		Group("rustyrobot.test").
		RespondTo("rustyrobot.test.out").
		Handler(handler)
	for _, opt := range opts {
		opt(builder)
	}
	consumer, err := builder.Build()
	require.NoError(t, err)
	return consumer
}

func TestBuilderValidation(t *testing.T) {
	handler := func(msg echoPayload, emit func(echoPayload)) *HandlerError { return nil }

	_, err := NewHandlingConsumer[echoPayload, echoPayload]().
		Subscribe("t").Handler(handler).Build()
	assert.ErrorContains(t, err, "group")

	_, err = NewHandlingConsumer[echoPayload, echoPayload]().
		Group("g").Handler(handler).Build()
	assert.ErrorContains(t, err, "topic")

	_, err = NewHandlingConsumer[echoPayload, echoPayload]().
		Group("g").Subscribe("t").Build()
	assert.ErrorContains(t, err, "handler")
}

func TestHandledMessageEmitsResponses(t *testing.T) {
	consumer := buildEchoConsumer(t, func(msg echoPayload, emit func(echoPayload)) *HandlerError {
		emit(msg)
		emit(echoPayload{Name: msg.Name + "-copy"})
		return nil
	})

	sender := &fakeSender{}
	err := consumer.processMessage([]byte("key-1"), []byte(`{"name": "a"}`), sender)
	require.NoError(t, err)

	require.Len(t, sender.sent, 2)
	// First response reuses the incoming key, later ones get a suffix.
	assert.Equal(t, "key-1", sender.sent[0].key)
	assert.Equal(t, "key-1-1", sender.sent[1].key)
	assert.Equal(t, echoPayload{Name: "a"}, sender.sent[0].value)
	assert.Equal(t, echoPayload{Name: "a-copy"}, sender.sent[1].value)
}

func TestPoisonPillIsSkipped(t *testing.T) {
	handled := false
	consumer := buildEchoConsumer(t, func(msg echoPayload, emit func(echoPayload)) *HandlerError {
		handled = true
		return nil
	})

	// Invalid json must be committed (nil result) without reaching the handler.
	err := consumer.processMessage([]byte("key-1"), []byte(`{not json`), &fakeSender{})
	assert.NoError(t, err)
	assert.False(t, handled)

	// Empty payloads follow the same path.
	err = consumer.processMessage([]byte("key-1"), nil, &fakeSender{})
	assert.NoError(t, err)
	assert.False(t, handled)
}

func TestFilteredMessageIsCommittedWithoutHandling(t *testing.T) {
	handled := false
	consumer := buildEchoConsumer(t,
		func(msg echoPayload, emit func(echoPayload)) *HandlerError {
			handled = true
			emit(msg)
			return nil
		},
		func(b *HandlingConsumerBuilder[echoPayload, echoPayload]) {
			b.Filter(func(msg echoPayload) bool { return msg.Name == "wanted" })
		},
	)

	sender := &fakeSender{}
	require.NoError(t, consumer.processMessage([]byte("k"), []byte(`{"name": "unwanted"}`), sender))
	assert.False(t, handled)
	assert.Empty(t, sender.sent)

	require.NoError(t, consumer.processMessage([]byte("k"), []byte(`{"name": "wanted"}`), sender))
	assert.True(t, handled)
	assert.Len(t, sender.sent, 1)
}

func TestOtherHandlerErrorCommitsAndContinues(t *testing.T) {
	consumer := buildEchoConsumer(t, func(msg echoPayload, emit func(echoPayload)) *HandlerError {
		return OtherError(errors.New("repository vanished"))
	})

	err := consumer.processMessage([]byte("k"), []byte(`{"name": "a"}`), &fakeSender{})
	assert.NoError(t, err)
}

func TestInternalHandlerErrorStopsWithoutCommit(t *testing.T) {
	cause := errors.New("state store broken")
	consumer := buildEchoConsumer(t, func(msg echoPayload, emit func(echoPayload)) *HandlerError {
		return InternalError(cause)
	})

	err := consumer.processMessage([]byte("k"), []byte(`{"name": "a"}`), &fakeSender{})
	require.Error(t, err)

	var handlerErr *HandlerError
	require.ErrorAs(t, err, &handlerErr)
	assert.True(t, handlerErr.IsInternal())
	assert.ErrorIs(t, err, cause)
}

func TestCustomKeyDerivation(t *testing.T) {
	consumer := buildEchoConsumer(t,
		func(msg echoPayload, emit func(echoPayload)) *HandlerError {
			emit(msg)
			return nil
		},
		func(b *HandlingConsumerBuilder[echoPayload, echoPayload]) {
			b.KeyFrom(func(resp echoPayload) []byte {
				return []byte(fmt.Sprintf("derived-%s", resp.Name))
			})
		},
	)

	sender := &fakeSender{}
	require.NoError(t, consumer.processMessage([]byte("original"), []byte(`{"name": "a"}`), sender))
	require.Len(t, sender.sent, 1)
	assert.Equal(t, "derived-a", sender.sent[0].key)
}

func TestProducerFailureDoesNotBlockCommit(t *testing.T) {
	consumer := buildEchoConsumer(t, func(msg echoPayload, emit func(echoPayload)) *HandlerError {
		emit(msg)
		return nil
	})

	sender := &fakeSender{err: errors.New("buffer gone")}
	assert.NoError(t, consumer.processMessage([]byte("k"), []byte(`{"name": "a"}`), sender))
}

func TestHandlerErrorMessages(t *testing.T) {
	assert.Equal(t, "internal error: boom", InternalError(errors.New("boom")).Error())
	assert.Equal(t, "boom", OtherError(errors.New("boom")).Error())
}

type fakeGroupSession struct {
	marked  []int64
	commits int
}

func (s *fakeGroupSession) Claims() map[string][]int32               { return nil }
func (s *fakeGroupSession) MemberID() string                         { return "member-1" }
func (s *fakeGroupSession) GenerationID() int32                      { return 1 }
func (s *fakeGroupSession) MarkOffset(string, int32, int64, string)  {}
func (s *fakeGroupSession) ResetOffset(string, int32, int64, string) {}
func (s *fakeGroupSession) Commit()                                  { s.commits++ }
func (s *fakeGroupSession) Context() context.Context                 { return context.Background() }
func (s *fakeGroupSession) MarkMessage(msg *sarama.ConsumerMessage, _ string) {
	s.marked = append(s.marked, msg.Offset)
}

type fakeGroupClaim struct {
	messages chan *sarama.ConsumerMessage
}

func (c *fakeGroupClaim) Topic() string                            { return "rustyrobot.test.in" }
func (c *fakeGroupClaim) Partition() int32                         { return 0 }
func (c *fakeGroupClaim) InitialOffset() int64                     { return 0 }
func (c *fakeGroupClaim) HighWaterMarkOffset() int64               { return 0 }
func (c *fakeGroupClaim) Messages() <-chan *sarama.ConsumerMessage { return c.messages }

func newFakeClaim(payloads ...string) *fakeGroupClaim {
	claim := &fakeGroupClaim{messages: make(chan *sarama.ConsumerMessage, len(payloads))}
	for idx, payload := range payloads {
		claim.messages <- &sarama.ConsumerMessage{
			Topic:  "rustyrobot.test.in",
			Offset: int64(idx),
			Value:  []byte(payload),
		}
	}
	close(claim.messages)
	return claim
}

func TestClaimCommitsHandledMessages(t *testing.T) {
	consumer := buildEchoConsumer(t, func(msg echoPayload, emit func(echoPayload)) *HandlerError {
		return nil
	})
	handler := &claimHandler[echoPayload, echoPayload]{consumer: consumer, producer: &fakeSender{}}

	session := &fakeGroupSession{}
	require.NoError(t, handler.ConsumeClaim(session, newFakeClaim(`{"name": "a"}`, `{"name": "b"}`)))

	assert.Equal(t, []int64{0, 1}, session.marked)
	assert.Equal(t, 2, session.commits)
	assert.NoError(t, handler.failure())
}

func TestInternalErrorSurvivesSessionTeardown(t *testing.T) {
	consumer := buildEchoConsumer(t, func(msg echoPayload, emit func(echoPayload)) *HandlerError {
		return InternalError(errors.New("state store broken"))
	})
	handler := &claimHandler[echoPayload, echoPayload]{consumer: consumer, producer: &fakeSender{}}

	session := &fakeGroupSession{}
	require.Error(t, handler.ConsumeClaim(session, newFakeClaim(`{"name": "a"}`)))

	// Sarama drops the ConsumeClaim return value, so the recorded failure
	// is the only way the consume loop learns it must stop.
	var handlerErr *HandlerError
	require.ErrorAs(t, handler.failure(), &handlerErr)
	assert.True(t, handlerErr.IsInternal())

	// The failing message stays uncommitted for redelivery.
	assert.Empty(t, session.marked)
	assert.Zero(t, session.commits)
}

func TestFailureKeepsTheFirstError(t *testing.T) {
	first := InternalError(errors.New("first"))
	handler := &claimHandler[echoPayload, echoPayload]{}

	handler.fail(first)
	handler.fail(InternalError(errors.New("second")))

	assert.ErrorIs(t, handler.failure(), first)
}

func TestPollShutdownStopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		pollShutdown(ctx, cancel, shutdown.New().Handle(), time.NewTicker(time.Hour))
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("poller kept running after the consume loop exited")
	}
}

func TestPollShutdownCancelsConsumeContext(t *testing.T) {
	coordinator := shutdown.New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		pollShutdown(ctx, cancel, coordinator.Handle(), time.NewTicker(time.Millisecond))
		close(done)
	}()

	coordinator.Shutdown()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("poller did not react to shutdown")
	}
	assert.Error(t, ctx.Err())
}
