package kafka

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"

	eve "github.com/rustyrobot/rustyrobot/common"
	"github.com/rustyrobot/rustyrobot/config"
	"github.com/rustyrobot/rustyrobot/shutdown"
)

// State is a keyed map of JSON values.
type State map[string]json.RawMessage

// StateChange is one key update.
type StateChange struct {
	Key   string
	Value json.RawMessage
}

// stateLog is the durable log a StateStore persists to: a compacted topic
// in production, an in-memory fake in tests.
type stateLog interface {
	Publish(change StateChange) error
	ReadAll() ([]StateChange, error)
	Close() error
}

// syncRetryBackoff is the pause between attempts to publish a state change.
const syncRetryBackoff = time.Second

// StateStore is a durable keyed-JSON map backed by a compacted topic. It
// keeps two in-memory maps: the last synchronized state and the working
// state. Sync publishes only the delta between them, so unchanged keys cost
// nothing; the topic's compaction keeps one record per key. A mutex guards
// both maps: the consumer goroutine writes while the diagnostics endpoint
// snapshots.
type StateStore struct {
	topic string

	mu  sync.RWMutex
	old State
	new State

	log stateLog

	sleep func(time.Duration)
}

// NewStateStore opens a state store on the given compacted topic. Call
// Restore before reading, and Close on the way out so the final state is
// synchronized.
func NewStateStore(broker config.BrokerConfig, topic string) (*StateStore, error) {
	log, err := newKafkaStateLog(broker, topic)
	if err != nil {
		return nil, err
	}
	return newStateStore(topic, log), nil
}

func newStateStore(topic string, log stateLog) *StateStore {
	return &StateStore{
		topic: topic,
		old:   State{},
		new:   State{},
		log:   log,
		sleep: time.Sleep,
	}
}

// Restore replays the topic from the beginning and loads the latest value
// of every key.
func (s *StateStore) Restore() error {
	changes, err := s.log.ReadAll()
	if err != nil {
		return fmt.Errorf("failed to restore state from %s: %w", s.topic, err)
	}

	s.mu.Lock()
	for _, change := range changes {
		eve.Logger.WithFields(map[string]interface{}{
			"topic": s.topic,
			"key":   change.Key,
		}).Debug("restoring state entry")
		s.old[change.Key] = change.Value
	}
	s.new = maps.Clone(s.old)
	s.mu.Unlock()

	eve.Logger.WithField("topic", s.topic).Info("state restored")
	return nil
}

// Sync publishes every changed or new entry and marks the working state as
// synchronized. Publish failures are retried until they succeed.
func (s *StateStore) Sync() error {
	eve.Logger.WithField("topic", s.topic).Info("synchronizing state changes")
	delta := s.delta()
	eve.Logger.WithField("size", len(delta)).Debug("sync delta")

	for _, change := range delta {
		for {
			err := s.log.Publish(change)
			if err == nil {
				break
			}
			eve.Logger.WithError(err).Error("failed to synchronize state")
			s.sleep(syncRetryBackoff)
		}
	}

	// Fold only the published delta into the synchronized state; entries
	// written concurrently stay pending for the next Sync.
	s.mu.Lock()
	for _, change := range delta {
		s.old[change.Key] = change.Value
	}
	s.mu.Unlock()
	return nil
}

// Get decodes the value under key into out. The second return is false when
// the key is absent.
func (s *StateStore) Get(key string, out interface{}) (bool, error) {
	s.mu.RLock()
	raw, ok := s.new[key]
	s.mu.RUnlock()
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return true, fmt.Errorf("failed to decode state value %q: %w", key, err)
	}
	return true, nil
}

// GetString returns the string under key, or "" when absent.
func (s *StateStore) GetString(key string) string {
	var value string
	if ok, err := s.Get(key, &value); !ok || err != nil {
		return ""
	}
	return value
}

// GetInt64 returns the integer under key, or 0 when absent.
func (s *StateStore) GetInt64(key string) int64 {
	var value int64
	if ok, err := s.Get(key, &value); !ok || err != nil {
		return 0
	}
	return value
}

// Set updates the working state. The change is not visible on the topic
// until the next Sync.
func (s *StateStore) Set(key string, value interface{}) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode state value %q: %w", key, err)
	}
	s.mu.Lock()
	s.new[key] = raw
	s.mu.Unlock()
	return nil
}

// SetAndSync updates one key and synchronizes immediately.
func (s *StateStore) SetAndSync(key string, value interface{}) error {
	if err := s.Set(key, value); err != nil {
		return err
	}
	return s.Sync()
}

// Increment adds one to the integer under key, treating an absent key as 0.
// The read-modify-write holds the lock once so concurrent increments never
// lose an update.
func (s *StateStore) Increment(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var value int64
	if raw, ok := s.new[key]; ok {
		// Garbage under the key counts from zero.
		_ = json.Unmarshal(raw, &value)
	}
	raw, _ := json.Marshal(value + 1)
	s.new[key] = raw
}

// Snapshot returns a copy of the working state.
func (s *StateStore) Snapshot() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.new)
}

// delta lists the entries that changed since the last Sync, including keys
// the synchronized state has never seen.
func (s *StateStore) delta() []StateChange {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var changes []StateChange
	for key, value := range s.new {
		old, ok := s.old[key]
		if ok && bytes.Equal(old, value) {
			continue
		}
		changes = append(changes, StateChange{Key: key, Value: value})
	}
	return changes
}

// Close performs the final synchronization and releases the log. A failure
// here means state was lost; callers treat it as fatal.
func (s *StateStore) Close() error {
	if err := s.Sync(); err != nil {
		return fmt.Errorf("failed to synchronize state on close: %w", err)
	}
	return s.log.Close()
}

// kafkaStateLog persists state changes onto a compacted topic. The producer
// runs under a private shutdown coordinator so closing the store flushes it
// independently of the process-wide shutdown.
type kafkaStateLog struct {
	broker   config.BrokerConfig
	topic    string
	producer *BufferedProducer
	sd       *shutdown.Coordinator
}

func newKafkaStateLog(broker config.BrokerConfig, topic string) (*kafkaStateLog, error) {
	sd := shutdown.New()
	producer, err := NewBufferedProducer(broker, topic, sd.Handle())
	if err != nil {
		return nil, fmt.Errorf("failed to open state log on %s: %w", topic, err)
	}
	return &kafkaStateLog{
		broker:   broker,
		topic:    topic,
		producer: producer,
		sd:       sd,
	}, nil
}

func (l *kafkaStateLog) Publish(change StateChange) error {
	return l.producer.SendWithKey([]byte(change.Key), change.Value)
}

// ReadAll replays the topic from the earliest offset up to the high-water
// mark of every partition, under a throwaway client identity.
func (l *kafkaStateLog) ReadAll() ([]StateChange, error) {
	cfg := consumerConfig(l.broker)
	cfg.ClientID = fmt.Sprintf("rustyrobot-restore-%s", uuid.New())

	client, err := sarama.NewClient(l.broker.Servers(), cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect for state restore: %w", err)
	}
	defer client.Close()

	partitions, err := client.Partitions(l.topic)
	if err != nil {
		return nil, fmt.Errorf("failed to list partitions of %s: %w", l.topic, err)
	}

	consumer, err := sarama.NewConsumerFromClient(client)
	if err != nil {
		return nil, fmt.Errorf("failed to create restore consumer: %w", err)
	}
	defer consumer.Close()

	var changes []StateChange
	for _, partition := range partitions {
		partitionChanges, err := l.readPartition(client, consumer, partition)
		if err != nil {
			return nil, err
		}
		changes = append(changes, partitionChanges...)
	}
	return changes, nil
}

func (l *kafkaStateLog) readPartition(client sarama.Client, consumer sarama.Consumer, partition int32) ([]StateChange, error) {
	newest, err := client.GetOffset(l.topic, partition, sarama.OffsetNewest)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve end offset: %w", err)
	}
	oldest, err := client.GetOffset(l.topic, partition, sarama.OffsetOldest)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve start offset: %w", err)
	}
	if oldest >= newest {
		return nil, nil
	}

	pc, err := consumer.ConsumePartition(l.topic, partition, oldest)
	if err != nil {
		return nil, fmt.Errorf("failed to consume partition %d: %w", partition, err)
	}
	defer pc.Close()

	var changes []StateChange
	for msg := range pc.Messages() {
		if len(msg.Key) == 0 {
			return nil, fmt.Errorf("missing key on state change at offset %d", msg.Offset)
		}
		if len(msg.Value) == 0 {
			return nil, fmt.Errorf("empty state change at offset %d", msg.Offset)
		}
		changes = append(changes, StateChange{
			Key:   string(msg.Key),
			Value: append(json.RawMessage{}, msg.Value...),
		})
		if msg.Offset >= newest-1 {
			break
		}
	}
	return changes, nil
}

func (l *kafkaStateLog) Close() error {
	l.sd.Shutdown()
	return l.producer.Close()
}
