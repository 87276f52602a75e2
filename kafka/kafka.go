// Package kafka provides the bus primitives shared by all rustyrobot
// stages: topic and group names, the message envelope, a buffered producer,
// the handling consumer loop, and the durable state store.
package kafka

import (
	"time"

	"github.com/IBM/sarama"

	"github.com/rustyrobot/rustyrobot/config"
)

// Topics of the pipeline. The request and event topics are partitioned
// streams; the state topics are compacted.
const (
	TopicGithubRequest = "rustyrobot.github.request"
	TopicEvent         = "rustyrobot.event"
	TopicGithubState   = "rustyrobot.github.state"
	TopicFetcherState  = "rustyrobot.fetcher.state"
)

// Consumer groups of the long-lived services. Throwaway utilities (state
// restore, delete-forks) generate a fresh UUID group instead.
const (
	GroupGithub    = "rustyrobot.github"
	GroupFetcher   = "rustyrobot.fetcher"
	GroupForker    = "rustyrobot.forker"
	GroupFormatter = "rustyrobot.formatter"
	GroupPRIssuer  = "rustyrobot.pr-issuer"
	GroupDumper    = "rustyrobot.dumper"
)

// enqueueRetryBackoff is the pause between attempts to place a message into
// the producer's memory buffer.
const enqueueRetryBackoff = 100 * time.Millisecond

// newPollTicker returns the ticker on which consumers re-check the shutdown
// flag between polls.
func newPollTicker(broker config.BrokerConfig) *time.Ticker {
	interval := broker.PollInterval
	if interval <= 0 {
		interval = 200 * time.Millisecond
	}
	return time.NewTicker(interval)
}

// consumerConfig builds the sarama configuration for a handling consumer:
// offsets start from the earliest message and are committed manually, never
// automatically.
func consumerConfig(broker config.BrokerConfig) *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_1_0_0
	cfg.Consumer.Group.Session.Timeout = broker.SessionTimeout
	cfg.Consumer.Group.Heartbeat.Interval = broker.HeartbeatInterval
	cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	cfg.Consumer.Offsets.AutoCommit.Enable = false
	cfg.Consumer.Return.Errors = true
	return cfg
}

// producerConfig builds the sarama configuration for the buffered producer.
// Messages accumulate in memory and are flushed in the background.
func producerConfig(broker config.BrokerConfig) *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_1_0_0
	cfg.Producer.RequiredAcks = sarama.WaitForLocal
	cfg.Producer.Timeout = broker.MessageTimeout
	cfg.Producer.Flush.Frequency = broker.FlushInterval
	cfg.Producer.Retry.Backoff = enqueueRetryBackoff
	cfg.Producer.Return.Errors = true
	cfg.Producer.Return.Successes = false
	return cfg
}
