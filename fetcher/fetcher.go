// Package fetcher emits the search requests that feed the pipeline. A
// strategy decides how the search space is partitioned; the date-window
// strategy walks repository creation dates so every window is requested at
// most once across restarts.
package fetcher

import (
	"github.com/rustyrobot/rustyrobot/kafka"
	"github.com/rustyrobot/rustyrobot/search"
	"github.com/rustyrobot/rustyrobot/shutdown"
)

// Emitter publishes fetch requests onto the request topic.
type Emitter interface {
	Send(value interface{}) error
}

// StateSync is the slice of the state store the fetcher uses to persist its
// resume point.
type StateSync interface {
	GetString(key string) string
	Set(key string, value interface{}) error
	Sync() error
}

// Shared is the context a strategy executes against.
type Shared struct {
	Shutdown *shutdown.Handle
	State    StateSync
	Producer Emitter
}

// Strategy partitions the search space and emits one request per part.
type Strategy interface {
	Execute(shared *Shared, query *search.IncompleteQuery) error
}

// Fetcher runs a strategy over a base query.
type Fetcher struct {
	shared   Shared
	strategy Strategy
}

// New creates a fetcher with the given strategy.
func New(state StateSync, producer Emitter, sd *shutdown.Handle, strategy Strategy) *Fetcher {
	return &Fetcher{
		shared: Shared{
			Shutdown: sd,
			State:    state,
			Producer: producer,
		},
		strategy: strategy,
	}
}

// Fetch runs one round of the strategy.
func (f *Fetcher) Fetch(query *search.IncompleteQuery) error {
	return f.strategy.Execute(&f.shared, query)
}

// Simple emits the base query as a single fetch request.
type Simple struct{}

// Execute builds the query and publishes it.
func (Simple) Execute(shared *Shared, query *search.IncompleteQuery) error {
	built, err := query.Build()
	if err != nil {
		return err
	}
	return shared.Producer.Send(kafka.Request{Fetch: &built})
}
