package service

import (
	"github.com/rustyrobot/rustyrobot/kafka"
)

// ForkerHandler translates every RepositoryFetched event into a Fork
// request. Everything else on the event topic passes by.
func ForkerHandler() kafka.Handler[kafka.Event, kafka.Request] {
	return func(event kafka.Event, emit func(kafka.Request)) *kafka.HandlerError {
		if event.RepositoryFetched == nil {
			return nil
		}
		emit(kafka.Request{Fork: event.RepositoryFetched})
		return nil
	}
}

// DeleteForksHandler translates RepositoryForked events into DeleteFork
// requests. Used by the one-shot cleanup utility, never by a long-lived
// stage.
func DeleteForksHandler() kafka.Handler[kafka.Event, kafka.Request] {
	return func(event kafka.Event, emit func(kafka.Request)) *kafka.HandlerError {
		if event.RepositoryForked == nil {
			return nil
		}
		emit(kafka.Request{DeleteFork: event.RepositoryForked})
		return nil
	}
}
