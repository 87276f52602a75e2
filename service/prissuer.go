package service

import (
	_ "embed"
	"fmt"

	"github.com/rustyrobot/rustyrobot/kafka"
)

// PRTitle is the title of every pull request the pipeline opens.
const PRTitle = "Formatting Suggestions from RustyRobot"

//go:embed pr_message.md
var prMessage string

// PRIssuerHandler turns RepositoryFormatted events into CreatePR requests,
// taking the head branch from the formatting stats. A formatted repository
// without formatting stats violates the stage contract, so that is an
// internal error.
func PRIssuerHandler() kafka.Handler[kafka.Event, kafka.Request] {
	return func(event kafka.Event, emit func(kafka.Request)) *kafka.HandlerError {
		if event.RepositoryFormatted == nil {
			return nil
		}
		repo := *event.RepositoryFormatted

		if repo.Stats == nil {
			return kafka.InternalError(fmt.Errorf("stats are empty after the formatting stage"))
		}
		if repo.Stats.Format == nil {
			return kafka.InternalError(fmt.Errorf("formatting stats are empty after the formatting stage"))
		}

		emit(kafka.Request{CreatePR: &kafka.CreatePR{
			Repo:    repo,
			Branch:  repo.Stats.Format.Branch,
			Title:   PRTitle,
			Message: prMessage,
		}})
		return nil
	}
}
