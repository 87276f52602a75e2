// The github worker consumes the request topic and executes each request
// against the GitHub API, publishing the resulting events.
package main

import (
	"github.com/rustyrobot/rustyrobot/cli"
	eve "github.com/rustyrobot/rustyrobot/common"
	"github.com/rustyrobot/rustyrobot/config"
	"github.com/rustyrobot/rustyrobot/github"
	"github.com/rustyrobot/rustyrobot/kafka"
	"github.com/rustyrobot/rustyrobot/service"
	"github.com/rustyrobot/rustyrobot/shutdown"
	"github.com/rustyrobot/rustyrobot/statusapi"
)

func main() {
	cli.Execute(cli.NewServiceCommand(
		"rustyrobot-github",
		"execute fetch, fork, delete and pull request operations against GitHub",
		run,
	))
}

func run(cfg *config.Config, coordinator *shutdown.Coordinator) (err error) {
	sd := coordinator.Handle()

	token, err := eve.GithubToken()
	if err != nil {
		return err
	}

	v4, err := github.NewV4(token)
	if err != nil {
		return err
	}
	v3 := github.NewV3(token)
	eve.Logger.WithField("login", v4.Login()).Info("authenticated against GitHub")

	state, err := kafka.NewStateStore(cfg.Broker, kafka.TopicGithubState)
	if err != nil {
		return err
	}
	if err := state.Restore(); err != nil {
		return err
	}
	defer func() {
		// A failed final sync means counters were lost; exit nonzero.
		if cerr := state.Close(); cerr != nil {
			eve.Logger.WithError(cerr).Error("failed to close state store")
			if err == nil {
				err = cerr
			}
		}
	}()

	statusapi.New("github", coordinator, state).Start(cfg.Status, sd)

	worker := service.NewGithubWorker(v4, v3, state, sd)

	consumer, err := kafka.NewHandlingConsumer[kafka.Request, kafka.Event]().
		Subscribe(kafka.TopicGithubRequest).
		RespondTo(kafka.TopicEvent).
		Group(kafka.GroupGithub).
		Handler(worker.Handler()).
		Build()
	if err != nil {
		return err
	}

	return consumer.Start(cfg.Broker, sd)
}
