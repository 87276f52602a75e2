// The pr-issuer turns formatted repositories into pull request requests.
package main

import (
	"github.com/rustyrobot/rustyrobot/cli"
	"github.com/rustyrobot/rustyrobot/config"
	"github.com/rustyrobot/rustyrobot/kafka"
	"github.com/rustyrobot/rustyrobot/service"
	"github.com/rustyrobot/rustyrobot/shutdown"
	"github.com/rustyrobot/rustyrobot/statusapi"
)

func main() {
	cli.Execute(cli.NewServiceCommand(
		"rustyrobot-pr-issuer",
		"open pull requests for formatted repositories",
		run,
	))
}

func run(cfg *config.Config, coordinator *shutdown.Coordinator) error {
	sd := coordinator.Handle()

	statusapi.New("pr-issuer", coordinator, nil).Start(cfg.Status, sd)

	consumer, err := kafka.NewHandlingConsumer[kafka.Event, kafka.Request]().
		Subscribe(kafka.TopicEvent).
		RespondTo(kafka.TopicGithubRequest).
		Group(kafka.GroupPRIssuer).
		Handler(service.PRIssuerHandler()).
		Build()
	if err != nil {
		return err
	}

	return consumer.Start(cfg.Broker, sd)
}
