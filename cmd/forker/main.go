// The forker turns every fetched repository into a fork request.
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
		"rustyrobot-forker",
		"translate fetched repositories into fork requests",
		run,
	))
}

func run(cfg *config.Config, coordinator *shutdown.Coordinator) error {
	sd := coordinator.Handle()

	statusapi.New("forker", coordinator, nil).Start(cfg.Status, sd)

	consumer, err := kafka.NewHandlingConsumer[kafka.Event, kafka.Request]().
		Subscribe(kafka.TopicEvent).
		RespondTo(kafka.TopicGithubRequest).
		Group(kafka.GroupForker).
		Handler(service.ForkerHandler()).
		Build()
	if err != nil {
		return err
	}

	return consumer.Start(cfg.Broker, sd)
}
