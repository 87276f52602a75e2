// delete-forks is a cleanup utility: it replays the event topic under a
// throwaway group and asks the github worker to delete every fork the
// pipeline ever created. Stop it with Ctrl-C once it goes idle.
package main

import (
	"github.com/google/uuid"

	"github.com/rustyrobot/rustyrobot/cli"
	"github.com/rustyrobot/rustyrobot/config"
	"github.com/rustyrobot/rustyrobot/kafka"
	"github.com/rustyrobot/rustyrobot/service"
	"github.com/rustyrobot/rustyrobot/shutdown"
)

func main() {
	cli.Execute(cli.NewServiceCommand(
		"rustyrobot-delete-forks",
		"request deletion of every fork recorded on the event topic",
		run,
	))
}

func run(cfg *config.Config, coordinator *shutdown.Coordinator) error {
	sd := coordinator.Handle()

	// A fresh group replays the topic from the beginning every run.
	group := "rustyrobot.delete-forks-" + uuid.NewString()

	consumer, err := kafka.NewHandlingConsumer[kafka.Event, kafka.Request]().
		Subscribe(kafka.TopicEvent).
		RespondTo(kafka.TopicGithubRequest).
		Group(group).
		Handler(service.DeleteForksHandler()).
		Build()
	if err != nil {
		return err
	}

	return consumer.Start(cfg.Broker, sd)
}
