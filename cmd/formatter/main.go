// The formatter service reformats every forked repository on a working
// branch and publishes the result.
package main

import (
	"github.com/rustyrobot/rustyrobot/cli"
	"github.com/rustyrobot/rustyrobot/config"
	"github.com/rustyrobot/rustyrobot/formatter"
	"github.com/rustyrobot/rustyrobot/kafka"
	"github.com/rustyrobot/rustyrobot/shutdown"
	"github.com/rustyrobot/rustyrobot/statusapi"
)

func main() {
	cli.Execute(cli.NewServiceCommand(
		"rustyrobot-formatter",
		"clone forks, run the code formatter and push the working branch",
		run,
	))
}

func run(cfg *config.Config, coordinator *shutdown.Coordinator) error {
	sd := coordinator.Handle()

	statusapi.New("formatter", coordinator, nil).Start(cfg.Status, sd)

	consumer, err := kafka.NewHandlingConsumer[kafka.Event, kafka.Event]().
		Subscribe(kafka.TopicEvent).
		RespondTo(kafka.TopicEvent).
		Group(kafka.GroupFormatter).
		Handler(formatter.New().Handler()).
		Build()
	if err != nil {
		return err
	}

	return consumer.Start(cfg.Broker, sd)
}
