// The dumper archives the whole event stream into a local bbolt database,
// one bucket per event kind.
package main

import (
	"github.com/rustyrobot/rustyrobot/cli"
	eve "github.com/rustyrobot/rustyrobot/common"
	"github.com/rustyrobot/rustyrobot/config"
	"github.com/rustyrobot/rustyrobot/dumper"
	"github.com/rustyrobot/rustyrobot/kafka"
	"github.com/rustyrobot/rustyrobot/shutdown"
	"github.com/rustyrobot/rustyrobot/statusapi"
)

var dbPath string

func main() {
	cmd := cli.NewServiceCommand(
		"rustyrobot-dumper",
		"archive the event stream into a local database",
		run,
	)
	cmd.Flags().StringVar(&dbPath, "db", "rustyrobot-events.db", "path of the archive database")
	cli.Execute(cmd)
}

func run(cfg *config.Config, coordinator *shutdown.Coordinator) error {
	sd := coordinator.Handle()

	archive, err := dumper.Open(dbPath)
	if err != nil {
		return err
	}
	defer func() {
		if err := archive.Close(); err != nil {
			eve.Logger.WithError(err).Error("failed to close archive")
		}
	}()

	statusapi.New("dumper", coordinator, nil).Start(cfg.Status, sd)

	consumer, err := kafka.NewHandlingConsumer[kafka.Event, kafka.Event]().
		Subscribe(kafka.TopicEvent).
		Group(kafka.GroupDumper).
		Handler(archive.Handler()).
		Build()
	if err != nil {
		return err
	}

	return consumer.Start(cfg.Broker, sd)
}
