// The event-handler emits a FetchNotifications request every few minutes
// so the github worker keeps polling the notification feed.
package main

import (
	"time"

	"github.com/rustyrobot/rustyrobot/cli"
	eve "github.com/rustyrobot/rustyrobot/common"
	"github.com/rustyrobot/rustyrobot/config"
	"github.com/rustyrobot/rustyrobot/kafka"
	"github.com/rustyrobot/rustyrobot/shutdown"
	"github.com/rustyrobot/rustyrobot/statusapi"
)

const notificationPeriod = 5 * time.Minute

func main() {
	cli.Execute(cli.NewServiceCommand(
		"rustyrobot-event-handler",
		"request a notification fetch on a fixed schedule",
		run,
	))
}

func run(cfg *config.Config, coordinator *shutdown.Coordinator) error {
	sd := coordinator.Handle()

	producer, err := kafka.NewBufferedProducer(cfg.Broker, kafka.TopicGithubRequest, sd)
	if err != nil {
		return err
	}
	defer func() {
		if err := producer.Close(); err != nil {
			eve.Logger.WithError(err).Error("failed to flush producer")
		}
	}()

	statusapi.New("event-handler", coordinator, nil).Start(cfg.Status, sd)

	next := time.Now()
	for !sd.ShouldShutdown() {
		if !time.Now().Before(next) {
			if err := producer.Send(kafka.Request{FetchNotifications: true}); err != nil {
				eve.Logger.WithError(err).Error("failed to request a notification fetch")
			} else {
				next = time.Now().Add(notificationPeriod)
			}
		}
		time.Sleep(time.Second)
	}

	return nil
}
