// The fetcher walks repository creation dates and emits one search request
// per window onto the request topic, re-running every fetch interval.
package main

import (
	"time"

	"github.com/rustyrobot/rustyrobot/cli"
	eve "github.com/rustyrobot/rustyrobot/common"
	"github.com/rustyrobot/rustyrobot/config"
	"github.com/rustyrobot/rustyrobot/fetcher"
	"github.com/rustyrobot/rustyrobot/kafka"
	"github.com/rustyrobot/rustyrobot/search"
	"github.com/rustyrobot/rustyrobot/shutdown"
	"github.com/rustyrobot/rustyrobot/statusapi"
)

func main() {
	cli.Execute(cli.NewServiceCommand(
		"rustyrobot-fetcher",
		"emit repository search requests, one date window at a time",
		run,
	))
}

func run(cfg *config.Config, coordinator *shutdown.Coordinator) (err error) {
	sd := coordinator.Handle()

	state, err := kafka.NewStateStore(cfg.Broker, kafka.TopicFetcherState)
	if err != nil {
		return err
	}
	if err := state.Restore(); err != nil {
		return err
	}
	defer func() {
		// A failed final sync means the resume point was lost; exit nonzero.
		if cerr := state.Close(); cerr != nil {
			eve.Logger.WithError(cerr).Error("failed to close state store")
			if err == nil {
				err = cerr
			}
		}
	}()

	producer, err := kafka.NewBufferedProducer(cfg.Broker, kafka.TopicGithubRequest, sd)
	if err != nil {
		return err
	}
	defer func() {
		if err := producer.Close(); err != nil {
			eve.Logger.WithError(err).Error("failed to flush producer")
		}
	}()

	statusapi.New("fetcher", coordinator, state).Start(cfg.Status, sd)

	query := search.NewQuery().
		SearchFor(search.SearchForRepository).
		Lang(search.Lang(cfg.Fetcher.Language)).
		Count(100)

	strategy := &fetcher.DateWindow{DaysPerRequest: cfg.Fetcher.DaysPerRequest}
	if cfg.Fetcher.StartDate != "" {
		start, err := time.Parse("2006-01-02", cfg.Fetcher.StartDate)
		if err != nil {
			return err
		}
		strategy.StartDate = &start
	}

	// The first round may start from the configured date; later rounds
	// resume from the persisted window.
	next := time.Now()
	for !sd.ShouldShutdown() {
		if !time.Now().Before(next) {
			f := fetcher.New(state, producer, sd, strategy)
			strategy.StartDate = nil

			if err := f.Fetch(query.Clone()); err != nil {
				eve.Logger.WithError(err).Error("fetch round failed")
			} else {
				next = time.Now().Add(cfg.Fetcher.Interval)
			}
		}
		time.Sleep(time.Second)
	}

	return nil
}
