package fetcher

import (
	"fmt"
	"time"

	eve "github.com/rustyrobot/rustyrobot/common"
	"github.com/rustyrobot/rustyrobot/search"
)

// lastDateKey is the state entry holding the start of the last requested
// window, the resume point after a restart.
const lastDateKey = "last_date"

const dateLayout = "2006-01-02"

// DateWindow walks repository creation dates in fixed-size windows and
// emits one fetch request per window. The window start is persisted before
// the request goes out, so a crash re-requests at most one window.
type DateWindow struct {
	// DaysPerRequest is the window width in days, minimum 1.
	DaysPerRequest int64

	// StartDate overrides the resume point. When nil the strategy resumes
	// from the persisted last_date, falling back to today.
	StartDate *time.Time

	// EndDate bounds the walk. When nil today is used.
	EndDate *time.Time

	now func() time.Time
}

// Execute walks the date windows until the end date is passed or shutdown
// is requested.
func (s *DateWindow) Execute(shared *Shared, query *search.IncompleteQuery) error {
	if s.DaysPerRequest < 1 {
		return fmt.Errorf("days per request must be at least 1, got %d", s.DaysPerRequest)
	}

	date := s.startDate(shared.State)
	end := s.endDate()

	for !date.After(end) && !shared.Shutdown.ShouldShutdown() {
		windowStart := date.Format(dateLayout)
		windowEnd := date.AddDate(0, 0, int(s.DaysPerRequest))

		// Persist the resume point before requesting the window.
		if err := shared.State.Set(lastDateKey, windowStart); err != nil {
			return err
		}
		if err := shared.State.Sync(); err != nil {
			return err
		}

		date = windowEnd.AddDate(0, 0, 1)

		segment := fmt.Sprintf("created:%s..%s", windowStart, windowEnd.Format(dateLayout))
		eve.Logger.WithField("window", segment).Info("requesting window")

		if err := (Simple{}).Execute(shared, query.Clone().RawQuery(segment)); err != nil {
			return err
		}
	}

	return nil
}

// startDate resolves where the walk begins: the explicit override, then the
// persisted resume point, then today.
func (s *DateWindow) startDate(state StateSync) time.Time {
	if s.StartDate != nil {
		return dateOnly(*s.StartDate)
	}

	if persisted := state.GetString(lastDateKey); persisted != "" {
		date, err := time.Parse(dateLayout, persisted)
		if err == nil {
			return date
		}
		eve.Logger.WithError(err).Error("failed to parse last_date, using today")
	}

	return s.today()
}

func (s *DateWindow) endDate() time.Time {
	if s.EndDate != nil {
		return dateOnly(*s.EndDate)
	}
	return s.today()
}

func (s *DateWindow) today() time.Time {
	now := time.Now
	if s.now != nil {
		now = s.now
	}
	return dateOnly(now().UTC())
}

func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
