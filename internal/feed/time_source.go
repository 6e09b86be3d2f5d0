package feed

import (
	"context"

	"github.com/jonboulle/clockwork"

	"github.com/OllieMilton/pulsefeed/internal/snapshot"
)

// ukTimeLayout formats timestamps as DD/MM/YYYY HH:MM:SS.
const ukTimeLayout = "02/01/2006 15:04:05"

// TimeSource yields the current wall-clock time as a TimePayload. It cannot
// fail.
type TimeSource struct {
	clock clockwork.Clock
}

func NewTimeSource(clock clockwork.Clock) *TimeSource {
	return &TimeSource{clock: clock}
}

func (s *TimeSource) Collect(_ context.Context) (snapshot.Payload, error) {
	now := s.clock.Now().UTC()
	return TimePayload{
		Timestamp:     now,
		FormattedTime: now.Format(ukTimeLayout),
	}, nil
}
