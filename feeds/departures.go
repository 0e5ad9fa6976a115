package feeds

import (
	"errors"
	"sort"
	"time"

	"github.com/theoremus-urban-solutions/gtfs-live/gtfs"
)

var (
	// ErrNotReady is returned by queries made before both feeds have loaded.
	ErrNotReady = errors.New("feeds: data not loaded yet")
	// ErrUnknownStop is returned for a stop code that is not in the timetable.
	ErrUnknownStop = errors.New("feeds: unknown stop code")
)

// Departure is a scheduled departure merged with its realtime prediction.
type Departure struct {
	gtfs.ScheduledDeparture
	// RealTime is zero when the feed has no prediction for this trip.
	RealTime time.Time
}

// Expected is the realtime departure if known, else the scheduled one.
func (d Departure) Expected() time.Time {
	if d.RealTime.IsZero() {
		return d.Scheduled
	}
	return d.RealTime
}

// Board is the departure list of one stop.
type Board struct {
	StopCode   string
	Stop       gtfs.Stop
	Departures []Departure
}

// Departures returns the board of a stop for [now, now+window]. Canceled
// trips and skipped stops are left out.
func (c *Coordinator) Departures(stopCode string, now time.Time, window time.Duration) (Board, error) {
	s, rt, cal := c.Static(), c.Realtime(), c.Calendar()
	if s == nil || cal == nil {
		return Board{}, ErrNotReady
	}
	stop, ok := s.StopByCode(stopCode)
	if !ok {
		return Board{}, ErrUnknownStop
	}

	board := Board{StopCode: stopCode, Stop: stop}
	for _, sd := range s.ScheduledDepartures(stop, cal, now, window) {
		if rt.TripCanceled(sd.TripID) {
			continue
		}
		d := Departure{ScheduledDeparture: sd}
		if u, ok := rt.Lookup(sd.TripID, sd.StopID, sd.StopSequence); ok {
			if u.Skipped() {
				continue
			}
			if at, ok := u.Predict(sd.Scheduled); ok {
				d.RealTime = at.In(sd.Scheduled.Location())
			}
		}
		board.Departures = append(board.Departures, d)
	}
	sort.SliceStable(board.Departures, func(i, j int) bool {
		return board.Departures[i].Expected().Before(board.Departures[j].Expected())
	})
	return board, nil
}

// DepartureBoards resolves several stop codes at once. Unknown codes are
// skipped; an empty result for a non-empty request is ErrUnknownStop.
func (c *Coordinator) DepartureBoards(stopCodes []string, now time.Time, window time.Duration) ([]Board, error) {
	if !c.Ready() {
		return nil, ErrNotReady
	}
	boards := make([]Board, 0, len(stopCodes))
	for _, code := range stopCodes {
		b, err := c.Departures(code, now, window)
		switch {
		case errors.Is(err, ErrUnknownStop):
			continue
		case err != nil:
			return nil, err
		}
		boards = append(boards, b)
	}
	if len(boards) == 0 && len(stopCodes) > 0 {
		return nil, ErrUnknownStop
	}
	return boards, nil
}
