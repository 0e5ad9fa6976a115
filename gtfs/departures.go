package gtfs

import (
	"sort"
	"time"
)

// ScheduledDeparture is a timetabled departure of a trip from a stop on a
// concrete service day.
type ScheduledDeparture struct {
	TripID       string
	RouteID      string
	Route        string
	Headsign     string
	Agency       string
	StopID       string
	StopSequence int
	ServiceDate  Date
	Scheduled    time.Time
}

// ScheduledDepartures lists departures from stop within [now, now+window],
// keeping only trips whose service runs on their service day in cal.
// Service days from yesterday to tomorrow are considered so that times past
// 24:00:00 and windows crossing midnight are covered.
func (s *Static) ScheduledDepartures(stop Stop, cal *ExpandedCalendar, now time.Time, window time.Duration) []ScheduledDeparture {
	loc := s.Location()
	now = now.In(loc)
	until := now.Add(window)
	today := DateOf(now)

	var out []ScheduledDeparture
	for _, day := range []Date{today.AddDays(-1), today, today.AddDays(1)} {
		start := day.ServiceStart(loc)
		for _, st := range s.timesByStop[stop.ID] {
			at := start.Add(st.Departure)
			if at.Before(now) {
				continue
			}
			if at.After(until) {
				// stop times are ordered by departure
				break
			}
			trip, ok := s.Trips[st.TripID]
			if !ok || !cal.Contains(trip.ServiceID, day) {
				continue
			}
			route := s.Routes[trip.RouteID]
			out = append(out, ScheduledDeparture{
				TripID:       trip.ID,
				RouteID:      trip.RouteID,
				Route:        route.Name(),
				Headsign:     trip.Headsign,
				Agency:       s.AgencyName(trip.RouteID),
				StopID:       stop.ID,
				StopSequence: st.Sequence,
				ServiceDate:  day,
				Scheduled:    at,
			})
		}
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Scheduled.Before(out[j].Scheduled) })
	return out
}
