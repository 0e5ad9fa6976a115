package gtfsrt

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	gtfsrtpb "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"google.golang.org/protobuf/proto"
)

// Update is one stop_time_update flattened with its trip context.
type Update struct {
	EntityID  string
	TripID    string
	RouteID   string
	VehicleID string
	StartDate string
	StartTime string
	// Start is start_date and start_time read as wall clock time in UTC;
	// zero when either is missing.
	Start            time.Time
	TripRelationship gtfsrtpb.TripDescriptor_ScheduleRelationship

	StopID           string
	StopSequence     uint32
	StopRelationship gtfsrtpb.TripUpdate_StopTimeUpdate_ScheduleRelationship
	ArrivalDelay     time.Duration
	DepartureDelay   time.Duration
	// ArrivalTime and DepartureTime are the absolute predictions, zero when
	// the producer only sent delays.
	ArrivalTime   time.Time
	DepartureTime time.Time

	hasDeparture bool
	hasArrival   bool
}

// Skipped reports whether the vehicle will not stop here.
func (u Update) Skipped() bool {
	return u.StopRelationship == gtfsrtpb.TripUpdate_StopTimeUpdate_SKIPPED
}

// Predict returns the realtime departure for a stop scheduled at scheduled.
// An absolute departure wins over a departure delay, which wins over the
// arrival equivalents.
func (u Update) Predict(scheduled time.Time) (time.Time, bool) {
	switch {
	case !u.DepartureTime.IsZero():
		return u.DepartureTime, true
	case u.hasDeparture:
		return scheduled.Add(u.DepartureDelay), true
	case !u.ArrivalTime.IsZero():
		return u.ArrivalTime, true
	case u.hasArrival:
		return scheduled.Add(u.ArrivalDelay), true
	default:
		return time.Time{}, false
	}
}

type tripStop struct {
	trip string
	stop string
}

// Realtime is an immutable snapshot of one TripUpdates feed.
type Realtime struct {
	Timestamp      time.Time
	Incrementality gtfsrtpb.FeedHeader_Incrementality
	Version        string
	Updates        []Update

	byTrip     map[string][]int
	byTripStop map[tripStop]int
	tripRel    map[string]gtfsrtpb.TripDescriptor_ScheduleRelationship
}

// ParseRealtime decodes a serialized FeedMessage.
func ParseRealtime(data []byte) (*Realtime, error) {
	var fm gtfsrtpb.FeedMessage
	if err := proto.Unmarshal(data, &fm); err != nil {
		return nil, fmt.Errorf("gtfsrt: decode feed: %w", err)
	}
	if fm.GetHeader() == nil {
		return nil, errors.New("gtfsrt: feed has no header")
	}
	return FromFeed(&fm), nil
}

// LoadRealtimeFile parses a FeedMessage stored on disk.
func LoadRealtimeFile(filename string) (*Realtime, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("gtfsrt: %w", err)
	}
	return ParseRealtime(data)
}

// FromFeed indexes an already decoded feed.
func FromFeed(fm *gtfsrtpb.FeedMessage) *Realtime {
	rt := &Realtime{
		Incrementality: fm.GetHeader().GetIncrementality(),
		Version:        fm.GetHeader().GetGtfsRealtimeVersion(),
		byTrip:         map[string][]int{},
		byTripStop:     map[tripStop]int{},
		tripRel:        map[string]gtfsrtpb.TripDescriptor_ScheduleRelationship{},
	}
	if ts := fm.GetHeader().GetTimestamp(); ts > 0 {
		rt.Timestamp = time.Unix(int64(ts), 0).UTC()
	}

	for _, e := range fm.GetEntity() {
		tu := e.GetTripUpdate()
		if tu == nil || tu.GetTrip().GetTripId() == "" {
			continue
		}
		trip := tu.GetTrip()
		tripID := trip.GetTripId()
		rt.tripRel[tripID] = trip.GetScheduleRelationship()

		base := Update{
			EntityID:         e.GetId(),
			TripID:           tripID,
			RouteID:          trip.GetRouteId(),
			VehicleID:        tu.GetVehicle().GetId(),
			StartDate:        trip.GetStartDate(),
			StartTime:        trip.GetStartTime(),
			Start:            startOf(trip.GetStartDate(), trip.GetStartTime()),
			TripRelationship: trip.GetScheduleRelationship(),
		}

		for _, stu := range tu.GetStopTimeUpdate() {
			u := base
			u.StopID = stu.GetStopId()
			u.StopSequence = stu.GetStopSequence()
			u.StopRelationship = stu.GetScheduleRelationship()
			if arr := stu.GetArrival(); arr != nil {
				u.hasArrival = arr.Delay != nil
				u.ArrivalDelay = time.Duration(arr.GetDelay()) * time.Second
				if t := arr.GetTime(); t > 0 {
					u.ArrivalTime = time.Unix(t, 0).UTC()
				}
			}
			if dep := stu.GetDeparture(); dep != nil {
				u.hasDeparture = dep.Delay != nil
				u.DepartureDelay = time.Duration(dep.GetDelay()) * time.Second
				if t := dep.GetTime(); t > 0 {
					u.DepartureTime = time.Unix(t, 0).UTC()
				}
			}

			i := len(rt.Updates)
			rt.Updates = append(rt.Updates, u)
			rt.byTrip[tripID] = append(rt.byTrip[tripID], i)
			if u.StopID != "" {
				rt.byTripStop[tripStop{tripID, u.StopID}] = i
			}
		}
	}

	for _, idx := range rt.byTrip {
		sort.SliceStable(idx, func(a, b int) bool {
			return rt.Updates[idx[a]].StopSequence < rt.Updates[idx[b]].StopSequence
		})
	}
	return rt
}

func startOf(date, clock string) time.Time {
	if date == "" || clock == "" {
		return time.Time{}
	}
	t, err := time.Parse("20060102 15:04:05", date+" "+clock)
	if err != nil {
		return time.Time{}
	}
	return t
}

// ForTrip returns the updates of a trip ordered by stop sequence.
func (r *Realtime) ForTrip(tripID string) []Update {
	if r == nil {
		return nil
	}
	idx := r.byTrip[tripID]
	out := make([]Update, len(idx))
	for i, j := range idx {
		out[i] = r.Updates[j]
	}
	return out
}

// HasTrip reports whether the feed mentions tripID.
func (r *Realtime) HasTrip(tripID string) bool {
	if r == nil {
		return false
	}
	_, ok := r.tripRel[tripID]
	return ok
}

// TripCanceled reports whether the feed cancels tripID.
func (r *Realtime) TripCanceled(tripID string) bool {
	if r == nil {
		return false
	}
	return r.tripRel[tripID] == gtfsrtpb.TripDescriptor_CANCELED
}

// Lookup finds the update that applies to a trip at a stop. Without an exact
// stop match the delay of the closest earlier stop sequence propagates, as
// GTFS-Realtime prescribes; absolute times do not propagate.
func (r *Realtime) Lookup(tripID, stopID string, stopSequence int) (Update, bool) {
	if r == nil {
		return Update{}, false
	}
	if i, ok := r.byTripStop[tripStop{tripID, stopID}]; ok {
		return r.Updates[i], true
	}
	var (
		found bool
		best  Update
	)
	for _, i := range r.byTrip[tripID] {
		u := r.Updates[i]
		if u.StopSequence == 0 {
			continue
		}
		if int(u.StopSequence) >= stopSequence {
			break
		}
		if u.Skipped() {
			continue
		}
		best, found = u, true
	}
	if !found {
		return Update{}, false
	}
	best.StopID, best.StopSequence = stopID, uint32(stopSequence)
	best.StopRelationship = gtfsrtpb.TripUpdate_StopTimeUpdate_SCHEDULED
	best.ArrivalTime, best.DepartureTime = time.Time{}, time.Time{}
	if !best.hasDeparture && !best.hasArrival {
		return Update{}, false
	}
	return best, true
}

// Len is the number of stop time updates.
func (r *Realtime) Len() int {
	if r == nil {
		return 0
	}
	return len(r.Updates)
}

// TripCount is the number of trips in the feed.
func (r *Realtime) TripCount() int {
	if r == nil {
		return 0
	}
	return len(r.tripRel)
}
