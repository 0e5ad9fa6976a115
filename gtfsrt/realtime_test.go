package gtfsrt

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	gtfsrtpb "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
)

func stopUpdate(seq uint32, stopID string, depDelay *int32, rel gtfsrtpb.TripUpdate_StopTimeUpdate_ScheduleRelationship) *gtfsrtpb.TripUpdate_StopTimeUpdate {
	stu := &gtfsrtpb.TripUpdate_StopTimeUpdate{
		StopSequence:         proto.Uint32(seq),
		StopId:               proto.String(stopID),
		ScheduleRelationship: rel.Enum(),
	}
	if depDelay != nil {
		stu.Departure = &gtfsrtpb.TripUpdate_StopTimeEvent{Delay: depDelay}
	}
	return stu
}

func tripEntity(id, tripID, routeID string, rel gtfsrtpb.TripDescriptor_ScheduleRelationship, updates ...*gtfsrtpb.TripUpdate_StopTimeUpdate) *gtfsrtpb.FeedEntity {
	return &gtfsrtpb.FeedEntity{
		Id: proto.String(id),
		TripUpdate: &gtfsrtpb.TripUpdate{
			Trip: &gtfsrtpb.TripDescriptor{
				TripId:               proto.String(tripID),
				RouteId:              proto.String(routeID),
				StartDate:            proto.String("20250619"),
				StartTime:            proto.String("14:05:00"),
				ScheduleRelationship: rel.Enum(),
			},
			Vehicle:        &gtfsrtpb.VehicleDescriptor{Id: proto.String("V" + id)},
			StopTimeUpdate: updates,
		},
	}
}

func fixtureFeed(t *testing.T) []byte {
	t.Helper()
	scheduled := gtfsrtpb.TripUpdate_StopTimeUpdate_SCHEDULED
	fm := &gtfsrtpb.FeedMessage{
		Header: &gtfsrtpb.FeedHeader{
			GtfsRealtimeVersion: proto.String("2.0"),
			Incrementality:      gtfsrtpb.FeedHeader_FULL_DATASET.Enum(),
			Timestamp:           proto.Uint64(1750341906),
		},
		Entity: []*gtfsrtpb.FeedEntity{
			tripEntity("1", "T1", "R46A", gtfsrtpb.TripDescriptor_SCHEDULED,
				stopUpdate(3, "S3", proto.Int32(240), scheduled),
				stopUpdate(1, "S1", proto.Int32(60), scheduled),
				stopUpdate(2, "S2", nil, gtfsrtpb.TripUpdate_StopTimeUpdate_SKIPPED),
			),
			tripEntity("2", "T2", "R175", gtfsrtpb.TripDescriptor_CANCELED),
			{Id: proto.String("alert-only")},
		},
	}
	data, err := proto.Marshal(fm)
	require.NoError(t, err)
	return data
}

func TestParseRealtime(t *testing.T) {
	rt, err := ParseRealtime(fixtureFeed(t))
	require.NoError(t, err)

	assert.Equal(t, time.Unix(1750341906, 0).UTC(), rt.Timestamp)
	assert.Equal(t, gtfsrtpb.FeedHeader_FULL_DATASET, rt.Incrementality)
	assert.Equal(t, "2.0", rt.Version)
	assert.Equal(t, 3, rt.Len())
	assert.Equal(t, 2, rt.TripCount())

	updates := rt.ForTrip("T1")
	require.Len(t, updates, 3)
	assert.Equal(t, []string{"S1", "S2", "S3"}, []string{updates[0].StopID, updates[1].StopID, updates[2].StopID})

	first := updates[0]
	assert.Equal(t, "1", first.EntityID)
	assert.Equal(t, "R46A", first.RouteID)
	assert.Equal(t, "V1", first.VehicleID)
	assert.Equal(t, time.Date(2025, time.June, 19, 14, 5, 0, 0, time.UTC), first.Start)
	assert.Equal(t, time.Minute, first.DepartureDelay)
	assert.True(t, updates[1].Skipped())

	assert.True(t, rt.HasTrip("T2"))
	assert.True(t, rt.TripCanceled("T2"))
	assert.False(t, rt.TripCanceled("T1"))
	assert.Empty(t, rt.ForTrip("T2"))
}

func TestParseRealtime_Invalid(t *testing.T) {
	_, err := ParseRealtime([]byte{0xff, 0xff, 0xff})
	assert.Error(t, err)
}

func TestLookup(t *testing.T) {
	rt, err := ParseRealtime(fixtureFeed(t))
	require.NoError(t, err)

	u, ok := rt.Lookup("T1", "S3", 3)
	require.True(t, ok)
	assert.Equal(t, 4*time.Minute, u.DepartureDelay)

	u, ok = rt.Lookup("T1", "S4", 4)
	require.True(t, ok, "delay propagates from the last earlier stop")
	assert.Equal(t, "S4", u.StopID)
	assert.Equal(t, 4*time.Minute, u.DepartureDelay)
	assert.False(t, u.Skipped())

	u, ok = rt.Lookup("T1", "S2b", 3)
	require.True(t, ok, "skipped stops do not propagate")
	assert.Equal(t, time.Minute, u.DepartureDelay)

	_, ok = rt.Lookup("T1", "S0", 1)
	assert.False(t, ok)
	_, ok = rt.Lookup("T9", "S1", 1)
	assert.False(t, ok)
}

func TestUpdate_Predict(t *testing.T) {
	scheduled := time.Date(2025, time.June, 19, 14, 0, 0, 0, time.UTC)
	absolute := scheduled.Add(7 * time.Minute)

	tests := []struct {
		name string
		u    Update
		want time.Time
		ok   bool
	}{
		{"absolute departure", Update{DepartureTime: absolute, DepartureDelay: time.Minute, hasDeparture: true}, absolute, true},
		{"departure delay", Update{DepartureDelay: 2 * time.Minute, hasDeparture: true}, scheduled.Add(2 * time.Minute), true},
		{"zero delay is on time", Update{hasDeparture: true}, scheduled, true},
		{"arrival time", Update{ArrivalTime: absolute}, absolute, true},
		{"arrival delay", Update{ArrivalDelay: -time.Minute, hasArrival: true}, scheduled.Add(-time.Minute), true},
		{"nothing", Update{}, time.Time{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := tt.u.Predict(scheduled)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLoadRealtimeFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tripupdates.pb")
	require.NoError(t, os.WriteFile(path, fixtureFeed(t), 0o600))

	rt, err := LoadRealtimeFile(path)
	require.NoError(t, err)
	assert.Equal(t, 2, rt.TripCount())

	_, err = LoadRealtimeFile(filepath.Join(t.TempDir(), "nope.pb"))
	assert.Error(t, err)
}

func TestRealtime_NilSafe(t *testing.T) {
	var rt *Realtime
	assert.Nil(t, rt.ForTrip("T1"))
	assert.False(t, rt.HasTrip("T1"))
	assert.False(t, rt.TripCanceled("T1"))
	_, ok := rt.Lookup("T1", "S1", 1)
	assert.False(t, ok)
	assert.Equal(t, 0, rt.Len())
	assert.Equal(t, 0, rt.TripCount())
}
