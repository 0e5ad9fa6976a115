package feeds

import (
	"archive/zip"
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	gtfsrtpb "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"

	"github.com/theoremus-urban-solutions/gtfs-live/fetch"
	"github.com/theoremus-urban-solutions/gtfs-live/gtfs"
	"github.com/theoremus-urban-solutions/gtfs-live/periodic"
)

// Wednesday 2025-06-18 07:50 UTC.
var boardNow = time.Date(2025, time.June, 18, 7, 50, 0, 0, time.UTC)

func staticZip(t *testing.T) []byte {
	t.Helper()
	files := map[string]string{
		"agency.txt": "agency_id,agency_name,agency_url,agency_timezone\n" +
			"DB,Dublin Bus,https://dublinbus.ie,UTC\n",
		"routes.txt": "route_id,agency_id,route_short_name,route_long_name,route_type\n" +
			"R46A,DB,46A,Phoenix Park - Dun Laoghaire,3\n",
		"calendar.txt": "service_id,monday,tuesday,wednesday,thursday,friday,saturday,sunday,start_date,end_date\n" +
			"WK,1,1,1,1,1,0,0,20250101,20251231\n",
		"stops.txt": "stop_id,stop_code,stop_name,stop_lat,stop_lon\n" +
			"8220DB000002,2,Parnell Square West,53.352,-6.263\n" +
			"8220DB000007,7,Cathal Brugha Street,53.353,-6.261\n",
		"trips.txt": "route_id,service_id,trip_id,trip_headsign\n" +
			"R46A,WK,T1,Phoenix Park\n" +
			"R46A,WK,T2,Phoenix Park\n" +
			"R46A,WK,T3,Phoenix Park\n" +
			"R46A,WK,T4,Dun Laoghaire\n",
		"stop_times.txt": "trip_id,arrival_time,departure_time,stop_id,stop_sequence\n" +
			"T1,08:00:00,08:00:00,8220DB000002,1\n" +
			"T2,08:10:00,08:10:00,8220DB000002,1\n" +
			"T3,08:20:00,08:20:00,8220DB000002,1\n" +
			"T4,08:30:00,08:30:00,8220DB000002,1\n" +
			"T4,08:40:00,08:40:00,8220DB000007,2\n",
	}
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

// realtimeFeed cancels T2, skips T3 at stop 2 and delays T4 by five minutes.
func realtimeFeed(t *testing.T) []byte {
	t.Helper()
	trip := func(id string, rel gtfsrtpb.TripDescriptor_ScheduleRelationship, stus ...*gtfsrtpb.TripUpdate_StopTimeUpdate) *gtfsrtpb.FeedEntity {
		return &gtfsrtpb.FeedEntity{
			Id: proto.String(id),
			TripUpdate: &gtfsrtpb.TripUpdate{
				Trip:           &gtfsrtpb.TripDescriptor{TripId: proto.String(id), ScheduleRelationship: rel.Enum()},
				StopTimeUpdate: stus,
			},
		}
	}
	fm := &gtfsrtpb.FeedMessage{
		Header: &gtfsrtpb.FeedHeader{
			GtfsRealtimeVersion: proto.String("2.0"),
			Timestamp:           proto.Uint64(uint64(boardNow.Unix())),
		},
		Entity: []*gtfsrtpb.FeedEntity{
			trip("T2", gtfsrtpb.TripDescriptor_CANCELED),
			trip("T3", gtfsrtpb.TripDescriptor_SCHEDULED, &gtfsrtpb.TripUpdate_StopTimeUpdate{
				StopSequence:         proto.Uint32(1),
				StopId:               proto.String("8220DB000002"),
				ScheduleRelationship: gtfsrtpb.TripUpdate_StopTimeUpdate_SKIPPED.Enum(),
			}),
			trip("T4", gtfsrtpb.TripDescriptor_SCHEDULED, &gtfsrtpb.TripUpdate_StopTimeUpdate{
				StopSequence: proto.Uint32(1),
				StopId:       proto.String("8220DB000002"),
				Departure:    &gtfsrtpb.TripUpdate_StopTimeEvent{Delay: proto.Int32(300)},
			}),
		},
	}
	data, err := proto.Marshal(fm)
	require.NoError(t, err)
	return data
}

func writeFixtures(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	staticPath := filepath.Join(dir, "gtfs.zip")
	rtPath := filepath.Join(dir, "tripupdates.pb")
	require.NoError(t, os.WriteFile(staticPath, staticZip(t), 0o600))
	require.NoError(t, os.WriteFile(rtPath, realtimeFeed(t), 0o600))
	return staticPath, rtPath
}

func newCachedFixture(t *testing.T) *Coordinator {
	t.Helper()
	staticPath, rtPath := writeFixtures(t)
	c, err := NewCached(staticPath, rtPath, WithClock(func() time.Time { return boardNow }))
	require.NoError(t, err)
	return c
}

func TestGate(t *testing.T) {
	g := NewGate()
	assert.False(t, g.IsOpen())
	assert.False(t, g.WaitTimeout(0))
	assert.False(t, g.WaitTimeout(10*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, g.Wait(ctx), context.Canceled)

	released := make(chan struct{})
	go func() {
		_ = g.Wait(context.Background())
		close(released)
	}()

	g.Open()
	g.Open()
	select {
	case <-released:
	case <-time.After(time.Second):
		t.Fatal("waiter was not released")
	}
	assert.True(t, g.IsOpen())
	assert.True(t, g.WaitTimeout(0))
	for i := 0; i < 200; i++ {
		require.NoError(t, g.Wait(ctx), "an open gate ignores a done context")
	}

	select {
	case <-g.Done():
	default:
		t.Fatal("Done should be closed")
	}
}

func TestNew_RequiresAPIKey(t *testing.T) {
	opts := DefaultOptions()
	opts.StaticURL = "http://example.invalid/gtfs.zip"
	opts.RealtimeURL = "http://example.invalid/rt"

	_, err := New(opts)
	assert.ErrorIs(t, err, ErrMissingAPIKey)

	opts.RequireAPIKey = false
	c, err := New(opts)
	require.NoError(t, err)
	assert.Len(t, c.Agents(), 2)
	assert.False(t, c.Ready())
	assert.Nil(t, c.Static())
	assert.Nil(t, c.Realtime())
	assert.Nil(t, c.Calendar())
}

func TestNew_InvalidSchedule(t *testing.T) {
	opts := DefaultOptions()
	opts.RequireAPIKey = false
	opts.StaticURL = "http://example.invalid/gtfs.zip"
	opts.RealtimeURL = "http://example.invalid/rt"
	opts.RealtimeEvery = 0

	_, err := New(opts)
	assert.ErrorIs(t, err, fetch.ErrInvalidSchedule)
}

func TestCoordinator_PollsUntilReady(t *testing.T) {
	zipBody, rtBody := staticZip(t), realtimeFeed(t)
	var rtCalls atomic.Int32
	var apiKey atomic.Value
	mux := http.NewServeMux()
	mux.HandleFunc("/gtfs.zip", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(zipBody)
	})
	mux.HandleFunc("/rt", func(w http.ResponseWriter, r *http.Request) {
		// first poll fails so readiness waits for the retry
		if rtCalls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		apiKey.Store(r.Header.Get("X-API-KEY"))
		_, _ = w.Write(rtBody)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	opts := DefaultOptions()
	opts.StaticURL = srv.URL + "/gtfs.zip"
	opts.RealtimeURL = srv.URL + "/rt"
	opts.APIKey = "secret"
	opts.ETagCheck = false

	reg := prometheus.NewRegistry()
	c, err := New(opts,
		WithRegistry(reg),
		WithClock(func() time.Time { return boardNow }),
		WithAgentOptions(fetch.WithSleep(func(ctx context.Context, d time.Duration) error {
			if d < time.Minute {
				return ctx.Err()
			}
			<-ctx.Done()
			return ctx.Err()
		})))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.Start(ctx)
	defer c.Stop()

	require.True(t, c.WaitReady(5*time.Second))
	require.NotNil(t, c.Static())
	assert.Equal(t, boardNow, c.Static().LoadedAt)
	assert.Equal(t, 3, c.Realtime().TripCount())
	require.NotNil(t, c.Calendar())
	assert.True(t, c.Calendar().Contains("WK", gtfs.DateOf(boardNow)))
	assert.Equal(t, "secret", apiKey.Load())
	assert.GreaterOrEqual(t, rtCalls.Load(), int32(2))

	n, err := testutil.GatherAndCount(reg, "gtfslive_fetch_fetches_total")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, 2, "one series per agent and result")
}

func TestCoordinator_WaitReadyTimeoutKeepsPolling(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	opts := DefaultOptions()
	opts.StaticURL = srv.URL + "/gtfs.zip"
	opts.RealtimeURL = srv.URL + "/rt"
	opts.APIKey = "secret"
	opts.ETagCheck = false

	c, err := New(opts, WithAgentOptions(fetch.WithSleep(func(ctx context.Context, _ time.Duration) error {
		return periodic.Sleep(ctx, time.Millisecond)
	})))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.Start(ctx)
	defer c.Stop()

	assert.False(t, c.WaitReady(50*time.Millisecond))
	assert.False(t, c.Ready())

	before := calls.Load()
	require.Eventually(t, func() bool { return calls.Load() > before+4 }, 5*time.Second, 5*time.Millisecond,
		"agents keep retrying after the readiness wait gave up")
}

func TestNewCached(t *testing.T) {
	c := newCachedFixture(t)
	assert.True(t, c.Ready())
	assert.True(t, c.WaitReady(0))
	assert.Empty(t, c.Agents())
	assert.Equal(t, boardNow, c.Now())
	assert.Equal(t, boardNow, c.Static().LoadedAt)

	cal := c.Calendar()
	require.NotNil(t, cal)
	assert.Equal(t, gtfs.DateOf(boardNow).AddDays(gtfs.DefaultStartOffset), cal.From)
	assert.Equal(t, gtfs.DateOf(boardNow).AddDays(gtfs.DefaultStopOffset), cal.To)

	_, err := NewCached(filepath.Join(t.TempDir(), "missing.zip"), "x.pb")
	assert.Error(t, err)
}

func TestDepartures(t *testing.T) {
	c := newCachedFixture(t)

	board, err := c.Departures("2", boardNow, 90*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "Parnell Square West", board.Stop.Name)
	require.Len(t, board.Departures, 2, "T2 is canceled and T3 skips the stop")

	first, second := board.Departures[0], board.Departures[1]
	assert.Equal(t, "T1", first.TripID)
	assert.True(t, first.RealTime.IsZero())
	assert.Equal(t, time.Date(2025, time.June, 18, 8, 0, 0, 0, time.UTC), first.Expected())

	assert.Equal(t, "T4", second.TripID)
	assert.Equal(t, "46A", second.Route)
	assert.Equal(t, "Dun Laoghaire", second.Headsign)
	assert.Equal(t, "Dublin Bus", second.Agency)
	assert.Equal(t, time.Date(2025, time.June, 18, 8, 30, 0, 0, time.UTC), second.Scheduled)
	assert.Equal(t, time.Date(2025, time.June, 18, 8, 35, 0, 0, time.UTC), second.RealTime)

	downstream, err := c.Departures("7", boardNow, 90*time.Minute)
	require.NoError(t, err)
	require.Len(t, downstream.Departures, 1)
	assert.Equal(t, time.Date(2025, time.June, 18, 8, 45, 0, 0, time.UTC), downstream.Departures[0].RealTime,
		"the delay propagates to later stops")

	short, err := c.Departures("2", boardNow, 15*time.Minute)
	require.NoError(t, err)
	assert.Len(t, short.Departures, 1)

	_, err = c.Departures("999", boardNow, time.Hour)
	assert.ErrorIs(t, err, ErrUnknownStop)
}

func TestDepartures_Weekend(t *testing.T) {
	c := newCachedFixture(t)
	saturday := time.Date(2025, time.June, 21, 7, 50, 0, 0, time.UTC)
	board, err := c.Departures("2", saturday, 90*time.Minute)
	require.NoError(t, err)
	assert.Empty(t, board.Departures)
}

func TestDepartureBoards(t *testing.T) {
	c := newCachedFixture(t)

	boards, err := c.DepartureBoards([]string{"2", "999", "7"}, boardNow, 90*time.Minute)
	require.NoError(t, err)
	require.Len(t, boards, 2)
	assert.Equal(t, "2", boards[0].StopCode)
	assert.Equal(t, "7", boards[1].StopCode)

	_, err = c.DepartureBoards([]string{"999"}, boardNow, time.Hour)
	assert.ErrorIs(t, err, ErrUnknownStop)
}

func TestDepartures_NotReady(t *testing.T) {
	opts := DefaultOptions()
	opts.RequireAPIKey = false
	opts.StaticURL = "http://example.invalid/gtfs.zip"
	opts.RealtimeURL = "http://example.invalid/rt"
	c, err := New(opts)
	require.NoError(t, err)

	_, err = c.Departures("2", boardNow, time.Hour)
	assert.ErrorIs(t, err, ErrNotReady)
	_, err = c.DepartureBoards([]string{"2"}, boardNow, time.Hour)
	assert.ErrorIs(t, err, ErrNotReady)
}
