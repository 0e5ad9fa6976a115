package gtfs

import (
	"archive/zip"
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

// buildZip writes files into an in-memory archive.
func buildZip(t *testing.T, files map[string]string) []byte {
	t.Helper()
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

// fixtureFiles is a small feed: a weekday service, a Saturday service and an
// extra service that only exists through calendar_dates.txt.
func fixtureFiles() map[string]string {
	return map[string]string{
		"agency.txt": "agency_id,agency_name,agency_url,agency_timezone\n" +
			"7778019,Dublin Bus,https://dublinbus.ie,UTC\n" +
			"7778020,Go-Ahead,https://goahead.ie,UTC\n",
		"routes.txt": "route_id,agency_id,route_short_name,route_long_name,route_type\n" +
			"R46A,7778019,46A,Phoenix Park - Dun Laoghaire,3\n" +
			"R175,7778020,,Citywest - UCD,3\n",
		"calendar.txt": "service_id,monday,tuesday,wednesday,thursday,friday,saturday,sunday,start_date,end_date\n" +
			"WK,1,1,1,1,1,0,0,20250101,20251231\n" +
			"SAT,0,0,0,0,0,1,0,20250101,20251231\n",
		"calendar_dates.txt": "service_id,date,exception_type\n" +
			"WK,20250616,2\n" +
			"XTRA,20250618,1\n",
		"stops.txt": "stop_id,stop_code,stop_name,stop_lat,stop_lon\n" +
			"8220DB000002,2,Parnell Square West,53.352,-6.263\n" +
			"8220DB000007,7,Cathal Brugha Street,53.353,-6.261\n" +
			"8220DB00NOCD,,Depot,53.300,-6.200\n",
		"trips.txt": "route_id,service_id,trip_id,trip_headsign\n" +
			"R46A,WK,T1,Phoenix Park\n" +
			"R46A,SAT,T2,Phoenix Park\n" +
			"R46A,WK,T3,Phoenix Park\n" +
			"R175,XTRA,T4,UCD\n",
		"stop_times.txt": "trip_id,arrival_time,departure_time,stop_id,stop_sequence\n" +
			"T1,08:00:00,08:00:00,8220DB000002,1\n" +
			"T1,08:05:00,08:06:00,8220DB000007,2\n" +
			"T2,08:10:00,08:10:00,8220DB000002,1\n" +
			"T3,25:10:00,25:10:00,8220DB000002,1\n" +
			"T4,07:55:00,07:55:00,8220DB000002,1\n" +
			"T4,,,8220DB000007,2\n",
	}
}

func mustParseFixture(t *testing.T) *Static {
	t.Helper()
	s, err := ParseStatic(buildZip(t, fixtureFiles()))
	require.NoError(t, err)
	return s
}
