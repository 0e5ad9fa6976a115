package gtfs

import (
	"archive/zip"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Agency is a row of agency.txt.
type Agency struct {
	ID       string
	Name     string
	Timezone string
}

// Route is a row of routes.txt.
type Route struct {
	ID        string
	AgencyID  string
	ShortName string
	LongName  string
}

// Name returns the short name, or the long name when it is empty.
func (r Route) Name() string {
	if r.ShortName != "" {
		return r.ShortName
	}
	return r.LongName
}

// Stop is a row of stops.txt.
type Stop struct {
	ID   string
	Code string
	Name string
	Lat  float64
	Lon  float64
}

// Trip is a row of trips.txt.
type Trip struct {
	ID        string
	RouteID   string
	ServiceID string
	Headsign  string
}

// StopTime is a row of stop_times.txt. Departure is the offset from the
// service day start and may exceed 24 hours.
type StopTime struct {
	TripID    string
	StopID    string
	Sequence  int
	Departure time.Duration
}

// Static is an immutable, indexed GTFS static dataset.
type Static struct {
	Agencies   map[string]Agency
	Routes     map[string]Route
	Stops      map[string]Stop
	Trips      map[string]Trip
	Calendar   []CalendarRow
	Exceptions []CalendarException
	// LoadedAt defaults to the parse time; an owner with its own clock may
	// restamp it before sharing the value.
	LoadedAt time.Time

	agencyOrder []string
	stopByCode  map[string]string
	timesByStop map[string][]StopTime
	location    *time.Location
}

// required members; calendar.txt and calendar_dates.txt are checked apart
// since a feed may carry either.
var requiredMembers = []string{"agency.txt", "routes.txt", "trips.txt", "stops.txt", "stop_times.txt"}

// ParseStatic parses a GTFS zip archive held in memory.
func ParseStatic(data []byte) (*Static, error) {
	return ParseStaticReader(bytes.NewReader(data), int64(len(data)))
}

// LoadStaticFile parses a GTFS zip archive on disk.
func LoadStaticFile(filename string) (*Static, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("gtfs: %w", err)
	}
	return ParseStatic(data)
}

// ParseStaticReader parses a GTFS zip archive from r.
func ParseStaticReader(r io.ReaderAt, size int64) (*Static, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, fmt.Errorf("gtfs: open archive: %w", err)
	}

	members := make(map[string]*zip.File, len(zr.File))
	for _, f := range zr.File {
		members[strings.ToLower(path.Base(f.Name))] = f
	}
	for _, name := range requiredMembers {
		if members[name] == nil {
			return nil, fmt.Errorf("gtfs: missing %s", name)
		}
	}
	if members["calendar.txt"] == nil && members["calendar_dates.txt"] == nil {
		return nil, errors.New("gtfs: missing calendar.txt and calendar_dates.txt")
	}

	s := &Static{
		Agencies:    map[string]Agency{},
		Routes:      map[string]Route{},
		Stops:       map[string]Stop{},
		Trips:       map[string]Trip{},
		stopByCode:  map[string]string{},
		timesByStop: map[string][]StopTime{},
		LoadedAt:    time.Now(),
	}

	consumers := []struct {
		name string
		fn   func(*table) error
	}{
		{"agency.txt", s.consumeAgency},
		{"routes.txt", s.consumeRoutes},
		{"calendar.txt", s.consumeCalendar},
		{"calendar_dates.txt", s.consumeCalendarDates},
		{"stops.txt", s.consumeStops},
		{"trips.txt", s.consumeTrips},
		{"stop_times.txt", s.consumeStopTimes},
	}
	for _, c := range consumers {
		f := members[c.name]
		if f == nil {
			continue
		}
		if err := readTable(f, c.fn); err != nil {
			return nil, fmt.Errorf("gtfs: %s: %w", c.name, err)
		}
	}

	for stopID, times := range s.timesByStop {
		sort.Slice(times, func(i, j int) bool { return times[i].Departure < times[j].Departure })
		s.timesByStop[stopID] = times
	}
	s.location = loadLocation(s.Timezone())
	return s, nil
}

// table is a streaming view over one CSV member.
type table struct {
	csvr *csv.Reader
	head []string
	row  []string
	line int
}

// idx returns the column of col in the header, or -1.
func (t *table) idx(col string) int {
	for i, h := range t.head {
		if strings.EqualFold(h, col) {
			return i
		}
	}
	return -1
}

// get returns the field at column i of the current row, or "".
func (t *table) get(i int) string {
	if i < 0 || i >= len(t.row) {
		return ""
	}
	return strings.TrimSpace(t.row[i])
}

func (t *table) require(cols ...string) ([]int, error) {
	out := make([]int, len(cols))
	for i, c := range cols {
		out[i] = t.idx(c)
		if out[i] < 0 {
			return nil, fmt.Errorf("missing column %s", c)
		}
	}
	return out, nil
}

// next advances to the following row; it returns false at the end.
func (t *table) next() (bool, error) {
	rec, err := t.csvr.Read()
	if errors.Is(err, io.EOF) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	t.row = rec
	t.line++
	return true, nil
}

// readTable opens f and hands consume a table positioned before the first row.
func readTable(f *zip.File, consume func(*table) error) error {
	r, err := f.Open()
	if err != nil {
		return err
	}
	defer func() { _ = r.Close() }()

	csvr := csv.NewReader(r)
	csvr.FieldsPerRecord = -1
	csvr.ReuseRecord = true

	head, err := csvr.Read()
	if errors.Is(err, io.EOF) {
		return nil
	}
	if err != nil {
		return err
	}
	head = append([]string(nil), head...)
	for i := range head {
		head[i] = strings.TrimSpace(head[i])
	}
	if len(head) > 0 {
		head[0] = strings.TrimPrefix(head[0], "\ufeff")
	}
	return consume(&table{csvr: csvr, head: head, line: 1})
}

func (s *Static) consumeAgency(t *table) error {
	cols, err := t.require("agency_name", "agency_timezone")
	if err != nil {
		return err
	}
	id := t.idx("agency_id")
	for {
		ok, err := t.next()
		if err != nil || !ok {
			return err
		}
		a := Agency{ID: t.get(id), Name: t.get(cols[0]), Timezone: t.get(cols[1])}
		s.Agencies[a.ID] = a
		s.agencyOrder = append(s.agencyOrder, a.ID)
	}
}

func (s *Static) consumeRoutes(t *table) error {
	cols, err := t.require("route_id")
	if err != nil {
		return err
	}
	agency, short, long := t.idx("agency_id"), t.idx("route_short_name"), t.idx("route_long_name")
	for {
		ok, err := t.next()
		if err != nil || !ok {
			return err
		}
		r := Route{ID: t.get(cols[0]), AgencyID: t.get(agency), ShortName: t.get(short), LongName: t.get(long)}
		s.Routes[r.ID] = r
	}
}

var weekdayColumns = [7]string{"monday", "tuesday", "wednesday", "thursday", "friday", "saturday", "sunday"}

func (s *Static) consumeCalendar(t *table) error {
	cols, err := t.require(append([]string{"service_id", "start_date", "end_date"}, weekdayColumns[:]...)...)
	if err != nil {
		return err
	}
	for {
		ok, err := t.next()
		if err != nil || !ok {
			return err
		}
		row := CalendarRow{ServiceID: t.get(cols[0])}
		if row.StartDate, err = ParseDate(t.get(cols[1])); err != nil {
			return fmt.Errorf("line %d: start_date: %w", t.line, err)
		}
		if row.EndDate, err = ParseDate(t.get(cols[2])); err != nil {
			return fmt.Errorf("line %d: end_date: %w", t.line, err)
		}
		for i := range weekdayColumns {
			row.Days[i] = t.get(cols[3+i]) == "1"
		}
		s.Calendar = append(s.Calendar, row)
	}
}

func (s *Static) consumeCalendarDates(t *table) error {
	cols, err := t.require("service_id", "date", "exception_type")
	if err != nil {
		return err
	}
	for {
		ok, err := t.next()
		if err != nil || !ok {
			return err
		}
		d, err := ParseDate(t.get(cols[1]))
		if err != nil {
			return fmt.Errorf("line %d: date: %w", t.line, err)
		}
		typ, err := strconv.Atoi(t.get(cols[2]))
		if err != nil || (typ != int(ServiceAdded) && typ != int(ServiceRemoved)) {
			return fmt.Errorf("line %d: invalid exception_type %q", t.line, t.get(cols[2]))
		}
		s.Exceptions = append(s.Exceptions, CalendarException{ServiceID: t.get(cols[0]), Date: d, Type: ExceptionType(typ)})
	}
}

func (s *Static) consumeStops(t *table) error {
	cols, err := t.require("stop_id")
	if err != nil {
		return err
	}
	code, name, lat, lon := t.idx("stop_code"), t.idx("stop_name"), t.idx("stop_lat"), t.idx("stop_lon")
	for {
		ok, err := t.next()
		if err != nil || !ok {
			return err
		}
		st := Stop{ID: t.get(cols[0]), Code: t.get(code), Name: t.get(name)}
		st.Lat, _ = strconv.ParseFloat(t.get(lat), 64)
		st.Lon, _ = strconv.ParseFloat(t.get(lon), 64)
		s.Stops[st.ID] = st
		key := st.Code
		if key == "" {
			key = st.ID
		}
		s.stopByCode[key] = st.ID
	}
}

func (s *Static) consumeTrips(t *table) error {
	cols, err := t.require("route_id", "service_id", "trip_id")
	if err != nil {
		return err
	}
	headsign := t.idx("trip_headsign")
	for {
		ok, err := t.next()
		if err != nil || !ok {
			return err
		}
		tr := Trip{RouteID: t.get(cols[0]), ServiceID: t.get(cols[1]), ID: t.get(cols[2]), Headsign: t.get(headsign)}
		s.Trips[tr.ID] = tr
	}
}

func (s *Static) consumeStopTimes(t *table) error {
	cols, err := t.require("trip_id", "stop_id")
	if err != nil {
		return err
	}
	dep, arr, seq := t.idx("departure_time"), t.idx("arrival_time"), t.idx("stop_sequence")
	if dep < 0 && arr < 0 {
		return errors.New("missing column departure_time")
	}
	for {
		ok, err := t.next()
		if err != nil || !ok {
			return err
		}
		raw := t.get(dep)
		if raw == "" {
			raw = t.get(arr)
		}
		if raw == "" {
			// untimed stop, interpolated by consumers that need it
			continue
		}
		d, err := ParseStopTime(raw)
		if err != nil {
			return fmt.Errorf("line %d: %w", t.line, err)
		}
		st := StopTime{TripID: t.get(cols[0]), StopID: t.get(cols[1]), Departure: d}
		st.Sequence, _ = strconv.Atoi(t.get(seq))
		s.timesByStop[st.StopID] = append(s.timesByStop[st.StopID], st)
	}
}

// ParseStopTime parses the GTFS H:MM:SS form; hours may exceed 23.
func ParseStopTime(v string) (time.Duration, error) {
	parts := strings.Split(strings.TrimSpace(v), ":")
	if len(parts) != 3 {
		return 0, fmt.Errorf("invalid time %q: want HH:MM:SS", v)
	}
	var n [3]int
	for i, p := range parts {
		x, err := strconv.Atoi(p)
		if err != nil || x < 0 {
			return 0, fmt.Errorf("invalid time %q: want HH:MM:SS", v)
		}
		n[i] = x
	}
	if n[1] > 59 || n[2] > 59 {
		return 0, fmt.Errorf("invalid time %q: minutes and seconds must be below 60", v)
	}
	return time.Duration(n[0])*time.Hour + time.Duration(n[1])*time.Minute + time.Duration(n[2])*time.Second, nil
}

func loadLocation(name string) *time.Location {
	if name == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Timezone returns the timezone of the first agency.
func (s *Static) Timezone() string {
	if len(s.agencyOrder) == 0 {
		return ""
	}
	return s.Agencies[s.agencyOrder[0]].Timezone
}

// Location returns the agency timezone, UTC when unknown or invalid.
func (s *Static) Location() *time.Location {
	if s.location == nil {
		return time.UTC
	}
	return s.location
}

// StopByCode resolves a public stop code, falling back to stop_id for stops
// without a code.
func (s *Static) StopByCode(code string) (Stop, bool) {
	id, ok := s.stopByCode[code]
	if !ok {
		return Stop{}, false
	}
	st, ok := s.Stops[id]
	return st, ok
}

// IsValidStopCode reports whether code names a stop.
func (s *Static) IsValidStopCode(code string) bool {
	_, ok := s.stopByCode[code]
	return ok
}

// StopTimesAt returns the stop times at stopID ordered by departure.
func (s *Static) StopTimesAt(stopID string) []StopTime {
	return s.timesByStop[stopID]
}

// AgencyName returns the name of the agency operating routeID. Feeds with a
// single agency may leave agency_id empty.
func (s *Static) AgencyName(routeID string) string {
	r, ok := s.Routes[routeID]
	if !ok {
		return ""
	}
	if a, ok := s.Agencies[r.AgencyID]; ok {
		return a.Name
	}
	if len(s.agencyOrder) == 1 {
		return s.Agencies[s.agencyOrder[0]].Name
	}
	return ""
}

// StopTimeCount is the number of timed stop_times rows loaded.
func (s *Static) StopTimeCount() int {
	n := 0
	for _, times := range s.timesByStop {
		n += len(times)
	}
	return n
}
