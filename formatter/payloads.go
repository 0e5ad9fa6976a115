package formatter

import (
	"time"

	"github.com/theoremus-urban-solutions/gtfs-live/feeds"
	"github.com/theoremus-urban-solutions/gtfs-live/gtfs"
)

// DepartureHeader is the column order of departure tables.
var DepartureHeader = []string{
	"stop_id", "stop_name", "route", "headsign", "agency",
	"scheduled_departure", "real_time_departure",
}

// Departure is one row of a stop board document.
type Departure struct {
	Route              string  `json:"route" yaml:"route"`
	Headsign           string  `json:"headsign" yaml:"headsign"`
	Agency             string  `json:"agency" yaml:"agency"`
	ScheduledDeparture string  `json:"scheduled_departure" yaml:"scheduled_departure"`
	RealTimeDeparture  *string `json:"real_time_departure" yaml:"real_time_departure"`
}

// StopDepartures is the document of one stop.
type StopDepartures struct {
	StopName   string      `json:"stop_name" yaml:"stop_name"`
	Departures []Departure `json:"departures" yaml:"departures"`
}

// Boards renders departure boards. The document is keyed by stop code; the
// table keeps request order.
type Boards []feeds.Board

func (b Boards) Document() any {
	doc := make(map[string]StopDepartures, len(b))
	for _, board := range b {
		sd := StopDepartures{StopName: board.Stop.Name, Departures: []Departure{}}
		for _, d := range board.Departures {
			dep := Departure{
				Route:              d.Route,
				Headsign:           d.Headsign,
				Agency:             d.Agency,
				ScheduledDeparture: FormatTime(d.Scheduled),
			}
			if !d.RealTime.IsZero() {
				rt := FormatTime(d.RealTime)
				dep.RealTimeDeparture = &rt
			}
			sd.Departures = append(sd.Departures, dep)
		}
		doc[board.StopCode] = sd
	}
	return doc
}

func (b Boards) Table() ([]string, [][]string) {
	var rows [][]string
	for _, board := range b {
		for _, d := range board.Departures {
			var rt string
			if !d.RealTime.IsZero() {
				rt = FormatTime(d.RealTime)
			}
			rows = append(rows, []string{
				board.StopCode, board.Stop.Name, d.Route, d.Headsign, d.Agency,
				FormatTime(d.Scheduled), rt,
			})
		}
	}
	return DepartureHeader, rows
}

// ServiceDay lists the services running on one date.
type ServiceDay struct {
	Date     gtfs.Date
	From, To gtfs.Date
	Services []string
}

type serviceDayDoc struct {
	Date     string   `json:"date" yaml:"date"`
	Window   []string `json:"calendar_window" yaml:"calendar_window"`
	Services []string `json:"services" yaml:"services"`
}

func (s ServiceDay) Document() any {
	services := s.Services
	if services == nil {
		services = []string{}
	}
	return serviceDayDoc{
		Date:     s.Date.ISO(),
		Window:   []string{s.From.ISO(), s.To.ISO()},
		Services: services,
	}
}

func (s ServiceDay) Table() ([]string, [][]string) {
	rows := make([][]string, 0, len(s.Services))
	for _, id := range s.Services {
		rows = append(rows, []string{s.Date.ISO(), id})
	}
	return []string{"date", "service_id"}, rows
}

// FormatTime is the timestamp format of every payload: RFC 3339 in the
// timezone the time carries, which is the agency timezone for departures.
func FormatTime(t time.Time) string {
	return t.Format(time.RFC3339)
}
