/*
Package gtfs parses GTFS static archives and answers timetable questions.

The package is data-source agnostic: it accepts raw zip bytes, an
io.ReaderAt or a file path and builds an immutable, indexed Static value.
Downloading and refreshing the archive is the job of the fetch package.

# Basic Usage

	s, err := gtfs.ParseStatic(zipBytes)
	if err != nil {
	    return err
	}
	stop, ok := s.StopByCode("2")

# Service Calendar

calendar.txt and calendar_dates.txt are expanded into a window of days
around a reference date. ServiceCalendar keeps that window current:

	cal := gtfs.NewServiceCalendar(source, gtfs.WithWindow(-2, 7))
	cal.Start(ctx)
	defer cal.Stop()

	running := cal.Current().ServicesOn(gtfs.DateOf(time.Now()))

An exception that removes a service on a day wins over one that adds it.

# Departures

ScheduledDepartures lists the departures of a stop inside [now, now+window].
Stop times past 24:00:00 belong to the previous service day, so the search
covers yesterday, today and tomorrow in the agency timezone.

# Memory Footprint

Stop times are grouped by stop_id. A national feed with a few million stop
times needs several hundred MB once parsed; parse it once per download and
share the result.
*/
package gtfs
