package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/theoremus-urban-solutions/gtfs-live/formatter"
	"github.com/theoremus-urban-solutions/gtfs-live/gtfs"
)

// calendarDays is the whole expanded window as a payload.
type calendarDays []gtfs.ServiceDay

func (c calendarDays) Document() any {
	doc := map[string][]string{}
	for _, sd := range c {
		doc[sd.Date.ISO()] = append(doc[sd.Date.ISO()], sd.ServiceID)
	}
	return doc
}

func (c calendarDays) Table() ([]string, [][]string) {
	rows := make([][]string, 0, len(c))
	for _, sd := range c {
		rows = append(rows, []string{sd.Date.ISO(), sd.ServiceID})
	}
	return []string{"date", "service_id"}, rows
}

var outputFormats = map[string]string{
	"json": formatter.MIMEJSON,
	"yaml": formatter.MIMEYAML,
	"csv":  formatter.MIMECSV,
}

func newCalendarCommand(_ *rootOptions) *cobra.Command {
	var (
		staticPath string
		date       string
		output     string
		startOff   int
		stopOff    int
	)
	cmd := &cobra.Command{
		Use:   "calendar",
		Short: "Print the services running on a date, or over the calendar window",
		RunE: func(cmd *cobra.Command, _ []string) error {
			mime, ok := outputFormats[output]
			if !ok {
				return fmt.Errorf("unknown output format %q", output)
			}
			s, err := gtfs.LoadStaticFile(staticPath)
			if err != nil {
				return err
			}

			today := gtfs.DateOf(time.Now().In(s.Location()))
			if date != "" {
				if today, err = gtfs.ParseDate(date); err != nil {
					return err
				}
			}
			cal := gtfs.Expand(s.Calendar, s.Exceptions, startOff, stopOff, today)

			var payload formatter.Payload = calendarDays(cal.Days())
			if date != "" {
				payload = formatter.ServiceDay{Date: today, From: cal.From, To: cal.To, Services: cal.ServicesOn(today)}
			}
			body, err := formatter.Render(mime, payload)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(body)
			return err
		},
	}
	cmd.Flags().StringVar(&staticPath, "static", "", "GTFS static zip archive")
	cmd.Flags().StringVar(&date, "date", "", "reference date as YYYYMMDD (default today in the agency timezone)")
	cmd.Flags().StringVarP(&output, "output", "o", "csv", "output format: json, yaml or csv")
	cmd.Flags().IntVar(&startOff, "start-offset", gtfs.DefaultStartOffset, "first day of the window relative to the date")
	cmd.Flags().IntVar(&stopOff, "stop-offset", gtfs.DefaultStopOffset, "last day of the window relative to the date")
	_ = cmd.MarkFlagRequired("static")
	return cmd
}
