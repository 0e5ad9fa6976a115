package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/theoremus-urban-solutions/gtfs-live/feeds"
	"github.com/theoremus-urban-solutions/gtfs-live/formatter"
	"github.com/theoremus-urban-solutions/gtfs-live/gtfs"
	"github.com/theoremus-urban-solutions/gtfs-live/internal/logger"
)

const indexHTML = `<!DOCTYPE html>
<html>
<head><title>GTFS API</title></head>
<body>
<h1>GTFS API</h1>
<p>See <a href="api/v2/departures?stop=2">api/v2/departures</a> for departures,
<a href="api/v2/calendar">api/v2/calendar</a> for running services and
<a href="api/health">api/health</a> for feed status.</p>
</body>
</html>
`

func (s *Server) handleIndex(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(indexHTML))
}

type agentStatus struct {
	Name      string     `json:"name"`
	State     string     `json:"state"`
	LastFetch *time.Time `json:"last_fetch,omitempty"`
}

type healthResponse struct {
	Status            string        `json:"status"`
	Ready             bool          `json:"ready"`
	StaticLoadedAt    *time.Time    `json:"static_loaded_at,omitempty"`
	RealtimeTimestamp *time.Time    `json:"realtime_timestamp,omitempty"`
	CalendarWindow    []string      `json:"calendar_window,omitempty"`
	Agents            []agentStatus `json:"agents,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{Status: "starting", Ready: s.feeds.Ready()}
	status := http.StatusServiceUnavailable
	if resp.Ready {
		resp.Status, status = "ok", http.StatusOK
	}
	if st := s.feeds.Static(); st != nil && !st.LoadedAt.IsZero() {
		t := st.LoadedAt
		resp.StaticLoadedAt = &t
	}
	if rt := s.feeds.Realtime(); rt != nil && !rt.Timestamp.IsZero() {
		t := rt.Timestamp
		resp.RealtimeTimestamp = &t
	}
	if cal := s.feeds.Calendar(); cal != nil {
		resp.CalendarWindow = []string{cal.From.ISO(), cal.To.ISO()}
	}
	for _, a := range s.feeds.Agents() {
		as := agentStatus{Name: a.Name(), State: a.State().String()}
		if last := a.LastResponse(); last != nil {
			t := last.FetchedAt
			as.LastFetch = &t
		}
		resp.Agents = append(resp.Agents, as)
	}
	s.writeJSON(w, status, resp)
}

func (s *Server) handleDepartures(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	codes, err := stopCodes(q)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	win, err := window(q, s.cfg.DefaultMinutes, s.cfg.MaxMinutes)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	boards, err := s.feeds.DepartureBoards(codes, s.now(), win)
	switch {
	case errors.Is(err, feeds.ErrNotReady):
		s.writeError(w, http.StatusServiceUnavailable, err)
		return
	case errors.Is(err, feeds.ErrUnknownStop):
		s.writeError(w, http.StatusNotFound, &QueryError{Msg: "No such stop."})
		return
	case err != nil:
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.write(w, r, http.StatusOK, formatter.Boards(boards))
}

func (s *Server) handleCalendar(w http.ResponseWriter, r *http.Request) {
	st, cal := s.feeds.Static(), s.feeds.Calendar()
	if st == nil || cal == nil {
		s.writeError(w, http.StatusServiceUnavailable, feeds.ErrNotReady)
		return
	}
	day, err := serviceDate(r.URL.Query(), gtfs.DateOf(s.now().In(st.Location())))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	if !cal.InWindow(day) {
		s.writeError(w, http.StatusBadRequest, &QueryError{
			Msg: "Date must lie between " + cal.From.ISO() + " and " + cal.To.ISO() + ".",
		})
		return
	}
	s.write(w, r, http.StatusOK, formatter.ServiceDay{
		Date:     day,
		From:     cal.From,
		To:       cal.To,
		Services: cal.ServicesOn(day),
	})
}

func (s *Server) write(w http.ResponseWriter, r *http.Request, status int, p formatter.Payload) {
	if err := formatter.Write(w, r.Header.Get("Accept"), status, p); err != nil {
		s.log.Error("write response", logger.Error(err))
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	if err := formatter.WriteJSON(w, status, v); err != nil {
		s.log.Error("write response", logger.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable {
		s.log.Error("request failed", logger.Error(err))
	}
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}
