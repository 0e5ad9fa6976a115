// Package gtfsrt parses GTFS-Realtime TripUpdates feeds into an immutable,
// indexed snapshot.
//
// Every stop_time_update of every trip update becomes one Update row carrying
// the trip context it belongs to. Rows are indexed by trip and by (trip, stop)
// so departure boards can merge them with the static timetable.
//
// Vehicle positions and service alerts in the same FeedMessage are ignored.
package gtfsrt
