// Package config loads the service configuration.
//
// Values come from, in increasing priority: built-in defaults, config.yml,
// and environment variables named by `env` struct tags. .env.local and .env
// are loaded into the environment first; variables already set win over
// both files.
//
// Example config.yml:
//
//	server:
//	  host: 0.0.0.0
//	  port: 7341
//	feeds:
//	  static:
//	    url: https://www.transportforireland.ie/transitData/Data/GTFS_Realtime.zip
//	  realtime:
//	    url: https://api.nationaltransport.ie/gtfsr/v2/TripUpdates
//	    polling_period: 1m
package config
