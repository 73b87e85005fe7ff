// Package types provides the record and dataset definitions for the Sparkify data lake.
package types

// SongRecord is one entry of the song catalog (song_data/*). Files hold a
// single JSON object or newline-delimited objects.
type SongRecord struct {
	SongID          *string  `json:"song_id" db:"VARCHAR"`
	NumSongs        *int64   `json:"num_songs" db:"BIGINT"`
	ArtistID        *string  `json:"artist_id" db:"VARCHAR"`
	ArtistLatitude  *float64 `json:"artist_latitude" db:"DOUBLE"`
	ArtistLongitude *float64 `json:"artist_longitude" db:"DOUBLE"`
	ArtistLocation  *string  `json:"artist_location" db:"VARCHAR"`
	ArtistName      *string  `json:"artist_name" db:"VARCHAR"`
	Title           *string  `json:"title" db:"VARCHAR"`
	Duration        *float64 `json:"duration" db:"DOUBLE"`
	Year            *int64   `json:"year" db:"BIGINT"`
}

// LogEvent is one line of the user activity log (log_data/*).
type LogEvent struct {
	Artist        *string  `json:"artist" db:"VARCHAR"`
	Auth          *string  `json:"auth" db:"VARCHAR"`
	FirstName     *string  `json:"firstName" db:"VARCHAR"`
	Gender        *string  `json:"gender" db:"VARCHAR"`
	ItemInSession *int64   `json:"itemInSession" db:"BIGINT"`
	LastName      *string  `json:"lastName" db:"VARCHAR"`
	Length        *float64 `json:"length" db:"DOUBLE"`
	Level         *string  `json:"level" db:"VARCHAR"`
	Location      *string  `json:"location" db:"VARCHAR"`
	Method        *string  `json:"method" db:"VARCHAR"`
	Page          *string  `json:"page" db:"VARCHAR"`
	Registration  *float64 `json:"registration" db:"DOUBLE"`
	SessionID     *int64   `json:"sessionId" db:"BIGINT"`
	Song          *string  `json:"song" db:"VARCHAR"`
	Status        *int64   `json:"status" db:"BIGINT"`
	// Ts is milliseconds since the Unix epoch.
	Ts        *int64  `json:"ts" db:"BIGINT"`
	UserAgent *string `json:"userAgent" db:"VARCHAR"`
	UserID    *string `json:"userId" db:"VARCHAR"`
}

// PageNextSong marks a log event as a song play.
const PageNextSong = "NextSong"
