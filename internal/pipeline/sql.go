package pipeline

import "github.com/sparkify/sparkify-etl/pkg/types"

// Engine tables created during a run.
const (
	tableSongData  = "song_data"
	tableLogEvents = "log_events"
	tableEventTime = "event_times"
	tableSongsBack = "songs_readback"
)

const nextSongFilter = "page = '" + types.PageNextSong + "'"

const songsQuery = `SELECT DISTINCT song_id, artist_id, title, year, duration
FROM song_data
WHERE title IS NOT NULL`

const artistsQuery = `SELECT DISTINCT artist_id, artist_name, artist_latitude, artist_location, artist_longitude
FROM song_data
WHERE artist_name IS NOT NULL`

// epochCheckSchema re-reads ts as DOUBLE. The BIGINT load rounds fractional
// values, so they are only visible through this second scan.
var epochCheckSchema = types.Schema{
	Name: "log_data_ts",
	Columns: []types.ColumnDef{
		{Name: "page", Type: "VARCHAR"},
		{Name: "ts", Type: "DOUBLE"},
	},
}

// nonIntegralEpochs counts NextSong events whose ts has a fractional part.
// %s is the scan expression.
const nonIntegralEpochs = `SELECT count(*), min(ts)
FROM %s
WHERE ` + nextSongFilter + ` AND ts <> floor(ts)`

const usersQuery = `SELECT DISTINCT userId, firstName, lastName, gender, level
FROM log_events
WHERE firstName IS NOT NULL`

const createEventTimes = `CREATE OR REPLACE TABLE event_times (
	ts BIGINT,
	start_time TIMESTAMP,
	year BIGINT,
	month BIGINT,
	day BIGINT,
	hour BIGINT,
	weekofyear BIGINT,
	weekday BIGINT
)`

const distinctEpochs = `SELECT DISTINCT ts FROM log_events WHERE ts IS NOT NULL ORDER BY ts`

const timeQuery = `SELECT DISTINCT ts AS epoch, start_time, year, month, day, hour, weekofyear, weekday
FROM event_times
WHERE ts IS NOT NULL`

// Ties on start_time are broken on the remaining event fields so reruns
// number identical rows identically.
const songplaysQuery = `SELECT
	row_number() OVER (
		ORDER BY t.start_time, e.ts, e.sessionId, e.itemInSession, e.userId, s.song_id, s.artist_id
	) AS songplay_id,
	t.start_time,
	e.userId,
	e.level,
	s.song_id,
	s.artist_id,
	e.sessionId,
	e.location,
	e.userAgent,
	t.year,
	t.month
FROM log_events e
JOIN event_times t ON e.ts = t.ts
JOIN songs_readback s ON e.song = s.title`
