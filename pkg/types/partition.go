package types

// Dataset describes one output table written under the output root.
type Dataset struct {
	// Name is the logical table name used in logs and metrics
	Name string `json:"name"`

	// Path is the directory name under the output root (e.g., "songs.parquet")
	Path string `json:"path"`

	// PartitionBy lists the hive-encoded partition columns, outermost first
	PartitionBy []string `json:"partition_by,omitempty"`
}

// Output datasets.
var (
	SongsDataset     = Dataset{Name: "songs", Path: "songs.parquet", PartitionBy: []string{"year", "artist_id"}}
	ArtistsDataset   = Dataset{Name: "artists", Path: "artists.parquet"}
	UsersDataset     = Dataset{Name: "users", Path: "users.parquet"}
	TimeDataset      = Dataset{Name: "time", Path: "time.parquet", PartitionBy: []string{"year", "month"}}
	SongplaysDataset = Dataset{Name: "songplays", Path: "songplays.parquet", PartitionBy: []string{"year", "month"}}
)

// Input prefixes under the input root.
const (
	SongDataPrefix = "song_data"
	LogDataPrefix  = "log_data"
)
