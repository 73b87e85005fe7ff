package pipeline

import (
	"context"

	apperrors "github.com/sparkify/sparkify-etl/internal/errors"
	"github.com/sparkify/sparkify-etl/pkg/types"
)

// extractSongs loads the song catalog and publishes the songs and artists
// datasets.
func (r *runner) extractSongs(ctx context.Context, res *StageResult) error {
	files, err := r.stageInput(ctx, types.SongDataPrefix)
	if err != nil {
		return err
	}
	res.InputFiles = len(files)

	rows, err := r.sess.LoadJSON(ctx, tableSongData, files, types.SongDataSchema, "")
	if err != nil {
		return apperrors.NewEngineError(apperrors.CodeLoadFailed, "load song_data", err)
	}
	res.InputRows = rows

	songs, err := r.writeTable(ctx, types.SongsDataset, songsQuery)
	if err != nil {
		return err
	}
	res.Tables = append(res.Tables, songs)

	artists, err := r.writeTable(ctx, types.ArtistsDataset, artistsQuery)
	if err != nil {
		return err
	}
	res.Tables = append(res.Tables, artists)

	return nil
}
