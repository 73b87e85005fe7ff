package pipeline

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"

	"github.com/sparkify/sparkify-etl/internal/dataset"
	"github.com/sparkify/sparkify-etl/internal/engine"
	"github.com/sparkify/sparkify-etl/internal/epoch"
	apperrors "github.com/sparkify/sparkify-etl/internal/errors"
	"github.com/sparkify/sparkify-etl/internal/metrics"
	"github.com/sparkify/sparkify-etl/pkg/types"
)

// extractLogs loads the NextSong events and publishes the users, time and
// songplays datasets. songplays joins against the songs dataset read back
// from the output location.
func (r *runner) extractLogs(ctx context.Context, res *StageResult) error {
	files, err := r.stageInput(ctx, types.LogDataPrefix)
	if err != nil {
		return err
	}
	res.InputFiles = len(files)

	rows, err := r.sess.LoadJSON(ctx, tableLogEvents, files, types.LogDataSchema, nextSongFilter)
	if err != nil {
		return apperrors.NewEngineError(apperrors.CodeLoadFailed, "load log_data", err)
	}
	res.InputRows = rows

	if err := r.checkIntegralEpochs(ctx, files); err != nil {
		return err
	}

	users, err := r.writeTable(ctx, types.UsersDataset, usersQuery)
	if err != nil {
		return err
	}
	res.Tables = append(res.Tables, users)

	if err := r.deriveEventTimes(ctx); err != nil {
		return err
	}

	timeTable, err := r.writeTable(ctx, types.TimeDataset, timeQuery)
	if err != nil {
		return err
	}
	res.Tables = append(res.Tables, timeTable)

	if err := r.readBackSongs(ctx); err != nil {
		return err
	}

	songplays, err := r.writeTable(ctx, types.SongplaysDataset, songplaysQuery)
	if err != nil {
		return err
	}
	res.Tables = append(res.Tables, songplays)

	return nil
}

// checkIntegralEpochs fails the stage when any NextSong event carries a
// fractional ts.
func (r *runner) checkIntegralEpochs(ctx context.Context, files []string) error {
	var (
		n      int64
		sample sql.NullFloat64
	)
	query := fmt.Sprintf(nonIntegralEpochs, engine.ScanJSON(files, epochCheckSchema))
	if err := r.sess.DB().QueryRowContext(ctx, query).Scan(&n, &sample); err != nil {
		return apperrors.NewEngineError(apperrors.CodeQueryFailed, "check event epochs", err)
	}
	if n > 0 {
		return apperrors.NewInputError(apperrors.CodeBadEpoch,
			fmt.Sprintf("%d events have a non-integral ts", n), nil).
			WithDetails(map[string]interface{}{"ts": sample.Float64, "count": n})
	}
	return nil
}

// deriveEventTimes fills event_times with the calendar parts of every
// distinct event epoch.
func (r *runner) deriveEventTimes(ctx context.Context) error {
	if err := r.sess.Exec(ctx, createEventTimes); err != nil {
		return apperrors.NewEngineError(apperrors.CodeQueryFailed, "create event_times", err)
	}

	epochs, err := r.distinctEpochs(ctx)
	if err != nil {
		return apperrors.NewEngineError(apperrors.CodeQueryFailed, "select event epochs", err)
	}

	app, err := r.sess.NewAppender(ctx, tableEventTime)
	if err != nil {
		return apperrors.NewEngineError(apperrors.CodeQueryFailed, "open event_times appender", err)
	}

	for _, ms := range epochs {
		parts, err := epoch.Derive(ms, r.p.opts.Location)
		if err != nil {
			app.Close()
			return apperrors.NewInputError(apperrors.CodeBadEpoch, "derive start_time", err).
				WithDetails(map[string]interface{}{"ts": ms})
		}
		err = app.AppendRow(
			ms,
			parts.WallClock(),
			int64(parts.Year),
			int64(parts.Month),
			int64(parts.Day),
			int64(parts.Hour),
			int64(parts.WeekOfYear),
			int64(parts.Weekday),
		)
		if err != nil {
			app.Close()
			return apperrors.NewEngineError(apperrors.CodeQueryFailed, "append event_times", err)
		}
	}

	if err := app.Close(); err != nil {
		return apperrors.NewEngineError(apperrors.CodeQueryFailed, "flush event_times", err)
	}

	r.p.logger.Debug().Int("epochs", len(epochs)).Str("zone", r.p.opts.Location.String()).Msg("Derived event times")
	return nil
}

func (r *runner) distinctEpochs(ctx context.Context) ([]int64, error) {
	rows, err := r.sess.DB().QueryContext(ctx, distinctEpochs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var ms int64
		if err := rows.Scan(&ms); err != nil {
			return nil, err
		}
		out = append(out, ms)
	}
	return out, rows.Err()
}

// readBackSongs loads the published songs dataset from the output location.
func (r *runner) readBackSongs(ctx context.Context) error {
	out := r.p.opts.Output
	ds := types.SongsDataset
	dest := filepath.Join(r.runDir, "upstream", ds.Path)

	dl, err := r.p.transfer.DownloadPrefix(ctx, out, ds.Path, dest, isParquet)
	if err != nil {
		return apperrors.NewStorageError(apperrors.CodeDownloadFailed, "read back "+out.URI(ds.Path), err)
	}
	if len(dl.Files) == 0 {
		return apperrors.NewInputError(apperrors.CodeMissingUpstream,
			fmt.Sprintf("%s has no parquet files; run the songs stage first", out.URI(ds.Path)), nil)
	}
	r.p.metrics.AddTransferred(metrics.DirectionDownload, len(dl.Files), dl.Bytes)

	files, err := dataset.ParquetFiles(dest)
	if err != nil {
		return apperrors.NewStorageError(apperrors.CodeDownloadFailed, "list read back songs", err)
	}
	if _, err := r.sess.LoadParquet(ctx, tableSongsBack, files); err != nil {
		return apperrors.NewEngineError(apperrors.CodeLoadFailed, "load songs read back", err)
	}
	return nil
}
