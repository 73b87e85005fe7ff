package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sparkify/sparkify-etl/internal/dataset"
	"github.com/sparkify/sparkify-etl/internal/engine"
	apperrors "github.com/sparkify/sparkify-etl/internal/errors"
	"github.com/sparkify/sparkify-etl/internal/metrics"
	"github.com/sparkify/sparkify-etl/internal/storage"
	"github.com/sparkify/sparkify-etl/pkg/types"
)

type fixture struct {
	inputDir  string
	outputDir string
	workDir   string
	input     *storage.Root
	output    *storage.Root
	metrics   *metrics.Metrics
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	base := t.TempDir()
	f := &fixture{
		inputDir:  filepath.Join(base, "in"),
		outputDir: filepath.Join(base, "out"),
		workDir:   filepath.Join(base, "work"),
		metrics:   metrics.New(),
	}
	f.input = openRoot(t, f.inputDir)
	f.output = openRoot(t, f.outputDir)
	return f
}

func openRoot(t *testing.T, dir string) *storage.Root {
	t.Helper()
	loc, err := storage.ParseLocation(dir)
	require.NoError(t, err)
	root, err := storage.Open(context.Background(), loc, storage.DefaultS3Config())
	require.NoError(t, err)
	return root
}

func (f *fixture) pipeline(t *testing.T, mutate ...func(*Options)) *Pipeline {
	t.Helper()
	opts := Options{
		Input:       f.input,
		Output:      f.output,
		WorkDir:     f.workDir,
		Location:    time.UTC,
		Engine:      engine.Config{Threads: 2},
		Concurrency: 4,
		Metrics:     f.metrics,
	}
	for _, m := range mutate {
		m(&opts)
	}
	p, err := New(opts)
	require.NoError(t, err)
	return p
}

func (f *fixture) writeInput(t *testing.T, rel string, content string) {
	t.Helper()
	path := filepath.Join(f.inputDir, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func songJSON(t *testing.T, rec map[string]interface{}) string {
	t.Helper()
	b, err := json.Marshal(rec)
	require.NoError(t, err)
	return string(b)
}

func (f *fixture) writeSongs(t *testing.T) {
	t.Helper()
	songA := map[string]interface{}{
		"num_songs": 1, "artist_id": "AR1", "artist_latitude": nil, "artist_longitude": nil,
		"artist_location": "California - LA", "artist_name": "Band One",
		"song_id": "S1", "title": "Song A", "duration": 218.93179, "year": 2001,
	}
	f.writeInput(t, "song_data/A/A/A/TRA1.json", songJSON(t, songA))
	// exact duplicate of song A in another file
	f.writeInput(t, "song_data/A/A/B/TRA2.json", songJSON(t, songA))
	f.writeInput(t, "song_data/A/B/A/TRB1.json", songJSON(t, map[string]interface{}{
		"num_songs": 1, "artist_id": "AR2", "artist_latitude": 35.14968, "artist_longitude": -90.04892,
		"artist_location": "Memphis, TN", "artist_name": nil,
		"song_id": "S2", "title": "Song B", "duration": 180.5, "year": 0,
	}))
	// no title: only contributes an artist row, identical to song A's artist
	f.writeInput(t, "song_data/A/B/B/TRC1.json", songJSON(t, map[string]interface{}{
		"num_songs": 1, "artist_id": "AR1", "artist_latitude": nil, "artist_longitude": nil,
		"artist_location": "California - LA", "artist_name": "Band One",
		"song_id": "S3", "title": nil, "duration": 100.0, "year": 1999,
	}))
	f.writeInput(t, "song_data/README.txt", "not json")
}

const logEvents = `{"artist":"Band One","auth":"Logged In","firstName":"Ann","gender":"F","itemInSession":0,"lastName":"Lee","length":218.93,"level":"free","location":"Austin, TX","method":"PUT","page":"NextSong","registration":1.540919166796E12,"sessionId":10,"song":"Song A","status":200,"ts":1542069000000,"userAgent":"Mozilla/5.0","userId":"7"}
{"artist":null,"auth":"Logged In","firstName":"Bob","gender":"M","itemInSession":1,"lastName":"Ray","length":null,"level":"free","location":"Reno, NV","method":"GET","page":"Home","registration":1.540919166796E12,"sessionId":20,"song":null,"status":200,"ts":1542069001000,"userAgent":"curl","userId":"8"}
{"artist":"Nobody","auth":"Logged In","firstName":"Ann","gender":"F","itemInSession":1,"lastName":"Lee","length":200.0,"level":"free","location":"Austin, TX","method":"PUT","page":"NextSong","registration":1.540919166796E12,"sessionId":10,"song":"Unknown Title","status":200,"ts":1542069060000,"userAgent":"Mozilla/5.0","userId":"7"}
`

const logEventsDecember = `{"artist":"Band Two","auth":"Logged In","firstName":"Cat","gender":"F","itemInSession":3,"lastName":"Kim","length":180.5,"level":"paid","location":"Boston, MA","method":"PUT","page":"NextSong","registration":1.540919166796E12,"sessionId":30,"song":"Song B","status":200,"ts":1543622400000,"userAgent":"Safari","userId":"9"}
{"artist":"Band Two","auth":"Logged In","firstName":"Cat","gender":"F","itemInSession":1,"lastName":"Kim","length":180.5,"level":"paid","location":"Boston, MA","method":"PUT","page":"NextSong","registration":1.540919166796E12,"sessionId":11,"song":"Song B","status":200,"ts":1542069000000,"userAgent":"Safari","userId":"9"}
`

func (f *fixture) writeLogs(t *testing.T) {
	t.Helper()
	f.writeInput(t, "log_data/2018/11/2018-11-13-events.json", logEvents)
	f.writeInput(t, "log_data/2018/12/2018-12-01-events.json", logEventsDecember)
}

// queryOutput loads a published dataset into a fresh engine and returns the
// rows of query as strings, sorted. The dataset is available as table "t".
func (f *fixture) queryOutput(t *testing.T, ds types.Dataset, query string) []string {
	t.Helper()
	ctx := context.Background()
	files, err := dataset.ParquetFiles(filepath.Join(f.outputDir, ds.Path))
	require.NoError(t, err)
	require.NotEmpty(t, files, "no files for %s", ds.Name)

	sess, err := engine.Open(ctx, engine.Config{})
	require.NoError(t, err)
	defer sess.Close()

	_, err = sess.LoadParquet(ctx, "t", files)
	require.NoError(t, err)

	rows, err := sess.DB().QueryContext(ctx, query)
	require.NoError(t, err)
	defer rows.Close()

	cols, err := rows.Columns()
	require.NoError(t, err)

	var out []string
	for rows.Next() {
		vals := make([]interface{}, len(cols))
		ptrs := make([]interface{}, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		require.NoError(t, rows.Scan(ptrs...))
		parts := make([]string, len(vals))
		for i, v := range vals {
			if ts, ok := v.(time.Time); ok {
				parts[i] = ts.UTC().Format("2006-01-02 15:04:05")
				continue
			}
			parts[i] = fmt.Sprint(v)
		}
		out = append(out, strings.Join(parts, "|"))
	}
	require.NoError(t, rows.Err())
	sort.Strings(out)
	return out
}

func (f *fixture) outputKeys(t *testing.T, ds types.Dataset) []string {
	t.Helper()
	objects, err := f.output.Store.ListObjects(context.Background(), f.output.Dir(ds.Path))
	require.NoError(t, err)
	keys := make([]string, len(objects))
	for i, o := range objects {
		keys[i] = o.Key
	}
	return keys
}

func TestRun_EndToEnd(t *testing.T) {
	f := newFixture(t)
	f.writeSongs(t)
	f.writeLogs(t)

	summary, err := f.pipeline(t).Run(context.Background())
	require.NoError(t, err)
	require.Len(t, summary.Stages, 2)
	assert.Equal(t, 4, summary.Stages[0].InputFiles, "README.txt is not staged")
	assert.Equal(t, int64(4), summary.Stages[0].InputRows)
	assert.Equal(t, int64(4), summary.Stages[1].InputRows, "only NextSong events are loaded")

	// songs: distinct, titled records only
	songs := f.queryOutput(t, types.SongsDataset, "SELECT song_id, artist_id, title, year FROM t")
	assert.Equal(t, []string{"S1|AR1|Song A|2001", "S2|AR2|Song B|0"}, songs)
	assert.Contains(t, f.outputKeys(t, types.SongsDataset), "songs.parquet/year=2001/artist_id=AR1/part-0.parquet")

	// artists: named artists only, duplicates collapsed
	artists := f.queryOutput(t, types.ArtistsDataset, "SELECT artist_id, artist_name, artist_location FROM t")
	assert.Equal(t, []string{"AR1|Band One|California - LA"}, artists)
	assert.Equal(t, []string{"artists.parquet/part-0.parquet"}, f.outputKeys(t, types.ArtistsDataset))

	// users: NextSong events only, so Bob (Home page) is absent
	users := f.queryOutput(t, types.UsersDataset, "SELECT userId, firstName, lastName, gender, level FROM t")
	assert.Equal(t, []string{"7|Ann|Lee|F|free", "9|Cat|Kim|F|paid"}, users)

	// time: one row per distinct epoch
	timeRows := f.queryOutput(t, types.TimeDataset,
		"SELECT epoch, start_time, year, month, day, hour, weekofyear, weekday FROM t")
	assert.Equal(t, []string{
		"1542069000000|2018-11-13 00:30:00|2018|11|13|0|46|1",
		"1542069060000|2018-11-13 00:31:00|2018|11|13|0|46|1",
		"1543622400000|2018-12-01 00:00:00|2018|12|1|0|48|5",
	}, timeRows)

	// songplays: inner join on title, gap-free ids in start_time order
	plays := f.queryOutput(t, types.SongplaysDataset,
		"SELECT songplay_id, start_time, userId, level, song_id, artist_id, sessionId, year, month FROM t")
	assert.Equal(t, []string{
		"1|2018-11-13 00:30:00|7|free|S1|AR1|10|2018|11",
		"2|2018-11-13 00:30:00|9|paid|S2|AR2|11|2018|11",
		"3|2018-12-01 00:00:00|9|paid|S2|AR2|30|2018|12",
	}, plays)

	tr, ok := summary.Table("songplays")
	require.True(t, ok)
	assert.Equal(t, int64(3), tr.Rows)
	assert.Equal(t, 2, tr.Partitions)

	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.TableRows.WithLabelValues("songs")))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.StageRuns.WithLabelValues(StageLogs, metrics.StatusSuccess)))
}

func TestRun_Idempotent(t *testing.T) {
	f := newFixture(t)
	f.writeSongs(t)
	f.writeLogs(t)

	_, err := f.pipeline(t).Run(context.Background())
	require.NoError(t, err)

	before := map[string][]string{}
	all := []types.Dataset{types.SongsDataset, types.ArtistsDataset, types.UsersDataset, types.TimeDataset, types.SongplaysDataset}
	for _, ds := range all {
		before[ds.Name] = f.queryOutput(t, ds, "SELECT * FROM t")
	}

	summary, err := f.pipeline(t).Run(context.Background())
	require.NoError(t, err)

	for _, ds := range all {
		assert.Equal(t, before[ds.Name], f.queryOutput(t, ds, "SELECT * FROM t"), ds.Name)
		tr, ok := summary.Table(ds.Name)
		require.True(t, ok)
		assert.Equal(t, 0, tr.Stale, "%s should overwrite in place", ds.Name)
	}
}

func TestRun_PrunesStaleFiles(t *testing.T) {
	f := newFixture(t)
	f.writeSongs(t)
	f.writeLogs(t)

	stale := filepath.Join(f.outputDir, "users.parquet", "part-7.parquet")
	require.NoError(t, os.MkdirAll(filepath.Dir(stale), 0755))
	require.NoError(t, os.WriteFile(stale, []byte("old"), 0644))

	summary, err := f.pipeline(t).Run(context.Background())
	require.NoError(t, err)

	_, err = os.Stat(stale)
	assert.True(t, os.IsNotExist(err), "stale file should be removed")
	tr, _ := summary.Table("users")
	assert.Equal(t, 1, tr.Stale)
	assert.Equal(t, []string{"users.parquet/part-0.parquet"}, f.outputKeys(t, types.UsersDataset))
}

func TestRunLogs_MissingUpstream(t *testing.T) {
	f := newFixture(t)
	f.writeLogs(t)

	summary, err := f.pipeline(t).RunLogs(context.Background())
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeMissingUpstream, apperrors.GetCode(err))
	assert.True(t, strings.HasPrefix(err.Error(), "logs stage:"))

	// datasets published before the failure stay in place
	assert.NotEmpty(t, f.outputKeys(t, types.UsersDataset))
	assert.NotEmpty(t, f.outputKeys(t, types.TimeDataset))
	assert.Empty(t, f.outputKeys(t, types.SongplaysDataset))

	require.Len(t, summary.Stages, 1)
	assert.Len(t, summary.Stages[0].Tables, 2)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.StageRuns.WithLabelValues(StageLogs, metrics.StatusFailure)))
}

func TestRunLogs_AfterRunSongs(t *testing.T) {
	f := newFixture(t)
	f.writeSongs(t)
	f.writeLogs(t)

	_, err := f.pipeline(t).RunSongs(context.Background())
	require.NoError(t, err)
	assert.Empty(t, f.outputKeys(t, types.UsersDataset))

	_, err = f.pipeline(t).RunLogs(context.Background())
	require.NoError(t, err)
	plays := f.queryOutput(t, types.SongplaysDataset, "SELECT count(*) FROM t")
	assert.Equal(t, []string{"3"}, plays)
}

func TestRun_NoInput(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, os.MkdirAll(f.inputDir, 0755))

	_, err := f.pipeline(t).Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeNoInput, apperrors.GetCode(err))
	assert.Equal(t, apperrors.ErrCategoryInput, apperrors.GetCategory(err))
}

func TestRun_MalformedJSON(t *testing.T) {
	f := newFixture(t)
	f.writeInput(t, "song_data/A/A/A/bad.json", `{"song_id": "S1", "title": `)

	_, err := f.pipeline(t).Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCategoryEngine, apperrors.GetCategory(err))
	assert.Equal(t, apperrors.CodeLoadFailed, apperrors.GetCode(err))
}

func TestRun_LocalZoneShiftsTime(t *testing.T) {
	f := newFixture(t)
	f.writeSongs(t)
	f.writeLogs(t)

	loc := time.FixedZone("UTC-8", -8*3600)
	_, err := f.pipeline(t, func(o *Options) { o.Location = loc }).Run(context.Background())
	require.NoError(t, err)

	rows := f.queryOutput(t, types.TimeDataset,
		"SELECT start_time, day, hour, weekday FROM t WHERE epoch = 1542069000000")
	assert.Equal(t, []string{"2018-11-12 16:30:00|12|16|0"}, rows)
}

func TestRun_WorkDirLifecycle(t *testing.T) {
	f := newFixture(t)
	f.writeSongs(t)

	p := f.pipeline(t, func(o *Options) { o.RunID = "run-1" })
	_, err := p.RunSongs(context.Background())
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(f.workDir, "run-1"))
	assert.True(t, os.IsNotExist(err), "run directory should be removed")

	keep := f.pipeline(t, func(o *Options) {
		o.RunID = "run-2"
		o.KeepWorkDir = true
	})
	_, err = keep.RunSongs(context.Background())
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(f.workDir, "run-2", "output", "songs.parquet"))
	assert.NoError(t, err)
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)

	f := newFixture(t)
	_, err = New(Options{Input: f.input, Output: f.output})
	assert.Error(t, err, "work dir is required")

	p, err := New(Options{Input: f.input, Output: f.output, WorkDir: f.workDir})
	require.NoError(t, err)
	assert.NotEmpty(t, p.RunID())
}

// eventLine renders one log event with ts spliced in verbatim.
func eventLine(page, user, song, ts string) string {
	return fmt.Sprintf(`{"firstName":"Ann","gender":"F","itemInSession":0,"lastName":"Lee","level":"free","location":"Austin, TX","page":%q,"sessionId":10,"song":%q,"ts":%s,"userAgent":"UA","userId":%q}`,
		page, song, ts, user) + "\n"
}

func TestRunLogs_FractionalEpoch(t *testing.T) {
	f := newFixture(t)
	f.writeSongs(t)
	f.writeInput(t, "log_data/2018/11/events.json",
		eventLine("NextSong", "7", "Song A", "1542069000000")+
			eventLine("NextSong", "8", "Song A", "1542069000000.7"))

	_, err := f.pipeline(t).Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCategoryInput, apperrors.GetCategory(err))
	assert.Equal(t, apperrors.CodeBadEpoch, apperrors.GetCode(err))

	var perr *apperrors.PipelineError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, int64(1), perr.Details["count"])

	// rejected before anything from the log stage is published
	assert.Empty(t, f.outputKeys(t, types.UsersDataset))
	assert.Empty(t, f.outputKeys(t, types.TimeDataset))
}

func TestRunLogs_FractionalEpochOutsideNextSong(t *testing.T) {
	f := newFixture(t)
	f.writeSongs(t)
	f.writeInput(t, "log_data/2018/11/events.json",
		eventLine("NextSong", "7", "Song A", "1542069000000")+
			eventLine("Home", "8", "", "1542069000000.7"))

	_, err := f.pipeline(t).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"1542069000000"}, f.queryOutput(t, types.TimeDataset, "SELECT epoch FROM t"))
}

func TestRunLogs_EpochOutOfRange(t *testing.T) {
	f := newFixture(t)
	f.writeSongs(t)
	f.writeInput(t, "log_data/2018/11/events.json",
		eventLine("NextSong", "7", "Song A", "9000000000000000000"))

	_, err := f.pipeline(t).Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeBadEpoch, apperrors.GetCode(err))
	assert.True(t, strings.HasPrefix(err.Error(), "logs stage:"))

	var perr *apperrors.PipelineError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, int64(9000000000000000000), perr.Details["ts"])

	// users was published before the derivation failed and stays in place
	assert.Equal(t, []string{"7|Ann|Lee|F|free"},
		f.queryOutput(t, types.UsersDataset, "SELECT userId, firstName, lastName, gender, level FROM t"))
	assert.Empty(t, f.outputKeys(t, types.TimeDataset))
	assert.Empty(t, f.outputKeys(t, types.SongplaysDataset))
}

func TestRunLogs_StringEpoch(t *testing.T) {
	f := newFixture(t)
	f.writeSongs(t)
	f.writeInput(t, "log_data/2018/11/events.json",
		eventLine("NextSong", "7", "Song A", `"abc"`))

	_, err := f.pipeline(t).Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCategoryEngine, apperrors.GetCategory(err))
	assert.Equal(t, apperrors.CodeLoadFailed, apperrors.GetCode(err))
	assert.Empty(t, f.outputKeys(t, types.UsersDataset))
}

func TestRun_EngineSettingsRejected(t *testing.T) {
	f := newFixture(t)
	f.writeSongs(t)

	_, err := f.pipeline(t, func(o *Options) { o.Engine.MemoryLimit = "lots" }).Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCategoryEngine, apperrors.GetCategory(err))
	assert.Equal(t, apperrors.CodeEngineInit, apperrors.GetCode(err))
	assert.Empty(t, f.outputKeys(t, types.SongsDataset))
}
