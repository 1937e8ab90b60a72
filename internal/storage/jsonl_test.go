package storage

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KurochkinDaniil/avg-weights-fl-client-backend/internal/common"
	"github.com/KurochkinDaniil/avg-weights-fl-client-backend/internal/model"
)

func testSample(gestureId, word string) *model.SwipeSample {
	return &model.SwipeSample{
		GestureId: gestureId,
		Word:      word,
		Coords: []model.CoordinatePoint{
			{X: 100, Y: 200, T: 0},
			{X: 150, Y: 220, T: 0.05},
		},
	}
}

func TestSaveAndLoadSwipes(t *testing.T) {
	store, err := NewSwipeStore(t.TempDir(), hclog.NewNullLogger())
	require.NoError(t, err)

	require.NoError(t, store.SaveSwipe(testSample("g-1", "hello")))
	require.NoError(t, store.SaveSwipe(testSample("g-2", "world")))

	samples, err := store.LoadAllSamples()
	require.NoError(t, err)
	require.Len(t, samples, 2)
	assert.Equal(t, "g-1", samples[0].GestureId)
	assert.Equal(t, "hello", samples[0].Word)
	assert.Equal(t, 150.0, samples[1].Coords[1].X)

	count, err := store.CountSamples()
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestLoadAllSamplesReadsOlderDays(t *testing.T) {
	dataDir := t.TempDir()
	store, err := NewSwipeStore(dataDir, hclog.NewNullLogger())
	require.NoError(t, err)

	yesterday := time.Now().AddDate(0, 0, -1).Format("2006-01-02")
	dayDir := filepath.Join(dataDir, common.RAW_DATA_SUBDIR, yesterday)
	require.NoError(t, os.MkdirAll(dayDir, 0777))
	line := `{"gesture_id":"old","coords":[{"x":1,"y":2,"t":0},{"x":3,"y":4,"t":0.1}],"word":"ago"}` + "\n"
	require.NoError(t, os.WriteFile(filepath.Join(dayDir, common.SWIPES_FILE_NAME), []byte(line), 0666))

	require.NoError(t, store.SaveSwipe(testSample("new", "now")))

	files, err := store.ListSampleFiles()
	require.NoError(t, err)
	require.Len(t, files, 2)

	samples, err := store.LoadAllSamples()
	require.NoError(t, err)
	require.Len(t, samples, 2)
	assert.Equal(t, "old", samples[0].GestureId)
	assert.Equal(t, "new", samples[1].GestureId)
}

func TestStatsOnEmptyStore(t *testing.T) {
	dataDir := t.TempDir()
	store, err := NewSwipeStore(dataDir, hclog.NewNullLogger())
	require.NoError(t, err)

	stats, err := store.Stats()
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.TotalSwipes)
	assert.Equal(t, 0, stats.TotalFiles)
	assert.Equal(t, dataDir, stats.DataDirectory)
}

func TestLoadAllSamplesRejectsCorruptLines(t *testing.T) {
	dataDir := t.TempDir()
	store, err := NewSwipeStore(dataDir, hclog.NewNullLogger())
	require.NoError(t, err)

	dayDir := filepath.Join(dataDir, common.RAW_DATA_SUBDIR, "2026-01-15")
	require.NoError(t, os.MkdirAll(dayDir, 0777))
	require.NoError(t, os.WriteFile(filepath.Join(dayDir, common.SWIPES_FILE_NAME), []byte("not json\n"), 0666))

	_, err = store.LoadAllSamples()
	assert.Error(t, err)
}
