package storage

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KurochkinDaniil/avg-weights-fl-client-backend/internal/common"
	"github.com/KurochkinDaniil/avg-weights-fl-client-backend/internal/model"
)

func testRound(id string, startedAt int64) *model.RoundRecord {
	return &model.RoundRecord{
		Id:          id,
		StartedAt:   startedAt,
		FinishedAt:  startedAt + 30,
		NumExamples: 12,
		Epochs:      3,
		FinalLoss:   1.25,
		Uploaded:    true,
		Status:      common.ROUND_STATUS_COMPLETED,
	}
}

func TestSaveAndListRounds(t *testing.T) {
	store, err := NewRoundStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.SaveRound(testRound("round-a", 1000)))
	require.NoError(t, store.SaveRound(testRound("round-b", 2000)))

	failed := testRound("round-c", 3000)
	failed.Uploaded = false
	failed.Status = common.ROUND_STATUS_FAILED
	failed.Error = "no samples"
	require.NoError(t, store.SaveRound(failed))

	records, err := store.RecentRounds(10)
	require.NoError(t, err)
	require.Len(t, records, 3)

	// newest first
	assert.Equal(t, "round-c", records[0].Id)
	assert.Equal(t, "round-b", records[1].Id)
	assert.Equal(t, "round-a", records[2].Id)

	assert.Equal(t, common.ROUND_STATUS_FAILED, records[0].Status)
	assert.Equal(t, "no samples", records[0].Error)
	assert.False(t, records[0].Uploaded)
	assert.Equal(t, int64(12), records[1].NumExamples)
	assert.Equal(t, 1.25, records[1].FinalLoss)
}

func TestRecentRoundsLimit(t *testing.T) {
	store, err := NewRoundStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	for i := 0; i < 5; i++ {
		require.NoError(t, store.SaveRound(testRound(fmt.Sprintf("round-%d", i), int64(1000*i))))
	}

	records, err := store.RecentRounds(2)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "round-4", records[0].Id)

	// non-positive limit falls back to the default
	records, err = store.RecentRounds(0)
	require.NoError(t, err)
	assert.Len(t, records, 5)
}

func TestSaveRoundDuplicateId(t *testing.T) {
	store, err := NewRoundStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.SaveRound(testRound("round-a", 1000)))
	assert.Error(t, store.SaveRound(testRound("round-a", 2000)))
}
