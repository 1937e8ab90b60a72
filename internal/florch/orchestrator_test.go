package florch

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KurochkinDaniil/avg-weights-fl-client-backend/internal/common"
	"github.com/KurochkinDaniil/avg-weights-fl-client-backend/internal/config"
	"github.com/KurochkinDaniil/avg-weights-fl-client-backend/internal/events"
	"github.com/KurochkinDaniil/avg-weights-fl-client-backend/internal/inference"
	"github.com/KurochkinDaniil/avg-weights-fl-client-backend/internal/ml"
	"github.com/KurochkinDaniil/avg-weights-fl-client-backend/internal/model"
	"github.com/KurochkinDaniil/avg-weights-fl-client-backend/internal/storage"
)

type fakeAggregator struct {
	link      string
	linkErr   error
	uploadErr error

	uploadedWeights  []byte
	uploadedExamples int64
	closeCalls       int32
}

func (f *fakeAggregator) UploadWeights(ctx context.Context, weights []byte, numExamples int64) error {
	if f.uploadErr != nil {
		return f.uploadErr
	}
	f.uploadedWeights = append([]byte{}, weights...)
	f.uploadedExamples = numExamples
	return nil
}

func (f *fakeAggregator) ReleaseLink(ctx context.Context) (string, error) {
	return f.link, f.linkErr
}

func (f *fakeAggregator) Close() error {
	atomic.AddInt32(&f.closeCalls, 1)
	return nil
}

type cycleFixture struct {
	orch           *Orchestrator
	aggregator     *fakeAggregator
	manager        *inference.Manager
	rounds         *storage.RoundStore
	finished       chan events.Event
	checkpointPath string
}

func newCycleFixture(t *testing.T, sampleCount int) *cycleFixture {
	t.Helper()
	dataDir := t.TempDir()
	logger := hclog.NewNullLogger()

	cfg := &config.Config{
		ClientId:       "test-client",
		ServerGrpcUrl:  "localhost:0",
		MaxSeqLen:      50,
		InputSize:      ml.NumFeatures,
		HiddenSize:     4,
		AlphabetSize:   4,
		BatchSize:      2,
		LearningRate:   0.01,
		NumEpochs:      1,
		DataDir:        dataDir,
		KeyboardWidth:  1080,
		KeyboardHeight: 631,
	}

	alphabet, err := ml.NewAlphabet("_|a|b|c")
	require.NoError(t, err)

	swipes, err := storage.NewSwipeStore(dataDir, logger)
	require.NoError(t, err)
	words := []string{"ab", "ba", "cab"}
	for i := 0; i < sampleCount; i++ {
		coords := make([]model.CoordinatePoint, 10)
		for j := range coords {
			coords[j] = model.CoordinatePoint{
				X: float64(100 + 30*j + 7*i),
				Y: float64(200 + 15*j),
				T: float64(j) * 0.05,
			}
		}
		require.NoError(t, swipes.SaveSwipe(&model.SwipeSample{
			GestureId: fmt.Sprintf("g-%d", i),
			Coords:    coords,
			Word:      words[i%len(words)],
		}))
	}

	rounds, err := storage.NewRoundStore(dataDir)
	require.NoError(t, err)
	t.Cleanup(func() { rounds.Close() })

	manager := inference.NewManager(alphabet, cfg.KeyboardWidth, cfg.KeyboardHeight, logger)
	manager.SetNetwork(ml.NewNetwork(int(cfg.InputSize), int(cfg.HiddenSize), int(cfg.AlphabetSize), 1))

	eventBus := events.NewEventBus()
	finished := make(chan events.Event, 1)
	eventBus.Subscribe(common.CYCLE_FINISHED_EVENT_TYPE, finished)

	checkpointPath := filepath.Join(dataDir, common.MODEL_FILE_NAME)
	orch := NewOrchestrator(cfg, alphabet, swipes, rounds, manager, eventBus, logger, checkpointPath)

	aggregator := &fakeAggregator{}
	orch.dial = func() (AggregatorClient, error) { return aggregator, nil }

	return &cycleFixture{
		orch:           orch,
		aggregator:     aggregator,
		manager:        manager,
		rounds:         rounds,
		finished:       finished,
		checkpointPath: checkpointPath,
	}
}

func (f *cycleFixture) waitForEvent(t *testing.T) events.CycleFinishedEvent {
	t.Helper()
	select {
	case event := <-f.finished:
		data, ok := event.Data.(events.CycleFinishedEvent)
		require.True(t, ok)
		return data
	case <-time.After(5 * time.Second):
		t.Fatal("no cycle finished event")
		return events.CycleFinishedEvent{}
	}
}

func TestRunCycleWithGlobalRelease(t *testing.T) {
	fixture := newCycleFixture(t, 4)

	global := ml.NewNetwork(ml.NumFeatures, 4, 4, 77)
	blobServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(ml.MarshalState(global.State()))
	}))
	defer blobServer.Close()
	fixture.aggregator.link = blobServer.URL

	record, err := fixture.orch.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, common.ROUND_STATUS_COMPLETED, record.Status)
	assert.True(t, record.Uploaded)
	assert.Equal(t, int64(4), record.NumExamples)
	assert.Greater(t, record.FinalLoss, 0.0)

	// the uploaded delta decodes to the full layer set
	require.NotEmpty(t, fixture.aggregator.uploadedWeights)
	delta, err := ml.UnmarshalState(fixture.aggregator.uploadedWeights)
	require.NoError(t, err)
	assert.Len(t, delta, 6)
	assert.Equal(t, int64(4), fixture.aggregator.uploadedExamples)

	// trained = global baseline + delta
	trained, err := fixture.manager.StateClone()
	require.NoError(t, err)
	applied, err := global.State().Apply(delta)
	require.NoError(t, err)
	assert.InDelta(t, applied[ml.FCBiasKey].Data[0], trained[ml.FCBiasKey].Data[0], 1e-9)

	// checkpoint matches the serving model
	checkpoint, err := ml.LoadCheckpoint(fixture.checkpointPath)
	require.NoError(t, err)
	assert.Equal(t, trained[ml.FCBiasKey].Data, checkpoint[ml.FCBiasKey].Data)

	event := fixture.waitForEvent(t)
	assert.Equal(t, record.Id, event.RoundId)
	assert.True(t, event.Uploaded)
	assert.NoError(t, event.Err)

	saved, err := fixture.rounds.RecentRounds(5)
	require.NoError(t, err)
	require.Len(t, saved, 1)
	assert.Equal(t, record.Id, saved[0].Id)
}

func TestRunCycleWithoutReleaseUsesLocalBaseline(t *testing.T) {
	fixture := newCycleFixture(t, 3)

	baseline, err := fixture.manager.StateClone()
	require.NoError(t, err)

	record, err := fixture.orch.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, common.ROUND_STATUS_COMPLETED, record.Status)

	delta, err := ml.UnmarshalState(fixture.aggregator.uploadedWeights)
	require.NoError(t, err)
	trained, err := fixture.manager.StateClone()
	require.NoError(t, err)
	applied, err := baseline.Apply(delta)
	require.NoError(t, err)
	assert.InDelta(t, applied[ml.FCBiasKey].Data[0], trained[ml.FCBiasKey].Data[0], 1e-9)
}

func TestRunCycleUploadFailureIsNotFatal(t *testing.T) {
	fixture := newCycleFixture(t, 3)
	fixture.aggregator.uploadErr = fmt.Errorf("server unavailable")

	record, err := fixture.orch.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, common.ROUND_STATUS_COMPLETED, record.Status)
	assert.False(t, record.Uploaded)

	event := fixture.waitForEvent(t)
	assert.False(t, event.Uploaded)
}

func TestRunCycleWithoutSamplesFails(t *testing.T) {
	fixture := newCycleFixture(t, 0)

	record, err := fixture.orch.RunCycle(context.Background())
	require.Error(t, err)
	assert.Equal(t, common.ROUND_STATUS_FAILED, record.Status)
	assert.NotEmpty(t, record.Error)

	saved, err := fixture.rounds.RecentRounds(5)
	require.NoError(t, err)
	require.Len(t, saved, 1)
	assert.Equal(t, common.ROUND_STATUS_FAILED, saved[0].Status)
}

func TestRunCycleRejectsConcurrentRounds(t *testing.T) {
	fixture := newCycleFixture(t, 3)

	atomic.StoreInt32(&fixture.orch.running, 1)
	_, err := fixture.orch.RunCycle(context.Background())
	assert.ErrorIs(t, err, ErrCycleRunning)
	assert.ErrorIs(t, fixture.orch.TryStartCycle(), ErrCycleRunning)
	assert.True(t, fixture.orch.IsRunning())

	atomic.StoreInt32(&fixture.orch.running, 0)
	assert.False(t, fixture.orch.IsRunning())
}

func TestStartScheduleRejectsBadExpression(t *testing.T) {
	fixture := newCycleFixture(t, 0)
	fixture.orch.config.TrainSchedule = "not a cron line"
	assert.Error(t, fixture.orch.StartSchedule())
}
