package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KurochkinDaniil/avg-weights-fl-client-backend/internal/common"
	"github.com/KurochkinDaniil/avg-weights-fl-client-backend/internal/config"
	"github.com/KurochkinDaniil/avg-weights-fl-client-backend/internal/events"
	"github.com/KurochkinDaniil/avg-weights-fl-client-backend/internal/florch"
	"github.com/KurochkinDaniil/avg-weights-fl-client-backend/internal/inference"
	"github.com/KurochkinDaniil/avg-weights-fl-client-backend/internal/ml"
	"github.com/KurochkinDaniil/avg-weights-fl-client-backend/internal/model"
	"github.com/KurochkinDaniil/avg-weights-fl-client-backend/internal/storage"
)

type apiFixture struct {
	server        *httptest.Server
	swipes        *storage.SwipeStore
	swipeStored   chan events.Event
	cycleFinished chan events.Event
}

func newApiFixture(t *testing.T, loadModel bool) *apiFixture {
	t.Helper()
	dataDir := t.TempDir()
	logger := hclog.NewNullLogger()

	cfg := &config.Config{
		ClientId:       "test-client",
		ServerGrpcUrl:  "localhost:1",
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
	rounds, err := storage.NewRoundStore(dataDir)
	require.NoError(t, err)
	t.Cleanup(func() { rounds.Close() })

	manager := inference.NewManager(alphabet, cfg.KeyboardWidth, cfg.KeyboardHeight, logger)
	if loadModel {
		manager.SetNetwork(ml.NewNetwork(int(cfg.InputSize), int(cfg.HiddenSize), int(cfg.AlphabetSize), 1))
	}

	eventBus := events.NewEventBus()
	swipeStored := make(chan events.Event, 8)
	cycleFinished := make(chan events.Event, 8)
	eventBus.Subscribe(common.SWIPE_STORED_EVENT_TYPE, swipeStored)
	eventBus.Subscribe(common.CYCLE_FINISHED_EVENT_TYPE, cycleFinished)

	orchestrator := florch.NewOrchestrator(cfg, alphabet, swipes, rounds, manager,
		eventBus, logger, filepath.Join(dataDir, common.MODEL_FILE_NAME))

	handler := NewHandler(logger, eventBus, swipes, rounds, manager, orchestrator, cfg.ClientId)
	server := httptest.NewServer(handler.Router())
	t.Cleanup(server.Close)

	return &apiFixture{
		server:        server,
		swipes:        swipes,
		swipeStored:   swipeStored,
		cycleFinished: cycleFinished,
	}
}

func (f *apiFixture) postJSON(t *testing.T, path string, body interface{}) *http.Response {
	t.Helper()
	encoded, err := json.Marshal(body)
	require.NoError(t, err)
	response, err := http.Post(f.server.URL+path, "application/json", bytes.NewReader(encoded))
	require.NoError(t, err)
	return response
}

func decodeBody(t *testing.T, response *http.Response, target interface{}) {
	t.Helper()
	defer response.Body.Close()
	require.NoError(t, json.NewDecoder(response.Body).Decode(target))
}

func apiCoords(count int) []model.CoordinatePoint {
	coords := make([]model.CoordinatePoint, count)
	for i := range coords {
		coords[i] = model.CoordinatePoint{
			X: float64(100 + 40*i),
			Y: float64(300 + 10*i),
			T: float64(i) * 0.03,
		}
	}
	return coords
}

func TestRootAndHealth(t *testing.T) {
	fixture := newApiFixture(t, true)

	response, err := http.Get(fixture.server.URL + "/")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, response.StatusCode)
	info := ServiceInfo{}
	decodeBody(t, response, &info)
	assert.Equal(t, "FL Client API", info.Service)
	assert.Equal(t, "test-client", info.ClientId)

	response, err = http.Get(fixture.server.URL + "/health")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, response.StatusCode)
	health := map[string]string{}
	decodeBody(t, response, &health)
	assert.Equal(t, "healthy", health["status"])
}

func TestReceiveSwipe(t *testing.T) {
	fixture := newApiFixture(t, true)

	response := fixture.postJSON(t, "/api/v1/swipes", SwipeRequest{
		Coords: apiCoords(6),
		Word:   "ab",
	})
	assert.Equal(t, http.StatusAccepted, response.StatusCode)

	accepted := SwipeResponse{}
	decodeBody(t, response, &accepted)
	assert.Equal(t, "accepted", accepted.Status)
	assert.NotEmpty(t, accepted.GestureId, "missing id must be generated")

	select {
	case event := <-fixture.swipeStored:
		data, ok := event.Data.(events.SwipeStoredEvent)
		require.True(t, ok)
		assert.Equal(t, accepted.GestureId, data.GestureId)
		assert.Equal(t, 6, data.NumPoints)
	case <-time.After(5 * time.Second):
		t.Fatal("swipe was not persisted")
	}

	count, err := fixture.swipes.CountSamples()
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestReceiveSwipeValidation(t *testing.T) {
	fixture := newApiFixture(t, true)

	response, err := http.Post(fixture.server.URL+"/api/v1/swipes", "application/json",
		bytes.NewReader([]byte("{broken")))
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, response.StatusCode)
	response.Body.Close()

	response = fixture.postJSON(t, "/api/v1/swipes", SwipeRequest{Word: "ab"})
	assert.Equal(t, http.StatusBadRequest, response.StatusCode)
	detail := ErrorResponse{}
	decodeBody(t, response, &detail)
	assert.Contains(t, detail.Detail, "coords")
}

func TestPredict(t *testing.T) {
	fixture := newApiFixture(t, true)

	response := fixture.postJSON(t, "/api/v1/predict", SwipeRequest{
		GestureId: "g-predict",
		Coords:    apiCoords(8),
	})
	assert.Equal(t, http.StatusOK, response.StatusCode)

	prediction := PredictResponse{}
	decodeBody(t, response, &prediction)
	assert.Equal(t, "g-predict", prediction.GestureId)
}

func TestPredictWithoutModel(t *testing.T) {
	fixture := newApiFixture(t, false)

	response := fixture.postJSON(t, "/api/v1/predict", SwipeRequest{Coords: apiCoords(8)})
	assert.Equal(t, http.StatusServiceUnavailable, response.StatusCode)

	detail := ErrorResponse{}
	decodeBody(t, response, &detail)
	assert.Equal(t, "Model not loaded", detail.Detail)
}

func TestStats(t *testing.T) {
	fixture := newApiFixture(t, true)

	response, err := http.Get(fixture.server.URL + "/api/v1/stats")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, response.StatusCode)

	stats := StatsResponse{}
	decodeBody(t, response, &stats)
	assert.Equal(t, int64(0), stats.TotalSwipes)
	assert.True(t, stats.ModelLoaded)
	assert.NotEmpty(t, stats.DataDirectory)
}

func TestRoundsEmpty(t *testing.T) {
	fixture := newApiFixture(t, true)

	response, err := http.Get(fixture.server.URL + "/api/v1/rounds")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, response.StatusCode)

	records := []*model.RoundRecord{}
	decodeBody(t, response, &records)
	assert.Empty(t, records)
}

// The train endpoint runs a whole round in the background. With the
// aggregation server unreachable the cycle falls back to the local
// weights and still completes on the stored samples.
func TestStartTraining(t *testing.T) {
	fixture := newApiFixture(t, true)

	for i := 0; i < 3; i++ {
		response := fixture.postJSON(t, "/api/v1/swipes", SwipeRequest{
			GestureId: fmt.Sprintf("g-%d", i),
			Coords:    apiCoords(10),
			Word:      "ab",
		})
		response.Body.Close()
	}
	for i := 0; i < 3; i++ {
		select {
		case <-fixture.swipeStored:
		case <-time.After(5 * time.Second):
			t.Fatal("swipes were not persisted")
		}
	}

	response := fixture.postJSON(t, "/api/v1/train", struct{}{})
	assert.Equal(t, http.StatusAccepted, response.StatusCode)
	started := TrainResponse{}
	decodeBody(t, response, &started)
	assert.Equal(t, "training_started", started.Status)

	select {
	case event := <-fixture.cycleFinished:
		data, ok := event.Data.(events.CycleFinishedEvent)
		require.True(t, ok)
		assert.NoError(t, data.Err)
		assert.Equal(t, int64(3), data.NumExamples)
	case <-time.After(30 * time.Second):
		t.Fatal("training cycle did not finish")
	}

	response, err := http.Get(fixture.server.URL + "/api/v1/rounds")
	require.NoError(t, err)
	records := []*model.RoundRecord{}
	decodeBody(t, response, &records)
	require.Len(t, records, 1)
	assert.Equal(t, common.ROUND_STATUS_COMPLETED, records[0].Status)
}
