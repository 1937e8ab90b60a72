package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/hashicorp/go-hclog"

	"github.com/KurochkinDaniil/avg-weights-fl-client-backend/internal/common"
	"github.com/KurochkinDaniil/avg-weights-fl-client-backend/internal/events"
	"github.com/KurochkinDaniil/avg-weights-fl-client-backend/internal/florch"
	"github.com/KurochkinDaniil/avg-weights-fl-client-backend/internal/inference"
	"github.com/KurochkinDaniil/avg-weights-fl-client-backend/internal/model"
	"github.com/KurochkinDaniil/avg-weights-fl-client-backend/internal/storage"
)

const serviceVersion = "1.0.0"

type Handler struct {
	logger       hclog.Logger
	eventBus     *events.EventBus
	swipes       *storage.SwipeStore
	rounds       *storage.RoundStore
	manager      *inference.Manager
	orchestrator *florch.Orchestrator
	clientId     string
}

func NewHandler(logger hclog.Logger, eventBus *events.EventBus, swipes *storage.SwipeStore,
	rounds *storage.RoundStore, manager *inference.Manager, orchestrator *florch.Orchestrator,
	clientId string) *Handler {
	return &Handler{
		logger:       logger,
		eventBus:     eventBus,
		swipes:       swipes,
		rounds:       rounds,
		manager:      manager,
		orchestrator: orchestrator,
		clientId:     clientId,
	}
}

// Router wires the API surface.
func (handler *Handler) Router() *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/", handler.Root).Methods(http.MethodGet)
	router.HandleFunc("/health", handler.Health).Methods(http.MethodGet)
	router.HandleFunc("/api/v1/swipes", handler.ReceiveSwipe).Methods(http.MethodPost)
	router.HandleFunc("/api/v1/predict", handler.Predict).Methods(http.MethodPost)
	router.HandleFunc("/api/v1/train", handler.StartTraining).Methods(http.MethodPost)
	router.HandleFunc("/api/v1/stats", handler.Stats).Methods(http.MethodGet)
	router.HandleFunc("/api/v1/rounds", handler.Rounds).Methods(http.MethodGet)
	return router
}

func (handler *Handler) Root(rw http.ResponseWriter, r *http.Request) {
	rw.Header().Add("Content-Type", "application/json")
	toJSON(ServiceInfo{
		Service:  "FL Client API",
		Version:  serviceVersion,
		ClientId: handler.clientId,
		Status:   "running",
	}, rw)
}

func (handler *Handler) Health(rw http.ResponseWriter, r *http.Request) {
	rw.Header().Add("Content-Type", "application/json")
	toJSON(map[string]string{"status": "healthy"}, rw)
}

// ReceiveSwipe accepts a gesture and persists it in the background so
// the frontend gets its 202 immediately.
func (handler *Handler) ReceiveSwipe(rw http.ResponseWriter, r *http.Request) {
	rw.Header().Add("Content-Type", "application/json")

	request := &SwipeRequest{}
	if err := fromJSON(request, r.Body); err != nil {
		handler.logger.Error("error decoding swipe", "error", err)
		rw.WriteHeader(http.StatusBadRequest)
		toJSON(ErrorResponse{Detail: "invalid request body"}, rw)
		return
	}

	if len(request.Coords) == 0 {
		rw.WriteHeader(http.StatusBadRequest)
		toJSON(ErrorResponse{Detail: "coords must not be empty"}, rw)
		return
	}
	if request.GestureId == "" {
		request.GestureId = uuid.New().String()
	}

	sample := &model.SwipeSample{
		GestureId: request.GestureId,
		Coords:    request.Coords,
		Word:      request.Word,
	}

	go func() {
		if err := handler.swipes.SaveSwipe(sample); err != nil {
			handler.logger.Error("error saving swipe", "gestureId", sample.GestureId, "error", err)
			return
		}
		handler.eventBus.Publish(events.Event{
			Type:      common.SWIPE_STORED_EVENT_TYPE,
			Timestamp: time.Now(),
			Data: events.SwipeStoredEvent{
				GestureId: sample.GestureId,
				Word:      sample.Word,
				NumPoints: len(sample.Coords),
			},
		})
	}()

	handler.logger.Info("accepted swipe", "gestureId", request.GestureId,
		"word", request.Word, "points", len(request.Coords))

	rw.WriteHeader(http.StatusAccepted)
	toJSON(SwipeResponse{
		Status:    "accepted",
		GestureId: request.GestureId,
		Message:   "Swipe gesture accepted, saving in background",
	}, rw)
}

func (handler *Handler) Predict(rw http.ResponseWriter, r *http.Request) {
	rw.Header().Add("Content-Type", "application/json")

	request := &SwipeRequest{}
	if err := fromJSON(request, r.Body); err != nil {
		rw.WriteHeader(http.StatusBadRequest)
		toJSON(ErrorResponse{Detail: "invalid request body"}, rw)
		return
	}

	word, err := handler.manager.Predict(request.Coords)
	if err != nil {
		if errors.Is(err, inference.ErrModelNotLoaded) {
			rw.WriteHeader(http.StatusServiceUnavailable)
			toJSON(ErrorResponse{Detail: "Model not loaded"}, rw)
			return
		}
		handler.logger.Error("prediction failed", "gestureId", request.GestureId, "error", err)
		rw.WriteHeader(http.StatusInternalServerError)
		toJSON(ErrorResponse{Detail: err.Error()}, rw)
		return
	}

	toJSON(PredictResponse{
		GestureId:     request.GestureId,
		PredictedWord: word,
	}, rw)
}

// StartTraining launches a federated round in the background.
func (handler *Handler) StartTraining(rw http.ResponseWriter, r *http.Request) {
	rw.Header().Add("Content-Type", "application/json")

	if err := handler.orchestrator.TryStartCycle(); err != nil {
		if errors.Is(err, florch.ErrCycleRunning) {
			rw.WriteHeader(http.StatusConflict)
			toJSON(ErrorResponse{Detail: "training cycle already running"}, rw)
			return
		}
		handler.logger.Error("error starting training", "error", err)
		rw.WriteHeader(http.StatusInternalServerError)
		toJSON(ErrorResponse{Detail: err.Error()}, rw)
		return
	}

	handler.logger.Info("FL training cycle started in background")

	rw.WriteHeader(http.StatusAccepted)
	toJSON(TrainResponse{
		Status:  "training_started",
		Message: "Federated learning training cycle started in background",
	}, rw)
}

func (handler *Handler) Stats(rw http.ResponseWriter, r *http.Request) {
	rw.Header().Add("Content-Type", "application/json")

	stats, err := handler.swipes.Stats()
	if err != nil {
		handler.logger.Error("error collecting stats", "error", err)
		rw.WriteHeader(http.StatusInternalServerError)
		toJSON(ErrorResponse{Detail: err.Error()}, rw)
		return
	}

	toJSON(StatsResponse{
		TotalSwipes:   stats.TotalSwipes,
		TotalFiles:    stats.TotalFiles,
		DataDirectory: stats.DataDirectory,
		ModelLoaded:   handler.manager.IsLoaded(),
	}, rw)
}

func (handler *Handler) Rounds(rw http.ResponseWriter, r *http.Request) {
	rw.Header().Add("Content-Type", "application/json")

	records, err := handler.rounds.RecentRounds(20)
	if err != nil {
		handler.logger.Error("error listing rounds", "error", err)
		rw.WriteHeader(http.StatusInternalServerError)
		toJSON(ErrorResponse{Detail: err.Error()}, rw)
		return
	}

	toJSON(records, rw)
}
