package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/KurochkinDaniil/avg-weights-fl-client-backend/internal/common"
	"github.com/KurochkinDaniil/avg-weights-fl-client-backend/internal/config"
	"github.com/KurochkinDaniil/avg-weights-fl-client-backend/internal/events"
	"github.com/KurochkinDaniil/avg-weights-fl-client-backend/internal/florch"
	"github.com/KurochkinDaniil/avg-weights-fl-client-backend/internal/inference"
	"github.com/KurochkinDaniil/avg-weights-fl-client-backend/internal/ml"
	"github.com/KurochkinDaniil/avg-weights-fl-client-backend/internal/server"
	"github.com/KurochkinDaniil/avg-weights-fl-client-backend/internal/storage"
)

func main() {
	_ = os.Mkdir("log", 0777)
	logFile, err := os.OpenFile("log/run.log", os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0777)
	if err != nil {
		panic(err)
	}
	defer func() {
		if err := logFile.Close(); err != nil {
			panic(err)
		}
	}()

	logger := hclog.New(&hclog.LoggerOptions{
		Name:   "fl-client",
		Level:  hclog.LevelFromString("DEBUG"),
		Output: io.MultiWriter(os.Stdout, logFile),
	})

	cfg, err := config.Load()
	if err != nil {
		logger.Error("Error loading configuration ::", "error", err)
		return
	}

	logger.Info("Starting FL client", "clientId", cfg.ClientId,
		"dataDir", cfg.DataDir, "server", cfg.ServerGrpcUrl)

	alphabet, err := ml.NewAlphabet(cfg.Alphabet)
	if err != nil {
		logger.Error("Error parsing alphabet ::", "error", err)
		return
	}
	if int32(alphabet.Size()) != cfg.AlphabetSize {
		logger.Warn("ALPHABET_SIZE does not match alphabet, using token count",
			"configured", cfg.AlphabetSize, "actual", alphabet.Size())
	}

	swipes, err := storage.NewSwipeStore(cfg.DataDir, logger.Named("storage"))
	if err != nil {
		logger.Error("Error initializing swipe store ::", "error", err)
		return
	}

	rounds, err := storage.NewRoundStore(cfg.DataDir)
	if err != nil {
		logger.Error("Error initializing round store ::", "error", err)
		return
	}
	defer rounds.Close()

	manager := inference.NewManager(alphabet, cfg.KeyboardWidth, cfg.KeyboardHeight,
		logger.Named("inference"))

	checkpointPath := filepath.Join(cfg.DataDir, common.MODEL_FILE_NAME)
	if err := loadOrInitModel(manager, alphabet, cfg, checkpointPath, logger); err != nil {
		logger.Error("Error loading model ::", "error", err)
		return
	}

	eventBus := events.NewEventBus()
	cycleEvents := make(chan events.Event, 8)
	eventBus.Subscribe(common.CYCLE_FINISHED_EVENT_TYPE, cycleEvents)
	go func() {
		for event := range cycleEvents {
			if data, ok := event.Data.(events.CycleFinishedEvent); ok {
				logger.Info("cycle finished", "roundId", data.RoundId,
					"numExamples", data.NumExamples, "uploaded", data.Uploaded)
			}
		}
	}()

	orchestrator := florch.NewOrchestrator(cfg, alphabet, swipes, rounds, manager,
		eventBus, logger.Named("florch"), checkpointPath)
	if err := orchestrator.StartSchedule(); err != nil {
		logger.Error("Error starting training schedule ::", "error", err)
		return
	}
	defer orchestrator.StopSchedule()

	handler := server.NewHandler(logger.Named("server"), eventBus, swipes, rounds,
		manager, orchestrator, cfg.ClientId)

	address := fmt.Sprintf("%s:%d", cfg.ApiHost, cfg.ApiPort)
	server.StartHttpServer(logger, address, handler.Router())
}

// loadOrInitModel restores the local checkpoint when one exists and
// otherwise starts from random weights.
func loadOrInitModel(manager *inference.Manager, alphabet *ml.Alphabet, cfg *config.Config,
	checkpointPath string, logger hclog.Logger) error {

	if _, err := os.Stat(checkpointPath); err == nil {
		state, err := ml.LoadCheckpoint(checkpointPath)
		if err != nil {
			return err
		}
		network, err := ml.NewNetworkFromState(state)
		if err != nil {
			return err
		}
		manager.SetNetwork(network)
		logger.Info("model loaded from checkpoint", "path", checkpointPath)
		return nil
	}

	logger.Warn("no checkpoint found, using random weights", "path", checkpointPath)
	network := ml.NewNetwork(int(cfg.InputSize), int(cfg.HiddenSize), alphabet.Size(),
		time.Now().UnixNano())
	manager.SetNetwork(network)
	return nil
}
