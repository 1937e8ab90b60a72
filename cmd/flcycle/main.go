package main

import (
	"context"
	"flag"
	"fmt"
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
	"github.com/KurochkinDaniil/avg-weights-fl-client-backend/internal/storage"
)

// minimum samples before a round is worth running
const readySampleCount = 10

func main() {
	statusOnly := flag.Bool("status", false, "print training readiness and exit")
	flag.Parse()

	logger := hclog.New(&hclog.LoggerOptions{
		Name:  "flcycle",
		Level: hclog.LevelFromString("INFO"),
	})

	cfg, err := config.Load()
	if err != nil {
		logger.Error("Error loading configuration ::", "error", err)
		os.Exit(1)
	}

	if *statusOnly {
		os.Exit(printStatus(cfg, logger))
	}

	if err := runCycle(cfg, logger); err != nil {
		logger.Error("Federated cycle failed ::", "error", err)
		os.Exit(1)
	}
}

func printStatus(cfg *config.Config, logger hclog.Logger) int {
	swipes, err := storage.NewSwipeStore(cfg.DataDir, logger.Named("storage"))
	if err != nil {
		logger.Error("Error opening swipe store ::", "error", err)
		return 1
	}

	stats, err := swipes.Stats()
	if err != nil {
		logger.Error("Error reading stats ::", "error", err)
		return 1
	}

	checkpointPath := filepath.Join(cfg.DataDir, common.MODEL_FILE_NAME)
	if info, err := os.Stat(checkpointPath); err == nil {
		fmt.Printf("checkpoint: %s (%.2f MB)\n", checkpointPath,
			float64(info.Size())/(1024*1024))
	} else {
		fmt.Println("checkpoint: none, will train from random weights")
	}

	fmt.Printf("client: %s\n", cfg.ClientId)
	fmt.Printf("server: %s\n", cfg.ServerGrpcUrl)
	fmt.Printf("samples: %d in %d files under %s\n",
		stats.TotalSwipes, stats.TotalFiles, stats.DataDirectory)
	fmt.Printf("training: %d epochs, batch %d, lr %g\n",
		cfg.NumEpochs, cfg.BatchSize, cfg.LearningRate)

	switch {
	case stats.TotalSwipes >= readySampleCount:
		fmt.Println("status: ready to train")
		return 0
	case stats.TotalSwipes > 0:
		fmt.Printf("status: low data, collect at least %d swipes\n", readySampleCount)
		return 0
	default:
		fmt.Println("status: not ready, no training data")
		return 1
	}
}

func runCycle(cfg *config.Config, logger hclog.Logger) error {
	alphabet, err := ml.NewAlphabet(cfg.Alphabet)
	if err != nil {
		return err
	}

	swipes, err := storage.NewSwipeStore(cfg.DataDir, logger.Named("storage"))
	if err != nil {
		return err
	}

	rounds, err := storage.NewRoundStore(cfg.DataDir)
	if err != nil {
		return err
	}
	defer rounds.Close()

	manager := inference.NewManager(alphabet, cfg.KeyboardWidth, cfg.KeyboardHeight,
		logger.Named("inference"))

	checkpointPath := filepath.Join(cfg.DataDir, common.MODEL_FILE_NAME)
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
	} else {
		logger.Warn("no checkpoint found, training from random weights")
		manager.SetNetwork(ml.NewNetwork(int(cfg.InputSize), int(cfg.HiddenSize),
			alphabet.Size(), time.Now().UnixNano()))
	}

	orchestrator := florch.NewOrchestrator(cfg, alphabet, swipes, rounds, manager,
		events.NewEventBus(), logger.Named("florch"), checkpointPath)

	record, err := orchestrator.RunCycle(context.Background())
	if err != nil {
		return err
	}

	logger.Info("Federated cycle completed", "roundId", record.Id,
		"numExamples", record.NumExamples, "loss", fmt.Sprintf("%.4f", record.FinalLoss),
		"uploaded", record.Uploaded)
	return nil
}
