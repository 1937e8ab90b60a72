package florch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"github.com/robfig/cron/v3"

	"github.com/KurochkinDaniil/avg-weights-fl-client-backend/internal/common"
	"github.com/KurochkinDaniil/avg-weights-fl-client-backend/internal/config"
	"github.com/KurochkinDaniil/avg-weights-fl-client-backend/internal/events"
	"github.com/KurochkinDaniil/avg-weights-fl-client-backend/internal/flclient"
	"github.com/KurochkinDaniil/avg-weights-fl-client-backend/internal/inference"
	"github.com/KurochkinDaniil/avg-weights-fl-client-backend/internal/ml"
	"github.com/KurochkinDaniil/avg-weights-fl-client-backend/internal/model"
	"github.com/KurochkinDaniil/avg-weights-fl-client-backend/internal/storage"
)

// ErrCycleRunning is returned when a training cycle is requested while
// one is already in flight.
var ErrCycleRunning = errors.New("training cycle already running")

// AggregatorClient is the slice of the gRPC client the cycle needs.
type AggregatorClient interface {
	UploadWeights(ctx context.Context, weights []byte, numExamples int64) error
	ReleaseLink(ctx context.Context) (string, error)
	Close() error
}

// Orchestrator runs federated rounds: pull the global release, train on
// the local samples, push the delta, reload the serving model. Only one
// round runs at a time.
type Orchestrator struct {
	config     *config.Config
	alphabet   *ml.Alphabet
	swipes     *storage.SwipeStore
	rounds     *storage.RoundStore
	manager    *inference.Manager
	eventBus   *events.EventBus
	logger     hclog.Logger
	httpClient *http.Client

	// replaced in tests
	dial func() (AggregatorClient, error)

	running        int32
	cronScheduler  *cron.Cron
	checkpointPath string
}

func NewOrchestrator(cfg *config.Config, alphabet *ml.Alphabet, swipes *storage.SwipeStore,
	rounds *storage.RoundStore, manager *inference.Manager, eventBus *events.EventBus,
	logger hclog.Logger, checkpointPath string) *Orchestrator {

	orch := &Orchestrator{
		config:         cfg,
		alphabet:       alphabet,
		swipes:         swipes,
		rounds:         rounds,
		manager:        manager,
		eventBus:       eventBus,
		logger:         logger,
		httpClient:     &http.Client{Timeout: 60 * time.Second},
		cronScheduler:  cron.New(cron.WithSeconds()),
		checkpointPath: checkpointPath,
	}
	orch.dial = func() (AggregatorClient, error) {
		return flclient.NewClient(cfg.ServerGrpcUrl, cfg.ClientId, logger.Named("fl-client"))
	}
	return orch
}

// TryStartCycle launches a round in the background, or reports that one
// is already running.
func (orch *Orchestrator) TryStartCycle() error {
	if !atomic.CompareAndSwapInt32(&orch.running, 0, 1) {
		return ErrCycleRunning
	}

	go func() {
		defer atomic.StoreInt32(&orch.running, 0)
		if _, err := orch.runCycle(context.Background()); err != nil {
			orch.logger.Error("training cycle failed", "error", err)
		}
	}()

	return nil
}

// RunCycle executes one round synchronously, for the one-shot runner.
func (orch *Orchestrator) RunCycle(ctx context.Context) (*model.RoundRecord, error) {
	if !atomic.CompareAndSwapInt32(&orch.running, 0, 1) {
		return nil, ErrCycleRunning
	}
	defer atomic.StoreInt32(&orch.running, 0)
	return orch.runCycle(ctx)
}

// IsRunning reports whether a round is in flight.
func (orch *Orchestrator) IsRunning() bool {
	return atomic.LoadInt32(&orch.running) == 1
}

// StartSchedule begins cron-driven rounds when a schedule is
// configured.
func (orch *Orchestrator) StartSchedule() error {
	if orch.config.TrainSchedule == "" {
		return nil
	}

	_, err := orch.cronScheduler.AddFunc(orch.config.TrainSchedule, func() {
		if err := orch.TryStartCycle(); err != nil {
			orch.logger.Debug("scheduled cycle skipped", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("invalid TRAIN_SCHEDULE %q: %w", orch.config.TrainSchedule, err)
	}

	orch.cronScheduler.Start()
	orch.logger.Info("scheduled training enabled", "schedule", orch.config.TrainSchedule)
	return nil
}

// StopSchedule stops cron-driven rounds.
func (orch *Orchestrator) StopSchedule() {
	orch.cronScheduler.Stop()
}

func (orch *Orchestrator) runCycle(ctx context.Context) (*model.RoundRecord, error) {
	roundId := uuid.New().String()
	started := time.Now()
	orch.logger.Info("starting federated round", "roundId", roundId)

	record := &model.RoundRecord{
		Id:        roundId,
		StartedAt: started.Unix(),
		Epochs:    orch.config.NumEpochs,
	}

	// step 1: global weights, falling back to the local model
	baseline, err := orch.fetchBaseline(ctx)
	if err != nil {
		return orch.finishRound(record, err)
	}

	// step 2: local data
	samples, err := orch.swipes.LoadAllSamples()
	if err != nil {
		return orch.finishRound(record, fmt.Errorf("loading samples: %w", err))
	}
	dataset := ml.BuildDataset(samples, orch.alphabet, orch.config.MaxSeqLen,
		orch.config.KeyboardWidth, orch.config.KeyboardHeight)
	if dataset.Len() == 0 {
		return orch.finishRound(record, fmt.Errorf("no training data available"))
	}
	orch.logger.Info("loaded local data", "samples", dataset.Len(), "skipped", dataset.Skipped)

	// step 3: local training from the baseline
	network, err := ml.NewNetworkFromState(baseline.Clone())
	if err != nil {
		return orch.finishRound(record, fmt.Errorf("building network from baseline: %w", err))
	}
	trainer := ml.NewTrainer(network, orch.config.TrainingParams(),
		orch.logger.Named("trainer"), time.Now().UnixNano())
	finalLoss, numExamples, err := trainer.Train(dataset)
	if err != nil {
		return orch.finishRound(record, fmt.Errorf("training: %w", err))
	}
	record.FinalLoss = finalLoss
	record.NumExamples = numExamples

	// step 4: delta = trained - baseline
	delta, err := network.State().Delta(baseline)
	if err != nil {
		return orch.finishRound(record, fmt.Errorf("computing delta: %w", err))
	}

	// step 5: upload; failure is not fatal for the round
	if err := orch.uploadDelta(ctx, delta, numExamples); err != nil {
		orch.logger.Warn("delta upload failed", "error", err)
	} else {
		record.Uploaded = true
	}

	// checkpoint and hot reload the trained model
	trained := network.State()
	if err := ml.SaveCheckpoint(orch.checkpointPath, trained); err != nil {
		orch.logger.Warn("checkpoint failed", "error", err)
	}
	if err := orch.manager.Reload(trained); err != nil {
		return orch.finishRound(record, err)
	}

	return orch.finishRound(record, nil)
}

func (orch *Orchestrator) finishRound(record *model.RoundRecord, cycleErr error) (*model.RoundRecord, error) {
	record.FinishedAt = time.Now().Unix()
	if cycleErr != nil {
		record.Status = common.ROUND_STATUS_FAILED
		record.Error = cycleErr.Error()
	} else {
		record.Status = common.ROUND_STATUS_COMPLETED
	}

	if err := orch.rounds.SaveRound(record); err != nil {
		orch.logger.Error("saving round record", "roundId", record.Id, "error", err)
	}

	orch.eventBus.Publish(events.Event{
		Type:      common.CYCLE_FINISHED_EVENT_TYPE,
		Timestamp: time.Now(),
		Data: events.CycleFinishedEvent{
			RoundId:     record.Id,
			NumExamples: record.NumExamples,
			FinalLoss:   record.FinalLoss,
			Uploaded:    record.Uploaded,
			Err:         cycleErr,
		},
	})

	if cycleErr != nil {
		return record, cycleErr
	}
	orch.logger.Info("federated round completed", "roundId", record.Id,
		"numExamples", record.NumExamples, "loss", fmt.Sprintf("%.4f", record.FinalLoss),
		"uploaded", record.Uploaded)
	return record, nil
}

// fetchBaseline resolves the global release and downloads it; when the
// server is unreachable or has no release yet, the current local
// weights are the baseline.
func (orch *Orchestrator) fetchBaseline(ctx context.Context) (ml.StateDict, error) {
	state, err := orch.downloadGlobalWeights(ctx)
	if err != nil {
		orch.logger.Warn("falling back to local weights", "error", err)
		return orch.manager.StateClone()
	}
	if state == nil {
		orch.logger.Info("no global release yet, using local weights as baseline")
		return orch.manager.StateClone()
	}
	orch.logger.Info("downloaded global weights", "tensors", len(state))
	return state, nil
}

func (orch *Orchestrator) downloadGlobalWeights(ctx context.Context) (ml.StateDict, error) {
	client, err := orch.dial()
	if err != nil {
		return nil, err
	}
	defer client.Close()

	link, err := client.ReleaseLink(ctx)
	if err != nil {
		return nil, err
	}
	if link == "" {
		return nil, nil
	}

	blob, err := flclient.DownloadBlob(ctx, orch.httpClient, link)
	if err != nil {
		return nil, err
	}

	state, err := ml.UnmarshalState(blob)
	if err != nil {
		return nil, fmt.Errorf("decoding global weights: %w", err)
	}
	return state, nil
}

func (orch *Orchestrator) uploadDelta(ctx context.Context, delta ml.StateDict, numExamples int64) error {
	client, err := orch.dial()
	if err != nil {
		return err
	}
	defer client.Close()

	return client.UploadWeights(ctx, ml.MarshalState(delta), numExamples)
}
