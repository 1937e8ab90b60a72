package ml

import (
	"fmt"
	"math/rand"

	"github.com/hashicorp/go-hclog"

	"github.com/KurochkinDaniil/avg-weights-fl-client-backend/internal/model"
)

// Trainer runs local epochs over the encoded dataset, updating the
// network weights in place with Adam. Gradients are averaged over each
// minibatch; samples CTC cannot align are counted and skipped.
type Trainer struct {
	network *Network
	params  model.TrainingParams
	logger  hclog.Logger
	rng     *rand.Rand
}

func NewTrainer(network *Network, params model.TrainingParams, logger hclog.Logger, seed int64) *Trainer {
	return &Trainer{
		network: network,
		params:  params,
		logger:  logger,
		rng:     rand.New(rand.NewSource(seed)),
	}
}

// Train runs the configured number of epochs and returns the average
// loss of the last epoch together with the number of examples used.
func (trainer *Trainer) Train(dataset *Dataset) (float64, int64, error) {
	if dataset.Len() == 0 {
		return 0, 0, fmt.Errorf("empty dataset")
	}

	optimizer := NewAdam(trainer.network.State(), trainer.params.LearningRate)
	batchSize := int(trainer.params.BatchSize)
	if batchSize <= 0 {
		batchSize = 1
	}

	indices := make([]int, dataset.Len())
	for i := range indices {
		indices[i] = i
	}

	finalLoss := 0.0
	for epoch := int32(0); epoch < trainer.params.NumEpochs; epoch++ {
		trainer.rng.Shuffle(len(indices), func(i, j int) {
			indices[i], indices[j] = indices[j], indices[i]
		})

		epochLoss := 0.0
		lossCount := 0

		for start := 0; start < len(indices); start += batchSize {
			end := start + batchSize
			if end > len(indices) {
				end = len(indices)
			}

			grads := trainer.network.State().ZeroLike()
			used := 0
			for _, index := range indices[start:end] {
				sample := dataset.Samples[index]

				logits, cache := trainer.network.forward(sample.Features)
				loss, dLogits, err := CTCLossGrad(logits, sample.Label)
				if err != nil {
					trainer.logger.Debug("skipping sample", "gestureId", sample.GestureId, "error", err)
					continue
				}

				trainer.network.backward(cache, dLogits, grads)
				epochLoss += loss
				lossCount++
				used++
			}

			if used == 0 {
				continue
			}
			grads.Scale(1 / float64(used))
			optimizer.Step(trainer.network.State(), grads)
		}

		if lossCount > 0 {
			finalLoss = epochLoss / float64(lossCount)
		}
		trainer.logger.Info("epoch finished",
			"epoch", fmt.Sprintf("%d/%d", epoch+1, trainer.params.NumEpochs),
			"loss", fmt.Sprintf("%.4f", finalLoss))
	}

	trainer.logger.Info("training completed", "numExamples", dataset.Len())
	return finalLoss, int64(dataset.Len()), nil
}
