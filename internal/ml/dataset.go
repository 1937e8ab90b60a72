package ml

import (
	"gonum.org/v1/gonum/mat"

	"github.com/KurochkinDaniil/avg-weights-fl-client-backend/internal/model"
)

// EncodedSample is a preprocessed, label-encoded gesture ready for
// training.
type EncodedSample struct {
	GestureId string
	Features  *mat.Dense
	Label     []int
}

// Dataset is the in-memory training set.
type Dataset struct {
	Samples []*EncodedSample

	// samples dropped during encoding (unlabeled, too short, or with
	// no encodable characters)
	Skipped int
}

func (d *Dataset) Len() int {
	return len(d.Samples)
}

// BuildDataset preprocesses raw samples. Sequences longer than
// maxSeqLen are truncated; samples without a usable label are skipped.
func BuildDataset(samples []*model.SwipeSample, alphabet *Alphabet, maxSeqLen int32, keyboardWidth, keyboardHeight float64) *Dataset {
	dataset := &Dataset{}

	for _, sample := range samples {
		if sample.Word == "" {
			dataset.Skipped++
			continue
		}
		label := alphabet.EncodeWord(sample.Word)
		if len(label) == 0 {
			dataset.Skipped++
			continue
		}

		coords := sample.Coords
		if int32(len(coords)) > maxSeqLen {
			coords = coords[:maxSeqLen]
		}

		features, err := PreprocessSwipe(coords, keyboardWidth, keyboardHeight)
		if err != nil {
			dataset.Skipped++
			continue
		}

		dataset.Samples = append(dataset.Samples, &EncodedSample{
			GestureId: sample.GestureId,
			Features:  features,
			Label:     label,
		})
	}

	return dataset
}
