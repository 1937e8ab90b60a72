package inference

import (
	"fmt"
	"sync"

	"github.com/hashicorp/go-hclog"

	"github.com/KurochkinDaniil/avg-weights-fl-client-backend/internal/ml"
	"github.com/KurochkinDaniil/avg-weights-fl-client-backend/internal/model"
)

// ErrModelNotLoaded is returned when prediction is requested before a
// model exists.
var ErrModelNotLoaded = fmt.Errorf("model is not loaded")

// Manager guards the serving network: predictions take a read lock,
// hot reload takes the write lock, so the model can be swapped while
// the API keeps serving.
type Manager struct {
	alphabet       *ml.Alphabet
	keyboardWidth  float64
	keyboardHeight float64
	logger         hclog.Logger

	mu      sync.RWMutex
	network *ml.Network
}

func NewManager(alphabet *ml.Alphabet, keyboardWidth, keyboardHeight float64, logger hclog.Logger) *Manager {
	return &Manager{
		alphabet:       alphabet,
		keyboardWidth:  keyboardWidth,
		keyboardHeight: keyboardHeight,
		logger:         logger,
	}
}

// SetNetwork installs the initial network.
func (m *Manager) SetNetwork(network *ml.Network) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.network = network
}

// IsLoaded reports whether a model is available for prediction.
func (m *Manager) IsLoaded() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.network != nil
}

// StateClone snapshots the current weights for a training round.
func (m *Manager) StateClone() (ml.StateDict, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.network == nil {
		return nil, ErrModelNotLoaded
	}
	return m.network.State().Clone(), nil
}

// Reload swaps in new weights without restarting the process.
func (m *Manager) Reload(state ml.StateDict) error {
	network, err := ml.NewNetworkFromState(state)
	if err != nil {
		return fmt.Errorf("reloading model: %w", err)
	}

	m.mu.Lock()
	m.network = network
	m.mu.Unlock()

	m.logger.Info("model hot reloaded")
	return nil
}

// Predict decodes a word from a raw trajectory.
func (m *Manager) Predict(coords []model.CoordinatePoint) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.network == nil {
		return "", ErrModelNotLoaded
	}

	features, err := ml.PreprocessSwipe(coords, m.keyboardWidth, m.keyboardHeight)
	if err != nil {
		return "", fmt.Errorf("preprocessing gesture: %w", err)
	}

	logits := m.network.Forward(features)
	decoded := ml.GreedyDecode(logits)
	word := m.alphabet.DecodeIndices(decoded)

	m.logger.Debug("prediction", "numPoints", len(coords), "word", word)
	return word, nil
}
