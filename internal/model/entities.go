package model

// CoordinatePoint is a single point of a swipe trajectory. Coordinates
// are in keyboard pixels, t is seconds relative to the gesture start.
type CoordinatePoint struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	T float64 `json:"t"`
}

// SwipeSample is one recorded gesture, the unit stored in the JSONL
// files. Word is empty for prediction-only gestures.
type SwipeSample struct {
	GestureId string            `json:"gesture_id"`
	Coords    []CoordinatePoint `json:"coords"`
	Word      string            `json:"word"`
}

// TrainingParams bundles the per-cycle hyperparameters.
type TrainingParams struct {
	BatchSize    int32
	LearningRate float64
	NumEpochs    int32
	MaxSeqLen    int32
}

// RoundRecord is one federated round as persisted in the round history.
type RoundRecord struct {
	Id          string  `json:"id"`
	StartedAt   int64   `json:"startedAt"`
	FinishedAt  int64   `json:"finishedAt"`
	NumExamples int64   `json:"numExamples"`
	Epochs      int32   `json:"epochs"`
	FinalLoss   float64 `json:"finalLoss"`
	Uploaded    bool    `json:"uploaded"`
	Status      string  `json:"status"`
	Error       string  `json:"error,omitempty"`
}

// StorageStats summarizes the local sample store.
type StorageStats struct {
	TotalSwipes   int64  `json:"totalSwipes"`
	TotalFiles    int    `json:"totalFiles"`
	DataDirectory string `json:"dataDirectory"`
}
