package server

import (
	"encoding/json"
	"io"

	"github.com/KurochkinDaniil/avg-weights-fl-client-backend/internal/model"
)

func toJSON(i interface{}, w io.Writer) error {
	e := json.NewEncoder(w)
	return e.Encode(i)
}

func fromJSON(i interface{}, r io.Reader) error {
	d := json.NewDecoder(r)
	return d.Decode(i)
}

type SwipeRequest struct {
	GestureId string                  `json:"gesture_id"`
	Coords    []model.CoordinatePoint `json:"coords"`
	Word      string                  `json:"word"`
}

type SwipeResponse struct {
	Status    string `json:"status"`
	GestureId string `json:"gesture_id"`
	Message   string `json:"message"`
}

type PredictResponse struct {
	GestureId     string `json:"gesture_id"`
	PredictedWord string `json:"predicted_word"`
}

type TrainResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

type StatsResponse struct {
	TotalSwipes   int64  `json:"total_swipes"`
	TotalFiles    int    `json:"total_files"`
	DataDirectory string `json:"data_directory"`
	ModelLoaded   bool   `json:"model_loaded"`
}

type ServiceInfo struct {
	Service  string `json:"service"`
	Version  string `json:"version"`
	ClientId string `json:"client_id"`
	Status   string `json:"status"`
}

type ErrorResponse struct {
	Detail string `json:"detail"`
}
