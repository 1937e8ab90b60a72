package config

import (
	"fmt"

	"github.com/spf13/viper"

	"github.com/KurochkinDaniil/avg-weights-fl-client-backend/internal/common"
	"github.com/KurochkinDaniil/avg-weights-fl-client-backend/internal/model"
)

// Config holds all runtime settings. Values come from the environment
// with the same variable names the original deployment used (CLIENT_ID,
// API_PORT, NUM_EPOCHS, ...), falling back to the defaults in common.
type Config struct {
	ClientId      string
	ApiHost       string
	ApiPort       int
	ServerGrpcUrl string

	MaxSeqLen    int32
	InputSize    int32
	HiddenSize   int32
	AlphabetSize int32

	BatchSize    int32
	LearningRate float64
	NumEpochs    int32

	DataDir  string
	Alphabet string

	KeyboardWidth  float64
	KeyboardHeight float64

	// Cron expression for scheduled training cycles; empty disables them.
	TrainSchedule string
}

func Load() (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("CLIENT_ID", common.DEFAULT_CLIENT_ID)
	v.SetDefault("API_HOST", common.DEFAULT_API_HOST)
	v.SetDefault("API_PORT", common.DEFAULT_API_PORT)
	v.SetDefault("SERVER_GRPC_URL", common.DEFAULT_SERVER_GRPC_URL)
	v.SetDefault("MAX_SEQ_LEN", common.DEFAULT_MAX_SEQ_LEN)
	v.SetDefault("INPUT_SIZE", common.DEFAULT_INPUT_SIZE)
	v.SetDefault("HIDDEN_SIZE", common.DEFAULT_HIDDEN_SIZE)
	v.SetDefault("ALPHABET_SIZE", common.DEFAULT_ALPHABET_SIZE)
	v.SetDefault("BATCH_SIZE", common.DEFAULT_BATCH_SIZE)
	v.SetDefault("LEARNING_RATE", common.DEFAULT_LEARNING_RATE)
	v.SetDefault("NUM_EPOCHS", common.DEFAULT_NUM_EPOCHS)
	v.SetDefault("DATA_DIR", common.DEFAULT_DATA_DIR)
	v.SetDefault("ALPHABET", common.DEFAULT_ALPHABET)
	v.SetDefault("KEYBOARD_WIDTH", common.DEFAULT_KEYBOARD_WIDTH)
	v.SetDefault("KEYBOARD_HEIGHT", common.DEFAULT_KEYBOARD_HEIGHT)
	v.SetDefault("TRAIN_SCHEDULE", "")

	config := &Config{
		ClientId:       v.GetString("CLIENT_ID"),
		ApiHost:        v.GetString("API_HOST"),
		ApiPort:        v.GetInt("API_PORT"),
		ServerGrpcUrl:  v.GetString("SERVER_GRPC_URL"),
		MaxSeqLen:      v.GetInt32("MAX_SEQ_LEN"),
		InputSize:      v.GetInt32("INPUT_SIZE"),
		HiddenSize:     v.GetInt32("HIDDEN_SIZE"),
		AlphabetSize:   v.GetInt32("ALPHABET_SIZE"),
		BatchSize:      v.GetInt32("BATCH_SIZE"),
		LearningRate:   v.GetFloat64("LEARNING_RATE"),
		NumEpochs:      v.GetInt32("NUM_EPOCHS"),
		DataDir:        v.GetString("DATA_DIR"),
		Alphabet:       v.GetString("ALPHABET"),
		KeyboardWidth:  v.GetFloat64("KEYBOARD_WIDTH"),
		KeyboardHeight: v.GetFloat64("KEYBOARD_HEIGHT"),
		TrainSchedule:  v.GetString("TRAIN_SCHEDULE"),
	}

	if err := config.validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func (c *Config) validate() error {
	if c.ApiPort <= 0 || c.ApiPort > 65535 {
		return fmt.Errorf("invalid API_PORT: %d", c.ApiPort)
	}
	if c.MaxSeqLen <= 0 {
		return fmt.Errorf("invalid MAX_SEQ_LEN: %d", c.MaxSeqLen)
	}
	if c.HiddenSize <= 0 {
		return fmt.Errorf("invalid HIDDEN_SIZE: %d", c.HiddenSize)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("invalid BATCH_SIZE: %d", c.BatchSize)
	}
	if c.NumEpochs <= 0 {
		return fmt.Errorf("invalid NUM_EPOCHS: %d", c.NumEpochs)
	}
	if c.LearningRate <= 0 {
		return fmt.Errorf("invalid LEARNING_RATE: %f", c.LearningRate)
	}
	return nil
}

// TrainingParams extracts the cycle hyperparameters in one bundle.
func (c *Config) TrainingParams() model.TrainingParams {
	return model.TrainingParams{
		BatchSize:    c.BatchSize,
		LearningRate: c.LearningRate,
		NumEpochs:    c.NumEpochs,
		MaxSeqLen:    c.MaxSeqLen,
	}
}
