package storage

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/KurochkinDaniil/avg-weights-fl-client-backend/internal/common"
	"github.com/KurochkinDaniil/avg-weights-fl-client-backend/internal/model"
)

// SwipeStore persists gestures as line-delimited JSON, partitioned by
// day: <dataDir>/raw/<YYYY-MM-DD>/swipes.jsonl. The frontend appends
// continuously; the trainer reads whole files.
type SwipeStore struct {
	dataDir string
	rawDir  string
	logger  hclog.Logger

	// serializes appends to the current day file
	mu sync.Mutex
}

func NewSwipeStore(dataDir string, logger hclog.Logger) (*SwipeStore, error) {
	rawDir := filepath.Join(dataDir, common.RAW_DATA_SUBDIR)
	if err := os.MkdirAll(rawDir, 0777); err != nil {
		return nil, fmt.Errorf("creating raw data directory: %w", err)
	}

	return &SwipeStore{
		dataDir: dataDir,
		rawDir:  rawDir,
		logger:  logger,
	}, nil
}

// SaveSwipe appends one sample to today's JSONL file.
func (store *SwipeStore) SaveSwipe(sample *model.SwipeSample) error {
	store.mu.Lock()
	defer store.mu.Unlock()

	today := time.Now().Format("2006-01-02")
	dayDir := filepath.Join(store.rawDir, today)
	if err := os.MkdirAll(dayDir, 0777); err != nil {
		return fmt.Errorf("creating day directory: %w", err)
	}

	filePath := filepath.Join(dayDir, common.SWIPES_FILE_NAME)
	file, err := os.OpenFile(filePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0666)
	if err != nil {
		return fmt.Errorf("opening %s: %w", filePath, err)
	}
	defer file.Close()

	line, err := json.Marshal(sample)
	if err != nil {
		return fmt.Errorf("encoding sample: %w", err)
	}
	line = append(line, '\n')

	if _, err := file.Write(line); err != nil {
		return fmt.Errorf("writing sample: %w", err)
	}

	store.logger.Info("saved swipe", "gestureId", sample.GestureId, "word", sample.Word, "file", filePath)
	return nil
}

// ListSampleFiles returns all JSONL files, oldest day first.
func (store *SwipeStore) ListSampleFiles() ([]string, error) {
	pattern := filepath.Join(store.rawDir, "*", common.SWIPES_FILE_NAME)
	files, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("listing sample files: %w", err)
	}
	sort.Strings(files)
	return files, nil
}

// LoadAllSamples reads every stored gesture.
func (store *SwipeStore) LoadAllSamples() ([]*model.SwipeSample, error) {
	files, err := store.ListSampleFiles()
	if err != nil {
		return nil, err
	}

	samples := []*model.SwipeSample{}
	for _, filePath := range files {
		fileSamples, err := readSamplesFile(filePath)
		if err != nil {
			return nil, err
		}
		samples = append(samples, fileSamples...)
	}

	return samples, nil
}

// CountSamples counts lines across all sample files.
func (store *SwipeStore) CountSamples() (int64, error) {
	files, err := store.ListSampleFiles()
	if err != nil {
		return 0, err
	}

	var total int64
	for _, filePath := range files {
		count, err := countLines(filePath)
		if err != nil {
			return 0, err
		}
		total += count
	}

	return total, nil
}

// Stats summarizes the sample store for the API.
func (store *SwipeStore) Stats() (*model.StorageStats, error) {
	files, err := store.ListSampleFiles()
	if err != nil {
		return nil, err
	}

	total, err := store.CountSamples()
	if err != nil {
		return nil, err
	}

	return &model.StorageStats{
		TotalSwipes:   total,
		TotalFiles:    len(files),
		DataDirectory: store.dataDir,
	}, nil
}

func readSamplesFile(filePath string) ([]*model.SwipeSample, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", filePath, err)
	}
	defer file.Close()

	samples := []*model.SwipeSample{}
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		sample := &model.SwipeSample{}
		if err := json.Unmarshal(line, sample); err != nil {
			return nil, fmt.Errorf("decoding sample in %s: %w", filePath, err)
		}
		samples = append(samples, sample)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading %s: %w", filePath, err)
	}

	return samples, nil
}

func countLines(filePath string) (int64, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return 0, fmt.Errorf("opening %s: %w", filePath, err)
	}
	defer file.Close()

	var count int64
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		if len(scanner.Bytes()) > 0 {
			count++
		}
	}
	if err := scanner.Err(); err != nil {
		return 0, fmt.Errorf("reading %s: %w", filePath, err)
	}

	return count, nil
}
