// Package detections keeps the detection history in a single JSON file, for
// setups that run without a database.
package detections

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"snore-detection/models"
	"snore-detection/utils"
)

// FileStore appends detections to a JSON array on disk.
type FileStore struct {
	path string
	mu   sync.RWMutex
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// load reads all detections; callers hold the lock.
func (s *FileStore) load() ([]models.Detection, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return []models.Detection{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error reading detections file: %v", err)
	}
	if len(data) == 0 {
		return []models.Detection{}, nil
	}

	var detections []models.Detection
	if err := json.Unmarshal(data, &detections); err != nil {
		return nil, fmt.Errorf("error unmarshaling detections: %v", err)
	}
	return detections, nil
}

// StoreDetection appends detection to the file.
func (s *FileStore) StoreDetection(detection *models.Detection) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	detections, err := s.load()
	if err != nil {
		return err
	}

	if detection.ID == 0 {
		detection.ID = time.Now().UnixNano()
	}
	if detection.Timestamp.IsZero() {
		detection.Timestamp = time.Now()
	}
	detections = append(detections, *detection)

	if dir := filepath.Dir(s.path); dir != "." && dir != "" {
		if err := utils.CreateFolder(dir); err != nil {
			return fmt.Errorf("error creating directory: %v", err)
		}
	}

	data, err := json.MarshalIndent(detections, "", "  ")
	if err != nil {
		return fmt.Errorf("error marshaling detections: %v", err)
	}

	tempPath := s.path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0o644); err != nil {
		return fmt.Errorf("error writing detections file: %v", err)
	}
	if err := os.Rename(tempPath, s.path); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("error replacing detections file: %v", err)
	}
	return nil
}

// RecentDetections returns up to limit detections, newest first.
func (s *FileStore) RecentDetections(limit int) ([]models.Detection, error) {
	if limit <= 0 {
		return nil, nil
	}
	s.mu.RLock()
	detections, err := s.load()
	s.mu.RUnlock()
	if err != nil {
		return nil, err
	}

	sort.SliceStable(detections, func(i, j int) bool {
		return detections[i].Timestamp.After(detections[j].Timestamp)
	})
	if len(detections) > limit {
		detections = detections[:limit]
	}
	return detections, nil
}

// DetectionsSince returns detections at or after since, oldest first.
func (s *FileStore) DetectionsSince(since time.Time) ([]models.Detection, error) {
	s.mu.RLock()
	all, err := s.load()
	s.mu.RUnlock()
	if err != nil {
		return nil, err
	}

	var out []models.Detection
	for _, d := range all {
		if !d.Timestamp.Before(since) {
			out = append(out, d)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func (s *FileStore) Close() error {
	return nil
}
