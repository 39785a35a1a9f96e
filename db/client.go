package db

import (
	"fmt"
	"time"

	"snore-detection/config"
	"snore-detection/detections"
	"snore-detection/models"
)

// DetectionStore persists the detection history.
type DetectionStore interface {
	StoreDetection(detection *models.Detection) error
	// RecentDetections returns up to limit detections, newest first. A
	// limit below one yields none.
	RecentDetections(limit int) ([]models.Detection, error)
	// DetectionsSince returns detections at or after since, oldest first.
	DetectionsSince(since time.Time) ([]models.Detection, error)
	Close() error
}

// NewDetectionStore opens the backend selected by DB_TYPE. "none" yields a
// nil store.
func NewDetectionStore(cfg config.Config) (DetectionStore, error) {
	switch cfg.DBType {
	case "sqlite":
		return NewSQLiteClient(cfg.SQLitePath)
	case "mongo":
		return NewMongoClient(cfg.MongoURI, cfg.MongoDatabase)
	case "json":
		return detections.NewFileStore(cfg.DetectionsFile), nil
	case "none", "":
		return nil, nil
	default:
		return nil, fmt.Errorf("unsupported database type: %s", cfg.DBType)
	}
}
