package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"snore-detection/capture"
	"snore-detection/config"
	"snore-detection/db"
	"snore-detection/live"
	"snore-detection/models"
	"snore-detection/snore"
	"snore-detection/utils"

	"github.com/mdobak/go-xerrors"
)

type apiError struct {
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	if w.Header().Get("Access-Control-Allow-Origin") == "" {
		w.Header().Set("Access-Control-Allow-Origin", "*")
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("failed to encode JSON response: %v", err)
	}
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, apiError{Message: message})
}

type detectionsResponse struct {
	Detections []models.Detection    `json:"detections"`
	Nights     []models.NightSummary `json:"nights"`
}

func newDetectionsHandler(store db.DetectionStore) http.HandlerFunc {
	logger := utils.GetLogger()
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		if r.Method != http.MethodGet {
			writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		if store == nil {
			writeJSONError(w, http.StatusServiceUnavailable, "detection history is disabled")
			return
		}

		limit := 100
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 1 {
				writeJSONError(w, http.StatusBadRequest, "invalid limit")
				return
			}
			limit = n
		}

		recent, err := store.RecentDetections(limit)
		if err != nil {
			logger.ErrorContext(ctx, "failed to load detections", slog.Any("error", err))
			writeJSONError(w, http.StatusInternalServerError, "failed to load detections")
			return
		}
		if recent == nil {
			recent = []models.Detection{}
		}

		writeJSON(w, http.StatusOK, detectionsResponse{
			Detections: recent,
			Nights:     models.SummarizeNights(recent),
		})
	}
}

func openStore(cfg config.Config) db.DetectionStore {
	store, err := db.NewDetectionStore(cfg)
	if err != nil {
		logger := utils.GetLogger()
		err := xerrors.New(err)
		logger.ErrorContext(context.Background(), "Failed to open detection history, continuing without it.",
			slog.String("dbType", cfg.DBType), slog.Any("error", err))
		return nil
	}
	return store
}

func listen(cfg config.Config) {
	logger := utils.GetLogger()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	detector, err := snore.LoadDetector(cfg)
	if err != nil {
		log.Fatalf("Failed to load model or scaler: %v", err)
	}
	fmt.Println("Model and scaler loaded.")

	store := openStore(cfg)
	if store != nil {
		defer store.Close()
	}

	var reporters []live.Reporter
	if store != nil || cfg.PersistRecordings {
		var sink live.DetectionSink
		if store != nil {
			sink = store
		}
		reporters = append(reporters, live.NewHistoryRecorder(sink, cfg.SampleRate, cfg.PersistRecordings, cfg.RecordingDir))
	}

	if cfg.AlertsAddr != "" {
		alerts := newAlertServer()
		reporters = append(reporters, alerts)
		shutdown, err := serveAlerts(cfg.AlertsAddr, alerts, store)
		if err != nil {
			log.Fatalf("Failed to start alert feed: %v", err)
		}
		defer shutdown()
	}

	mic, err := capture.NewMicrophone(capture.Options{
		SampleRate: cfg.SampleRate,
		BlockSize:  cfg.BlockSize,
		QueueSize:  cfg.QueueSize,
		Device:     cfg.InputDevice,
	})
	if err != nil {
		log.Fatalf("Failed to open microphone: %v", err)
	}

	loop, err := live.NewLoop(mic, detector, live.Options{
		Window:    cfg.Window(),
		Console:   os.Stdout,
		Reporters: reporters,
	})
	if err != nil {
		_ = mic.Close()
		log.Fatalf("Failed to start detection: %v", err)
	}

	if err := loop.Run(ctx); err != nil {
		err := xerrors.New(err)
		logger.ErrorContext(ctx, "Live detection ended.", slog.Any("error", err))
	}
	if n := mic.Dropped(); n > 0 {
		logger.Warn("audio blocks dropped during session", slog.Int64("dropped", n))
	}
}

// serveAlerts runs the socket.io feed and the history API until the returned
// function is called.
func serveAlerts(addr string, alerts *alertServer, store db.DetectionStore) (func(), error) {
	go func() {
		if err := alerts.server.Serve(); err != nil {
			log.Printf("socketio listen error: %s\n", err)
		}
	}()

	mux := http.NewServeMux()
	mux.Handle("/socket.io/", alerts.server)
	mux.HandleFunc("/api/detections", newDetectionsHandler(store))

	httpServer := &http.Server{Addr: addr, Handler: mux}
	errCh := make(chan error, 1)
	go func() {
		log.Printf("Starting alert feed on %s", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		_ = alerts.server.Close()
		return nil, err
	case <-time.After(100 * time.Millisecond):
	}

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(ctx)
		_ = alerts.server.Close()
	}, nil
}

func listDevices() {
	devices, err := capture.ListDevices()
	if err != nil {
		log.Fatalf("Failed to list input devices: %v", err)
	}
	if len(devices) == 0 {
		fmt.Println("No input devices found.")
		return
	}
	for _, d := range devices {
		marker := " "
		if d.Default {
			marker = "*"
		}
		fmt.Printf("%s %2d  %-40s  %-12s  %d ch  %.0f Hz\n",
			marker, d.Index, d.Name, d.HostAPI, d.MaxInputChannels, d.DefaultSampleRate)
	}
}

func history(cfg config.Config, limit, nights int) {
	store := openStore(cfg)
	if store == nil {
		log.Fatalf("Detection history is disabled (DB_TYPE=%s)", cfg.DBType)
	}
	defer store.Close()

	recent, err := store.RecentDetections(limit)
	if err != nil {
		log.Fatalf("Failed to load detections: %v", err)
	}
	fmt.Printf("Last %d windows:\n", len(recent))
	for _, d := range recent {
		label := "no snoring"
		if d.IsSnoring {
			label = "SNORING"
		}
		fmt.Printf("  %s  %-10s  p=%.2f  rms=%.4f  snr=%.1f dB\n",
			d.Timestamp.Local().Format("2006-01-02 15:04:05"), label, d.Probability, d.RMS, d.SNRDb)
	}

	since := time.Now().Add(-time.Duration(nights)*24*time.Hour - 12*time.Hour)
	window, err := store.DetectionsSince(since)
	if err != nil {
		log.Fatalf("Failed to load detections since %s: %v", since.Format(time.RFC3339), err)
	}
	fmt.Println()
	fmt.Println("Per night:")
	for _, n := range models.SummarizeNights(window) {
		share := 0.0
		if n.Windows > 0 {
			share = 100 * float64(n.SnoringWindows) / float64(n.Windows)
		}
		fmt.Printf("  %s  %4d snoring / %4d windows (%.1f%%)  max p=%.2f\n",
			n.Night, n.SnoringWindows, n.Windows, share, n.MaxProbability)
	}
}
