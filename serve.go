package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"scribebridge/bridge"
	"scribebridge/db"
	"scribebridge/reconcile"
	"scribebridge/session"
	"scribebridge/stt"
	"scribebridge/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the transcription bridge server",
	Run:   runServe,
}

func runServe(_ *cobra.Command, _ []string) {
	ctx := context.Background()

	store, err := db.Open(ctx, viper.GetString("database_url"))
	if err != nil {
		logger.Fatal("failed to open database", "error", err)
	}
	defer store.Close()

	apiKey := viper.GetString("assemblyai_api_key")
	registry := session.NewRegistry()
	starter := stt.NewRealtimeClient(apiKey, viper.GetString("realtime_url"), logger)
	verifier := bridge.StaticVerifier{Secret: viper.GetString("bridge_secret")}
	b := bridge.New(registry, store, verifier, starter, logger)

	batch := stt.NewBatchClient(apiKey, logger)
	job := reconcile.NewJob(store, viper.GetFloat64("reconcile_threshold"), logger)

	r := chi.NewRouter()
	Routes(r, b, store, batch, job, logger)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", viper.GetInt("port")),
		Handler: r,
	}

	go func() {
		logger.Info("bridge listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("http server", "error", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	logger.Info("shutting down", "live_sessions", registry.Len())
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	srv.Shutdown(shutdownCtx)
}

func Routes(
	r chi.Router,
	b *bridge.Bridge,
	store *db.Store,
	batch *stt.BatchClient,
	job *reconcile.Job,
	logger *log.Logger,
) {
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("ok"))
	})
	r.Get("/ws", b.HandleWS)
	r.Post("/sessions/{sessionID}/reconcile", handleReconcile(store, batch, job, logger))
	r.Get("/sessions/{sessionID}/transcript", web.NewHandler(store, logger).HandleTranscript)
}

// handleReconcile accepts the session's full audio recording and kicks off
// speaker reconciliation in the background. The response is an immediate
// 202; progress is visible in the logs.
func handleReconcile(
	store *db.Store,
	batch *stt.BatchClient,
	job *reconcile.Job,
	logger *log.Logger,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID := chi.URLParam(r, "sessionID")

		if _, err := store.FindSession(r.Context(), sessionID); err != nil {
			if errors.Is(err, db.ErrNotFound) {
				http.Error(w, "session not found", http.StatusNotFound)
				return
			}
			http.Error(w, "session lookup failed", http.StatusInternalServerError)
			return
		}

		audio, err := io.ReadAll(r.Body)
		if err != nil || len(audio) == 0 {
			http.Error(w, "missing audio body", http.StatusBadRequest)
			return
		}

		go func() {
			ctx := context.Background()

			hint := expectedSpeakers(ctx, store, sessionID)
			utterances, err := batch.Transcribe(ctx, bytes.NewReader(audio), hint)
			if err != nil {
				logger.Error(
					"batch transcription failed",
					"session", sessionID, "error", err,
				)
				return
			}

			if _, err := job.Run(ctx, sessionID, utterances); err != nil {
				logger.Error(
					"reconciliation failed",
					"session", sessionID, "error", err,
				)
			}
		}()

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(map[string]string{"status": "accepted"})
	}
}

// expectedSpeakers counts the distinct speaker labels the live session saw,
// as a hint for the batch diarizer. Two is the floor: a consultation has at
// least a clinician and a patient.
func expectedSpeakers(ctx context.Context, store *db.Store, sessionID string) int {
	transcripts, err := store.SessionTranscripts(ctx, sessionID)
	if err != nil {
		return 2
	}
	labels := make(map[string]struct{})
	for _, t := range transcripts {
		if t.IsFinal {
			labels[t.Speaker] = struct{}{}
		}
	}
	if len(labels) < 2 {
		return 2
	}
	return len(labels)
}
