package main

import (
	"context"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"scribebridge/db"
	"scribebridge/reconcile"
	"scribebridge/stt"
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile [session-id] [audio-file]",
	Short: "Reconcile a session's speaker labels against batch diarization",
	Args:  cobra.ExactArgs(2),
	Run:   runReconcile,
}

func runReconcile(_ *cobra.Command, args []string) {
	ctx := context.Background()
	sessionID, audioPath := args[0], args[1]

	store, err := db.Open(ctx, viper.GetString("database_url"))
	if err != nil {
		logger.Fatal("failed to open database", "error", err)
	}
	defer store.Close()

	if _, err := store.FindSession(ctx, sessionID); err != nil {
		logger.Fatal("session lookup failed", "session", sessionID, "error", err)
	}

	audio, err := os.Open(audioPath)
	if err != nil {
		logger.Fatal("failed to open audio file", "path", audioPath, "error", err)
	}
	defer audio.Close()

	batch := stt.NewBatchClient(viper.GetString("assemblyai_api_key"), logger)
	utterances, err := batch.Transcribe(ctx, audio, expectedSpeakers(ctx, store, sessionID))
	if err != nil {
		logger.Fatal("batch transcription failed", "error", err)
	}

	job := reconcile.NewJob(store, viper.GetFloat64("reconcile_threshold"), logger)
	report, err := job.Run(ctx, sessionID, utterances)
	if err != nil {
		logger.Fatal("reconciliation failed", "error", err)
	}

	logger.Info(
		"reconciled",
		"session", sessionID,
		"matched", report.Matched,
		"updated", report.Updated,
		"skipped", report.Skipped,
		"errored", report.Errored,
	)
}
