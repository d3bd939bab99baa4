package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var logger *log.Logger

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(reconcileCmd)

	rootCmd.PersistentFlags().
		String("assemblyai-api-key", "", "AssemblyAI API key")
	rootCmd.PersistentFlags().
		String("database-url", "", "Postgres connection URL")
	rootCmd.PersistentFlags().
		String("bridge-secret", "", "Shared secret clients connect with")

	viper.BindPFlag(
		"assemblyai_api_key",
		rootCmd.PersistentFlags().Lookup("assemblyai-api-key"),
	)
	viper.BindPFlag(
		"database_url",
		rootCmd.PersistentFlags().Lookup("database-url"),
	)
	viper.BindPFlag(
		"bridge_secret",
		rootCmd.PersistentFlags().Lookup("bridge-secret"),
	)

	serveCmd.Flags().Int("port", 8080, "HTTP server port")
	viper.BindPFlag("port", serveCmd.Flags().Lookup("port"))

	rootCmd.PersistentFlags().
		Float64("reconcile-threshold", 0, "Similarity threshold for speaker reconciliation")
	viper.BindPFlag(
		"reconcile_threshold",
		rootCmd.PersistentFlags().Lookup("reconcile-threshold"),
	)
}

func initConfig() {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			fmt.Printf("Error reading config file: %s\n", err)
		}
	}

	logger = log.New(os.Stdout)
}

var rootCmd = &cobra.Command{
	Use:   "scribebridge",
	Short: "Real-time transcription session bridge",
	Long:  `Scribebridge relays live audio to a streaming speech-to-text provider, attributes utterances to speakers, and reconciles speaker labels against batch diarization after a session ends.`,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
