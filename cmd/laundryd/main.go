package main

import (
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"laundry-booking-backend/config"
)

var (
	configPath string
	logger     = log.New(os.Stdout, "laundryd ", log.LstdFlags)
)

var rootCmd = &cobra.Command{
	Use:   "laundryd",
	Short: "Campus laundry booking server",
	Long: `laundryd serves the laundry booking API: accounts, orders and their
status history, and ready-for-pickup push notifications.`,
	RunE: runServe,
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration from %s: %w", configPath, err)
	}
	logger.Printf("configuration loaded successfully from %s", configPath)
	return cfg, nil
}

func init() {
	defaultPath := os.Getenv("CONFIG_PATH")
	if defaultPath == "" {
		defaultPath = "./config/config.yaml"
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", defaultPath, "Path to the YAML configuration (also set via CONFIG_PATH)")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(createUserCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
