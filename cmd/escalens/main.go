package main

import (
	"os"

	"github.com/joho/godotenv"

	"escalens/internal/logger"
)

func main() {
	_ = godotenv.Load() // loads .env if present

	if err := rootCmd.Execute(); err != nil {
		logger.New().WithError(err).Error("command failed")
		os.Exit(1)
	}
}
