package config

import (
	"errors"
	"io/fs"
	"log"

	"github.com/joho/godotenv"
)

// LoadEnv loads .env from the working directory when present. Variables
// already set in the environment win.
func LoadEnv() {
	err := godotenv.Load()
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Println("ℹ️  Could not read .env file, continuing...", err)
	}
}
