// Package config provides CLI configuration through environment variables.
package config

import (
	"os"
	"path/filepath"

	"github.com/allisson/go-env"
	"github.com/joho/godotenv"
)

// Config holds all CLI configuration.
type Config struct {
	// StoreURI is the store location; its scheme selects the backend
	// (e.g., "sqlite:///var/lib/sealbox/store.db", "postgres://...").
	StoreURI string

	// Passphrase derives the store wrap key with Argon2id. Mutually
	// exclusive with WrapKeyHex.
	Passphrase string
	// WrapKeyHex is a hex-encoded 32-byte raw wrap key. Mutually exclusive
	// with Passphrase.
	WrapKeyHex string
	// KDFLevel is the Argon2 cost level used when provisioning with a
	// passphrase ("int" or "mod").
	KDFLevel string

	// Profile is the profile commands operate on; empty selects the store's
	// default profile.
	Profile string

	// LogLevel is the logging level (e.g., "debug", "info", "warn", "error").
	LogLevel string
}

// Load loads configuration from environment variables and .env file.
func Load() *Config {
	loadDotEnv()

	return &Config{
		StoreURI:   env.GetString("SEALBOX_STORE_URI", "sqlite://sealbox.db"),
		Passphrase: env.GetString("SEALBOX_PASSPHRASE", ""),
		WrapKeyHex: env.GetString("SEALBOX_WRAP_KEY", ""),
		KDFLevel:   env.GetString("SEALBOX_KDF_LEVEL", ""),
		Profile:    env.GetString("SEALBOX_PROFILE", ""),
		LogLevel:   env.GetString("SEALBOX_LOG_LEVEL", "info"),
	}
}

// loadDotEnv searches for a .env file recursively from the current directory
// up to the root directory and loads it if found.
func loadDotEnv() {
	cwd, err := os.Getwd()
	if err != nil {
		return
	}

	dir := cwd
	for {
		envPath := filepath.Join(dir, ".env")
		if _, err := os.Stat(envPath); err == nil {
			_ = godotenv.Load(envPath)
			return
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
}
