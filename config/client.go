package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// ClientConfig holds the voice client settings
type ClientConfig struct {
	ServerURL string
	Language  string
	BlockSize int // microphone frames per callback
	LogLevel  string
}

// LoadClientConfig reads client settings from the environment
func LoadClientConfig() (*ClientConfig, error) {
	_ = godotenv.Load()

	config := &ClientConfig{
		ServerURL: "ws://localhost:3000/ws/client",
		Language:  "auto",
		BlockSize: 4096,
		LogLevel:  "info",
	}

	if url := os.Getenv("VOICE_WS_URL"); url != "" {
		config.ServerURL = url
	}
	if lang := os.Getenv("VOICE_LANGUAGE"); lang != "" {
		config.Language = lang
	}
	if block := os.Getenv("MIC_BLOCK_SIZE"); block != "" {
		b, err := strconv.Atoi(block)
		if err != nil {
			return nil, fmt.Errorf("invalid MIC_BLOCK_SIZE: %w", err)
		}
		if b <= 0 {
			return nil, fmt.Errorf("invalid MIC_BLOCK_SIZE: must be positive")
		}
		config.BlockSize = b
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		config.LogLevel = level
	}

	return config, nil
}
