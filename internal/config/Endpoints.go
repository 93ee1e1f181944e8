package config

import (
	"errors"
	"strconv"

	"github.com/rs/zerolog/log"
)

// Endpoint configuration loaded from environment variables.
// These are populated at startup by the LoadConfig function.
var (
	// WebPort serves the HTTP API and /metrics.
	WebPort string
	// GRPCPort serves grpc.health.v1.
	GRPCPort string
)

// loadEndpointConfig loads endpoint configuration from environment variables.
// This function is called by LoadConfig() in General.go.
func loadEndpointConfig() error {
	log.Info().Msg("Loading endpoint configuration from environment variables...")

	WebPort = getEnvOrDefault("WEB_PORT", "8080")
	GRPCPort = getEnvOrDefault("GRPC_PORT", "9090")

	for key, port := range map[string]string{"WEB_PORT": WebPort, "GRPC_PORT": GRPCPort} {
		n, err := strconv.ParseUint(port, 10, 16)
		if err != nil || n == 0 {
			return errors.New("environment variable " + key + " must be a valid port, got: " + port)
		}
	}
	if WebPort == GRPCPort {
		return errors.New("WEB_PORT and GRPC_PORT must differ")
	}

	log.Debug().
		Str("WebPort", WebPort).
		Str("GRPCPort", GRPCPort).
		Msg("Endpoint configuration loaded successfully.")

	return nil
}
