package config

import (
	"errors"
	"testing"
)

func validBaseConfig() *Config {
	return &Config{
		Provider:         ProviderGoogleAI,
		ModelName:        DefaultModelName,
		VisionModelName:  DefaultVisionModelName,
		EmbedderModel:    DefaultEmbedderModel,
		HistoryWindow:    DefaultHistoryWindow,
		RAGTopK:          5,
		PostgresHost:     "localhost",
		PostgresPort:     5432,
		PostgresUser:     "ledgerchat",
		PostgresPassword: "test-password",
		PostgresDBName:   "ledgerchat",
		PostgresSSLMode:  "disable",
	}
}

func TestValidateNilConfig(t *testing.T) {
	var cfg *Config
	if err := cfg.Validate(); !errors.Is(err, ErrConfigNil) {
		t.Errorf("error should be ErrConfigNil, got: %v", err)
	}
}

func TestValidateValidConfig(t *testing.T) {
	if err := validBaseConfig().Validate(); err != nil {
		t.Fatalf("valid config should pass validation, got: %v", err)
	}
}

func TestValidateProvider(t *testing.T) {
	tests := []struct {
		name     string
		provider string
		wantErr  bool
	}{
		{name: "googleai", provider: ProviderGoogleAI},
		{name: "openai", provider: ProviderOpenAI},
		{name: "empty", provider: "", wantErr: true},
		{name: "unknown", provider: "anthropic", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validBaseConfig()
			cfg.Provider = tt.provider

			err := cfg.Validate()
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidProvider) {
					t.Errorf("error should be ErrInvalidProvider, got: %v", err)
				}
				return
			}
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestValidateModelName(t *testing.T) {
	cfg := validBaseConfig()
	cfg.ModelName = ""

	if err := cfg.Validate(); !errors.Is(err, ErrInvalidModelName) {
		t.Errorf("error should be ErrInvalidModelName, got: %v", err)
	}
}

func TestValidateEmbedderModel(t *testing.T) {
	cfg := validBaseConfig()
	cfg.EmbedderModel = ""

	if err := cfg.Validate(); !errors.Is(err, ErrInvalidEmbedderModel) {
		t.Errorf("error should be ErrInvalidEmbedderModel, got: %v", err)
	}
}

func TestValidateHistoryWindow(t *testing.T) {
	tests := []struct {
		name    string
		window  int
		wantErr bool
	}{
		{name: "valid min", window: 1},
		{name: "valid default", window: DefaultHistoryWindow},
		{name: "valid max", window: MaxHistoryWindow},
		{name: "invalid zero", window: 0, wantErr: true},
		{name: "invalid negative", window: -1, wantErr: true},
		{name: "invalid too large", window: MaxHistoryWindow + 1, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validBaseConfig()
			cfg.HistoryWindow = tt.window

			err := cfg.Validate()
			if tt.wantErr != (err != nil) {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr && !errors.Is(err, ErrInvalidHistoryWindow) {
				t.Errorf("error should be ErrInvalidHistoryWindow, got: %v", err)
			}
		})
	}
}

func TestValidatePostgresPort(t *testing.T) {
	tests := []struct {
		name    string
		port    int
		wantErr bool
	}{
		{name: "valid min", port: 1},
		{name: "valid standard", port: 5432},
		{name: "valid max", port: 65535},
		{name: "invalid zero", port: 0, wantErr: true},
		{name: "invalid too high", port: 65536, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validBaseConfig()
			cfg.PostgresPort = tt.port

			err := cfg.Validate()
			if tt.wantErr != (err != nil) {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr && !errors.Is(err, ErrInvalidPostgresPort) {
				t.Errorf("error should be ErrInvalidPostgresPort, got: %v", err)
			}
		})
	}
}

func TestValidatePostgresPassword(t *testing.T) {
	tests := []struct {
		name     string
		password string
		wantErr  bool
	}{
		{name: "valid", password: "securepass123"},
		{name: "exactly 8 chars", password: "12345678"},
		{name: "empty", password: "", wantErr: true},
		{name: "too short", password: "1234567", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validBaseConfig()
			cfg.PostgresPassword = tt.password

			err := cfg.Validate()
			if tt.wantErr != (err != nil) {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr && !errors.Is(err, ErrInvalidPostgresPassword) {
				t.Errorf("error should be ErrInvalidPostgresPassword, got: %v", err)
			}
		})
	}
}

func TestValidatePostgresSSLMode(t *testing.T) {
	tests := []struct {
		name    string
		sslMode string
		wantErr bool
	}{
		{name: "valid disable", sslMode: "disable"},
		{name: "valid require", sslMode: "require"},
		{name: "valid verify-ca", sslMode: "verify-ca"},
		{name: "valid verify-full", sslMode: "verify-full"},
		{name: "invalid empty", sslMode: "", wantErr: true},
		{name: "deprecated prefer", sslMode: "prefer", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validBaseConfig()
			cfg.PostgresSSLMode = tt.sslMode

			err := cfg.Validate()
			if tt.wantErr != (err != nil) {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr && !errors.Is(err, ErrInvalidPostgresSSLMode) {
				t.Errorf("error should be ErrInvalidPostgresSSLMode, got: %v", err)
			}
		})
	}
}

func TestValidateIngestToken(t *testing.T) {
	cfg := validBaseConfig()
	cfg.IngestBaseURL = "https://ingest.example.com"
	cfg.IngestToken = ""

	if err := cfg.Validate(); !errors.Is(err, ErrMissingIngestToken) {
		t.Errorf("error should be ErrMissingIngestToken, got: %v", err)
	}

	cfg.IngestToken = "secret-token"
	if err := cfg.Validate(); err != nil {
		t.Errorf("unexpected error with token set: %v", err)
	}
}
