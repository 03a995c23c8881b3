package config

import (
	"strings"
)

type Config struct {
	API     APIConfig
	Server  ServerConfig
	Storage StorageConfig
	Wizard  WizardConfig
	Log     LogConfig
}

type APIConfig struct {
	BaseURL string
	Token   string
}

type ServerConfig struct {
	Port int
}

type StorageConfig struct {
	DataDir string
}

type WizardConfig struct {
	// Validation is "strict" or "lenient".
	Validation string
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		API: APIConfig{
			BaseURL: "http://localhost:4100",
		},
		Server: ServerConfig{
			Port: 4100,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Wizard: WizardConfig{
			Validation: "strict",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the platform-native backend, environment
// variables, and platform secret store.
//
// On macOS the backend is UserDefaults (domain: com.nestapp.nest) and the
// API token falls back to macOS Keychain.
// On Linux the backend is a JSON file at $XDG_CONFIG_HOME/nest/config.json
// and the token falls back to a secrets file next to the data directory.
//
// Environment variables (NEST_*) override backend values on all platforms.
// A missing API token is not an error; unauthenticated sessions simply see
// no existing profile.
func Load() (Config, error) {
	return loadWith(newPlatformBackend(), keychainReader{})
}

// keychain abstracts secret storage for testing.
type keychain interface {
	Get(service, account string) (string, error)
}

func loadWith(b ConfigBackend, kc keychain) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if cfg.API.Token == "" {
		if token, err := kc.Get("nest", "api_token"); err == nil && token != "" {
			cfg.API.Token = token
		}
	}

	return cfg, nil
}

// keychainReader reads from the platform secret store.
type keychainReader struct{}

func (keychainReader) Get(service, account string) (string, error) {
	out, err := keychainGet(service, account)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

// SetAPIToken stores the backend API token in the platform secret store.
func SetAPIToken(token string) error {
	return keychainSet("nest", "api_token", token)
}
