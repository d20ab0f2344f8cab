package app

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/PeladoCollado/fractalload/types"
	"github.com/joho/godotenv"
)

const defaultServerIP = "localhost"

var ErrMissingPassword = errors.New("TEST_PASSWORD is not set")

// Environment is the resolved view of the process environment the harness needs.
type Environment struct {
	BaseURL     string
	Credentials []types.UserCredential
}

// LoadDotEnv reads the dotenv file into the process environment. Variables that are already set win,
// and a missing file is not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// ResolveEnvironment builds the ordered credential list: USER_1_NAME, USER_2_NAME, ... up to the first
// gap, then ADMIN_NAME when includeAdmin is set. All users share TEST_PASSWORD.
func ResolveEnvironment(cfg Config, getenv func(string) string) (Environment, error) {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = getenv("API_BASE_URL")
	}
	if baseURL == "" {
		serverIP := getenv("SERVER_IP")
		if serverIP == "" {
			serverIP = defaultServerIP
		}
		baseURL = fmt.Sprintf("http://%s:3000/api", serverIP)
	}

	password := getenv("TEST_PASSWORD")
	if password == "" {
		return Environment{}, ErrMissingPassword
	}

	credentials := make([]types.UserCredential, 0)
	for i := 1; ; i++ {
		username := strings.TrimSpace(getenv(fmt.Sprintf("USER_%d_NAME", i)))
		if username == "" {
			break
		}
		credentials = append(credentials, types.UserCredential{Username: username, Password: password})
	}
	if cfg.IncludeAdmin {
		if admin := strings.TrimSpace(getenv("ADMIN_NAME")); admin != "" {
			credentials = append(credentials, types.UserCredential{Username: admin, Password: password})
		}
	}
	return Environment{BaseURL: baseURL, Credentials: credentials}, nil
}
