package hub

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// DefaultConfig returns a Config populated from the environment:
//   - HF_ENDPOINT: Hub base URL (default DefaultEndpoint)
//   - HF_HUB_CACHE, HF_HOME, XDG_CACHE_HOME: cache location (see DefaultCacheDir)
//   - HF_TOKEN, HUGGING_FACE_HUB_TOKEN, HF_TOKEN_PATH: access token
//   - HF_HUB_OFFLINE: "1", "true", "yes" or "on" disables network access
func DefaultConfig() (Config, error) {
	cfg := Config{
		Endpoint: DefaultEndpoint,
		Offline:  envBool("HF_HUB_OFFLINE"),
	}
	if ep := os.Getenv("HF_ENDPOINT"); ep != "" {
		cfg.Endpoint = ep
	}

	dir, err := DefaultCacheDir()
	if err != nil {
		return Config{}, err
	}
	cfg.CacheDir = dir

	token, err := lookupToken()
	if err != nil {
		return Config{}, err
	}
	cfg.Token = token
	return cfg, nil
}

// lookupToken returns the first token found in HF_TOKEN,
// HUGGING_FACE_HUB_TOKEN, or the token file written by `huggingface-cli login`.
func lookupToken() (string, error) {
	for _, name := range []string{"HF_TOKEN", "HUGGING_FACE_HUB_TOKEN"} {
		if v := strings.TrimSpace(os.Getenv(name)); v != "" {
			return v, nil
		}
	}

	path := os.Getenv("HF_TOKEN_PATH")
	if path == "" {
		home, err := hfHome()
		if err != nil {
			return "", err
		}
		path = filepath.Join(home, "token")
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// envBool interprets an environment variable as a boolean flag.
func envBool(name string) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(name))) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}
