package config

import (
	"os"
	"path/filepath"
)

func IsDebug() bool {
	return os.Getenv("MILA_DEBUG") == "1"
}

func GetRuntimePath() string {
	path := os.Getenv("MILA_RUNTIME_PATH")
	if path == "" {
		path = ".mila"
	}

	if !filepath.IsAbs(path) {
		home, _ := os.UserHomeDir()
		path = filepath.Join(home, path)
	}
	return path
}
