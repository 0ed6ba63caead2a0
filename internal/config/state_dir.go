package config

import (
	"os"
	"path/filepath"
	"strings"
)

// GetStateDir returns the directory where stevedore keeps local state,
// such as the deployment journal.
func GetStateDir() string {
	//  pam_systemd sets XDG_RUNTIME_DIR but not other dirs.
	if xdgDataHome := os.Getenv("XDG_DATA_HOME"); xdgDataHome != "" {
		dir := strings.Split(xdgDataHome, ":")[0]
		return filepath.Join(dir, "stevedore")
	}

	if home := os.Getenv("HOME"); home != "" {
		return filepath.Join(home, ".local", "share", "stevedore")
	}

	return "/tmp/stevedore"
}
