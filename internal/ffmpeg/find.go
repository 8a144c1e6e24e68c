package ffmpeg

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

// FindBinary searches for an executable by name, in order:
//  1. the path named by envVar, when set
//  2. the current directory
//  3. PATH
//
// Candidates must be regular files with an executable bit set.
func FindBinary(name, envVar string) (string, error) {
	if envVar != "" {
		if p := os.Getenv(envVar); p != "" && isExecutable(p) {
			return p, nil
		}
	}

	if local := "." + string(filepath.Separator) + name; isExecutable(local) {
		return local, nil
	}

	if p, err := exec.LookPath(name); err == nil {
		return p, nil
	}

	return "", fmt.Errorf("binary %s not found", name)
}

func isExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	return info.Mode()&0o111 != 0
}
