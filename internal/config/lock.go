package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/zeebo/blake3"
)

// lockSuffix names the sidecar that pins a config file's BLAKE3 hash. When
// the sidecar exists, Load refuses a config whose contents no longer match.
const lockSuffix = ".b3"

// LockPath returns the sidecar path for configPath.
func LockPath(configPath string) string {
	return configPath + lockSuffix
}

// ComputeBlake3Hash computes the BLAKE3 hash of a file.
func ComputeBlake3Hash(filePath string) (string, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}
	hash := blake3.Sum256(data)
	return hex.EncodeToString(hash[:]), nil
}

// WriteLock pins the current contents of configPath and returns the hash.
func WriteLock(configPath string) (string, error) {
	hash, err := ComputeBlake3Hash(configPath)
	if err != nil {
		return "", err
	}
	line := fmt.Sprintf("%s  %s\n", hash, filepath.Base(configPath))
	if err := os.WriteFile(LockPath(configPath), []byte(line), 0o644); err != nil {
		return "", fmt.Errorf("write lock: %w", err)
	}
	return hash, nil
}

// VerifyLock checks configPath against its sidecar. A missing sidecar is not
// an error.
func VerifyLock(configPath string) error {
	data, err := os.ReadFile(LockPath(configPath))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read lock: %w", err)
	}

	fields := strings.Fields(string(data))
	if len(fields) == 0 {
		return fmt.Errorf("lock file %s is empty", LockPath(configPath))
	}
	expected := fields[0]

	actual, err := ComputeBlake3Hash(configPath)
	if err != nil {
		return fmt.Errorf("failed to compute hash: %w", err)
	}
	if actual != expected {
		return fmt.Errorf("hash mismatch for %s: expected %s, got %s (run 'switchboard config lock' after reviewing the change)",
			filepath.Base(configPath), expected, actual)
	}
	return nil
}
