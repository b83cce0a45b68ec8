package executor

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ConfigValidator checks candidate config content before it is swapped in.
type ConfigValidator func(data []byte) error

// ValidateConfigFile runs the validator over the file's current contents.
func ValidateConfigFile(path string, validate ConfigValidator) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if validate == nil {
		return nil
	}
	if err := validate(data); err != nil {
		return fmt.Errorf("config file %s invalid: %w", path, err)
	}
	return nil
}

// BackupConfigFile copies the file to a timestamped sibling and returns the
// backup path plus the sha256 checksum of the original content.
func BackupConfigFile(path string) (backupPath, checksum string, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", "", fmt.Errorf("read config file: %w", err)
	}

	sum := sha256.Sum256(data)
	checksum = hex.EncodeToString(sum[:])

	info, err := os.Stat(path)
	if err != nil {
		return "", "", fmt.Errorf("stat config file: %w", err)
	}

	backupPath = fmt.Sprintf("%s.bak.%s", path, time.Now().UTC().Format("20060102T150405"))
	if err := os.WriteFile(backupPath, data, info.Mode().Perm()); err != nil {
		return "", "", fmt.Errorf("write backup: %w", err)
	}
	return backupPath, checksum, nil
}

// EditConfigSafely applies transform to the file under a
// backup/temp/validate/rename discipline: the original is only replaced once
// the transformed content passes validation, and never touched otherwise.
func EditConfigSafely(path string, transform func(data []byte) ([]byte, error), validate ConfigValidator) error {
	if transform == nil {
		return fmt.Errorf("transform is required")
	}

	if _, _, err := BackupConfigFile(path); err != nil {
		return err
	}

	original, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat config file: %w", err)
	}

	edited, err := transform(original)
	if err != nil {
		return fmt.Errorf("transform config: %w", err)
	}

	if validate != nil {
		if err := validate(edited); err != nil {
			return fmt.Errorf("edited config rejected: %w", err)
		}
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(edited); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, info.Mode().Perm()); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("chmod temp file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("swap config file: %w", err)
	}
	return nil
}
