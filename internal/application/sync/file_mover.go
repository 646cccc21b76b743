package syncapp

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Terminal folders a file can be routed to
const (
	FolderProcessed = "processed"
	FolderError     = "error"
)

// movedTimestampLayout prefixes every routed file name
const movedTimestampLayout = "20060102_150405"

// FileMover relocates input files into the processed or error directory
type FileMover struct {
	processedDir string
	errorDir     string
	now          func() time.Time
}

// NewFileMover creates a FileMover
func NewFileMover(processedDir, errorDir string) *FileMover {
	return &FileMover{
		processedDir: processedDir,
		errorDir:     errorDir,
		now:          time.Now,
	}
}

// Dir returns the directory for a terminal folder
func (m *FileMover) Dir(folder string) string {
	if folder == FolderProcessed {
		return m.processedDir
	}
	return m.errorDir
}

// Move moves path into folder under a timestamped name and returns the new
// path. Rename is tried first; across devices the file is copied and the
// original removed.
func (m *FileMover) Move(path, folder string) (string, error) {
	dir := m.Dir(folder)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create %s directory: %w", folder, err)
	}

	dest := m.destination(dir, filepath.Base(path))
	if err := os.Rename(path, dest); err != nil {
		if err := copyFile(path, dest); err != nil {
			return "", fmt.Errorf("failed to copy file to %s: %w", folder, err)
		}
		if err := os.Remove(path); err != nil {
			return "", fmt.Errorf("failed to remove original file: %w", err)
		}
	}
	return dest, nil
}

// destination picks a free name, adding a counter when two files with the
// same name are routed within one second.
func (m *FileMover) destination(dir, base string) string {
	stamp := m.now().Format(movedTimestampLayout)
	dest := filepath.Join(dir, stamp+"_"+base)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	for n := 1; fileExists(dest); n++ {
		dest = filepath.Join(dir, fmt.Sprintf("%s_%s_%d%s", stamp, stem, n, ext))
	}
	return dest
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// copyFile copies a file from src to dst
func copyFile(src, dst string) error {
	sourceFile, err := os.Open(src)
	if err != nil {
		return err
	}
	defer sourceFile.Close()

	destFile, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer destFile.Close()

	if _, err := io.Copy(destFile, sourceFile); err != nil {
		return err
	}
	return destFile.Sync()
}

// hashFile returns the hex SHA-256 of a file's content and its size
func hashFile(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()

	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}
