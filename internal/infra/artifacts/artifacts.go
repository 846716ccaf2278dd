// Package artifacts stores synthesized audio on local disk and expires old
// files past the retention window.
package artifacts

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/speaknet/speakd/internal/domain"
)

// LocalStore writes artifacts under Dir and serves them as
// <publicBaseURL>/artifacts/<file>.
type LocalStore struct {
	dir           string
	publicBaseURL string
}

// NewLocalStore creates the artifact directory if needed.
func NewLocalStore(dir, publicBaseURL string) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create artifacts dir: %w", err)
	}
	return &LocalStore{dir: dir, publicBaseURL: strings.TrimRight(publicBaseURL, "/")}, nil
}

// Dir returns the artifact directory (mounted by the HTTP download route).
func (s *LocalStore) Dir() string { return s.dir }

// UploadAudio writes the bytes as <jobID>.<ext> and returns the download
// reference, size, and content hash.
func (s *LocalStore) UploadAudio(ctx context.Context, jobID, outputFormat, mimeType string, audio []byte) (*domain.Artifact, error) {
	fileName := jobID + "." + extensionFor(outputFormat, mimeType)
	path := filepath.Join(s.dir, fileName)

	if err := os.WriteFile(path, audio, 0o644); err != nil {
		return nil, fmt.Errorf("write artifact: %w", err)
	}

	sum := sha256.Sum256(audio)
	return &domain.Artifact{
		DownloadURL: s.publicBaseURL + "/artifacts/" + fileName,
		SizeBytes:   int64(len(audio)),
		SHA256:      hex.EncodeToString(sum[:]),
	}, nil
}

// CleanupExpired deletes artifacts older than retentionHours and returns how
// many were removed.
func (s *LocalStore) CleanupExpired(ctx context.Context, retentionHours int) (int, error) {
	cutoff := time.Now().Add(-time.Duration(retentionHours) * time.Hour)

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("read artifacts dir: %w", err)
	}

	deleted := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(filepath.Join(s.dir, entry.Name())); err == nil {
				deleted++
			}
		}
	}
	return deleted, nil
}

// extensionFor picks a file extension from the output format, falling back
// to the MIME type.
func extensionFor(outputFormat, mimeType string) string {
	switch {
	case strings.HasPrefix(outputFormat, "mp3"):
		return "mp3"
	case strings.HasPrefix(outputFormat, "wav"):
		return "wav"
	case strings.HasPrefix(outputFormat, "pcm"):
		return "pcm"
	}
	switch mimeType {
	case "audio/mpeg":
		return "mp3"
	case "audio/wav":
		return "wav"
	default:
		return "bin"
	}
}
