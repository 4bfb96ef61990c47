// Package archive opens an uploaded export bundle and lays its entries out in
// a caller-owned working directory. The extractor never decides when that
// directory is removed; scoped acquisition and guaranteed release belong to
// the orchestrator.
package archive

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

var (
	ErrNotAnArchive        = errors.New("not a valid zip archive")
	ErrEmptyArchive        = errors.New("archive contains no files")
	ErrUnsafePath          = errors.New("archive entry escapes the working directory")
	ErrNoTranscript        = errors.New("no transcript file found in archive")
	ErrAmbiguousTranscript = errors.New("multiple transcript candidates found in archive")
)

// Extraction is the classified result of unpacking one archive.
type Extraction struct {
	TranscriptPath string   // absolute path of the single .txt transcript
	MediaPaths     []string // remaining files, sorted by entry name
}

// Extract unpacks raw zip bytes into workDir and classifies the entries.
// Exactly one non-hidden .txt file must be present (the transcript); every
// other non-hidden file is a media candidate. Hidden files and macOS resource
// directories are ignored. Entry names are validated against path traversal
// before anything is written.
func Extract(data []byte, workDir string) (*Extraction, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotAnArchive, err)
	}

	var transcripts, media []string
	written := 0

	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		if hidden(f.Name) {
			continue
		}

		dest, err := safePath(workDir, f.Name)
		if err != nil {
			return nil, err
		}
		if err := writeEntry(f, dest); err != nil {
			return nil, fmt.Errorf("extract %s: %w", f.Name, err)
		}
		written++

		if strings.EqualFold(filepath.Ext(f.Name), ".txt") {
			transcripts = append(transcripts, dest)
		} else {
			media = append(media, dest)
		}
	}

	if written == 0 {
		return nil, ErrEmptyArchive
	}
	switch len(transcripts) {
	case 0:
		return nil, ErrNoTranscript
	case 1:
	default:
		return nil, fmt.Errorf("%w: %d candidates", ErrAmbiguousTranscript, len(transcripts))
	}

	sort.Strings(media)
	return &Extraction{TranscriptPath: transcripts[0], MediaPaths: media}, nil
}

// hidden reports whether any path segment is a dotfile or macOS metadata.
func hidden(name string) bool {
	for _, part := range strings.Split(filepath.ToSlash(name), "/") {
		if strings.HasPrefix(part, ".") || part == "__MACOSX" {
			return true
		}
	}
	return false
}

// safePath resolves an entry name inside workDir, rejecting anything that
// would land outside it.
func safePath(workDir, name string) (string, error) {
	dest := filepath.Join(workDir, filepath.FromSlash(name))
	if !strings.HasPrefix(dest, filepath.Clean(workDir)+string(os.PathSeparator)) {
		return "", fmt.Errorf("%w: %q", ErrUnsafePath, name)
	}
	return dest, nil
}

func writeEntry(f *zip.File, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}

	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("open entry: %w", err)
	}
	defer rc.Close()

	out, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("create: %w", err)
	}
	defer out.Close()

	if _, err := io.Copy(out, rc); err != nil {
		return fmt.Errorf("copy: %w", err)
	}
	return out.Close()
}
