package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"HydrophoneStreamer/internal/domain"
	"HydrophoneStreamer/internal/ports"
	"HydrophoneStreamer/internal/timestamp"
)

const (
	FiltersFile  = "filters.json"
	CitationFile = "reference.bib"
	PointerFile  = "latest.txt"
	OrdersFile   = "orders.json"

	// AudioExt is the extension of finished audio files.
	AudioExt = ".flac"
)

// sweptExts lists the extensions removed by the retention sweep. Sources
// left behind by failed conversions age out with the audio.
var sweptExts = []string{".flac", ".ts", ".mseed", ".wav"}

// SaveDir persists audio files and sidecars of one streaming directory.
type SaveDir struct {
	root      string
	retention time.Duration
}

var _ ports.SaveDir = (*SaveDir)(nil)

// NewSaveDir creates the directory if needed. A zero retention disables the
// sweep.
func NewSaveDir(root string, retention time.Duration) (*SaveDir, error) {
	if root == "" {
		return nil, fmt.Errorf("save dir is empty")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create save dir: %w", err)
	}
	return &SaveDir{root: root, retention: retention}, nil
}

// Path joins a basename onto the directory.
func (s *SaveDir) Path(name string) string {
	return filepath.Join(s.root, filepath.Base(name))
}

// Exists reports whether a basename is present.
func (s *SaveDir) Exists(name string) bool {
	_, err := os.Stat(s.Path(name))
	return err == nil
}

// Files lists the basenames with the given extension, sorted.
func (s *SaveDir) Files(ext string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(s.root, "*"+ext))
	if err != nil {
		return nil, fmt.Errorf("list %s files: %w", ext, err)
	}
	names := make([]string, 0, len(matches))
	for _, m := range matches {
		names = append(names, filepath.Base(m))
	}
	sort.Strings(names)
	return names, nil
}

// LatestTimestamp returns the greatest embedded timestamp among local audio
// files. Ties go to the lexicographically greatest name. A file whose name
// carries no accepted timestamp is an error.
func (s *SaveDir) LatestTimestamp() (time.Time, string, error) {
	names, err := s.Files(AudioExt)
	if err != nil {
		return time.Time{}, "", err
	}

	var (
		latest time.Time
		file   string
	)
	for _, name := range names {
		ts, err := timestamp.Parse(name)
		if err != nil {
			return time.Time{}, "", fmt.Errorf("local file: %w", err)
		}
		if file == "" || ts.After(latest) || (ts.Equal(latest) && name > file) {
			latest, file = ts, name
		}
	}
	return latest, file, nil
}

// WriteFilters overwrites the provenance sidecar with the parameters of the
// last fetch.
func (s *SaveDir) WriteFilters(filter domain.Filter) error {
	raw, err := json.Marshal(filter)
	if err != nil {
		return fmt.Errorf("marshal filters: %w", err)
	}
	return writeAtomic(filepath.Join(s.root, FiltersFile), raw)
}

// HasCitation reports whether reference.bib already exists.
func (s *SaveDir) HasCitation() bool {
	return s.Exists(CitationFile)
}

// WriteCitation writes reference.bib once; it reports whether it wrote.
func (s *SaveDir) WriteCitation(bibtex string) (bool, error) {
	if s.HasCitation() {
		return false, nil
	}
	if strings.TrimSpace(bibtex) == "" {
		return false, nil
	}
	if err := writeAtomic(filepath.Join(s.root, CitationFile), []byte(bibtex)); err != nil {
		return false, err
	}
	return true, nil
}

// LoadOrders returns pending product orders; a missing file means none.
func (s *SaveDir) LoadOrders() ([]domain.PendingOrder, error) {
	raw, err := os.ReadFile(filepath.Join(s.root, OrdersFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read orders: %w", err)
	}
	var orders []domain.PendingOrder
	if err := json.Unmarshal(raw, &orders); err != nil {
		return nil, fmt.Errorf("decode orders: %w", err)
	}
	return orders, nil
}

// SaveOrders replaces the pending order list; an empty list removes the file.
func (s *SaveDir) SaveOrders(orders []domain.PendingOrder) error {
	path := filepath.Join(s.root, OrdersFile)
	if len(orders) == 0 {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove orders: %w", err)
		}
		return nil
	}
	raw, err := json.MarshalIndent(orders, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal orders: %w", err)
	}
	return writeAtomic(path, raw)
}

// Sweep removes audio files whose modification time is older than the
// retention window.
func (s *SaveDir) Sweep(now time.Time) ([]string, error) {
	if s.retention <= 0 {
		return nil, nil
	}
	cutoff := now.Add(-s.retention)

	var removed []string
	for _, ext := range sweptExts {
		names, err := s.Files(ext)
		if err != nil {
			return removed, err
		}
		for _, name := range names {
			info, err := os.Stat(s.Path(name))
			if err != nil {
				continue
			}
			if !info.ModTime().Before(cutoff) {
				continue
			}
			if err := os.Remove(s.Path(name)); err != nil {
				return removed, fmt.Errorf("remove %s: %w", name, err)
			}
			removed = append(removed, name)
		}
	}
	return removed, nil
}

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", filepath.Base(path), err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("close %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("rename %s: %w", filepath.Base(path), err)
	}
	return nil
}
