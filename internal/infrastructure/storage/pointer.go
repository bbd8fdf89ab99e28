package storage

import (
	"fmt"
	"path/filepath"
)

// WritePointer overwrites latest.txt with the path, relative to the save
// directory, of the local file carrying the newest embedded timestamp.
// It returns the written path, or "" when there are no audio files.
func (s *SaveDir) WritePointer() (string, error) {
	_, file, err := s.LatestTimestamp()
	if err != nil {
		return "", err
	}
	if file == "" {
		return "", nil
	}

	rel, err := filepath.Rel(s.root, s.Path(file))
	if err != nil {
		return "", fmt.Errorf("relative pointer path: %w", err)
	}
	rel = filepath.ToSlash(rel)

	if err := writeAtomic(filepath.Join(s.root, PointerFile), []byte(rel)); err != nil {
		return "", err
	}
	return rel, nil
}
