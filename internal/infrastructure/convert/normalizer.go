// Package convert turns provider-native containers (miniSEED, WAV) into FLAC.
package convert

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"HydrophoneStreamer/internal/ports"
)

// ErrNoOutput is returned when the encoder finished without producing the
// compressed file.
var ErrNoOutput = errors.New("convert: compressed output was not produced")

const (
	extMSEED = ".mseed"
	extWAV   = ".wav"
	extFLAC  = ".flac"

	// partialSuffix marks an encode in progress; it never matches *.flac.
	partialSuffix = ".part"
)

// Normalizer converts into FLAC and removes intermediates. The raw source is
// only removed once the FLAC file exists.
type Normalizer struct {
	encoder Encoder
	logger  *slog.Logger
}

var _ ports.Normalizer = (*Normalizer)(nil)

// NewNormalizer wires an encoder; nil selects ffmpeg from PATH.
func NewNormalizer(encoder Encoder, logger *slog.Logger) *Normalizer {
	if encoder == nil {
		encoder = FFmpeg{}
	}
	return &Normalizer{encoder: encoder, logger: logger}
}

// TargetName maps a source basename to its FLAC name.
func (n *Normalizer) TargetName(name string) string {
	ext := filepath.Ext(name)
	switch strings.ToLower(ext) {
	case extMSEED, extWAV:
		return strings.TrimSuffix(name, ext) + extFLAC
	default:
		return name
	}
}

// Normalize converts path and returns the FLAC path.
func (n *Normalizer) Normalize(ctx context.Context, path string) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case extMSEED:
		return n.fromMiniSEED(ctx, path)
	case extWAV:
		return n.fromWAV(ctx, path)
	default:
		return path, nil
	}
}

func (n *Normalizer) fromMiniSEED(ctx context.Context, path string) (string, error) {
	wavPath := strings.TrimSuffix(path, filepath.Ext(path)) + extWAV

	records, err := ReadMiniSEED(path)
	if err != nil {
		return "", err
	}
	trace, err := Merge(records)
	if err != nil {
		return "", err
	}
	n.debug("decoded mseed", "file", filepath.Base(path), "channel", trace.ID,
		"samples", len(trace.Samples), "sample_rate", trace.SampleRate)

	if err := WriteWAV(wavPath, trace); err != nil {
		_ = os.Remove(wavPath)
		return "", err
	}

	return n.fromWAV(ctx, wavPath, path)
}

// fromWAV encodes wavPath into a partial file and renames it over the FLAC
// name, so a leftover or truncated FLAC is replaced rather than trusted. The
// WAV and any extra sources are removed only after the rename.
func (n *Normalizer) fromWAV(ctx context.Context, wavPath string, sources ...string) (string, error) {
	flacPath := strings.TrimSuffix(wavPath, filepath.Ext(wavPath)) + extFLAC
	partial := flacPath + partialSuffix
	_ = os.Remove(partial)

	encErr := n.encoder.Encode(ctx, wavPath, partial)
	if _, err := os.Stat(partial); err != nil || encErr != nil {
		_ = os.Remove(partial)
		if len(sources) > 0 {
			// the intermediate can be rebuilt from the retained source
			_ = os.Remove(wavPath)
		}
		if encErr != nil {
			return "", fmt.Errorf("%w: %s: %v", ErrNoOutput, filepath.Base(flacPath), encErr)
		}
		return "", fmt.Errorf("%w: %s", ErrNoOutput, filepath.Base(flacPath))
	}

	if err := os.Rename(partial, flacPath); err != nil {
		_ = os.Remove(partial)
		return "", fmt.Errorf("rename %s: %w", filepath.Base(flacPath), err)
	}
	n.debug("encoded flac", "file", filepath.Base(flacPath))

	for _, p := range append([]string{wavPath}, sources...) {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return flacPath, fmt.Errorf("remove intermediate %s: %w", filepath.Base(p), err)
		}
	}
	return flacPath, nil
}

func (n *Normalizer) debug(msg string, args ...any) {
	if n.logger != nil {
		n.logger.Debug(msg, args...)
	}
}
