package convert

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Encoder compresses an uncompressed audio file into the output codec.
type Encoder interface {
	Encode(ctx context.Context, src, dst string) error
}

// FFmpeg encodes to FLAC with an external ffmpeg binary. The container is
// forced, so dst may carry any extension; an existing dst is overwritten.
type FFmpeg struct {
	Path string
}

// Encode runs `ffmpeg -y -i src -c:a flac -f flac dst`.
func (f FFmpeg) Encode(ctx context.Context, src, dst string) error {
	bin := f.Path
	if bin == "" {
		bin = "ffmpeg"
	}

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, bin, "-hide_banner", "-loglevel", "error", "-y", "-i", src, "-c:a", "flac", "-f", "flac", dst)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ffmpeg %s: %w: %s", src, err, strings.TrimSpace(stderr.String()))
	}
	return nil
}
