package convert

import (
	"fmt"
	"math"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const wavBitDepth = 32

// WriteWAV stores a trace as mono 32-bit PCM at the trace sample rate.
func WriteWAV(path string, trace Trace) error {
	rate := int(math.Round(trace.SampleRate))
	if rate <= 0 {
		return fmt.Errorf("write wav: invalid sample rate %v", trace.SampleRate)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create wav: %w", err)
	}

	data := make([]int, len(trace.Samples))
	for i, s := range trace.Samples {
		data[i] = int(s)
	}

	enc := wav.NewEncoder(f, rate, wavBitDepth, 1, 1)
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: rate},
		Data:           data,
		SourceBitDepth: wavBitDepth,
	}
	if err := enc.Write(buf); err != nil {
		_ = f.Close()
		return fmt.Errorf("encode wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		_ = f.Close()
		return fmt.Errorf("finalize wav: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close wav: %w", err)
	}
	return nil
}
