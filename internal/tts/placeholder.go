package tts

import (
	"log/slog"
	"os"
	"time"

	"github.com/loqalabs/loqa-avatar/internal/wavutil"
)

const placeholderDuration = 300 * time.Millisecond

// LoadPlaceholder reads the fallback clip returned whenever real synthesis
// is unavailable. A missing or invalid file is replaced by generated silence.
func LoadPlaceholder(path string, sampleRate, channels int, logger *slog.Logger) ([]byte, error) {
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err != nil:
			logger.Warn("placeholder audio unavailable; using silence", slog.String("path", path), slogError(err))
		case !wavutil.IsWAV(data):
			logger.Warn("placeholder audio is not a wav file; using silence", slog.String("path", path))
		default:
			return data, nil
		}
	}
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	if channels <= 0 {
		channels = 1
	}
	return wavutil.Silence(placeholderDuration, sampleRate, channels)
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
