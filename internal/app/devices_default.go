//go:build !portaudio

package app

import (
	"log/slog"

	"github.com/MrWong99/advisorsim/internal/config"
	"github.com/MrWong99/advisorsim/pkg/audio"
)

func openDevices(backend config.AudioBackend, log *slog.Logger) audio.Devices {
	if backend == config.AudioPortAudio {
		log.Warn("binary built without portaudio support; voice and speech output are unavailable")
	}
	return audio.NoDevices{}
}
