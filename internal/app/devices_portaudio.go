//go:build portaudio

package app

import (
	"log/slog"

	"github.com/MrWong99/advisorsim/internal/config"
	"github.com/MrWong99/advisorsim/pkg/audio"
	"github.com/MrWong99/advisorsim/pkg/audio/portaudio"
)

func openDevices(backend config.AudioBackend, log *slog.Logger) audio.Devices {
	if backend == config.AudioNone {
		log.Info("audio disabled by config")
		return audio.NoDevices{}
	}
	return portaudio.New()
}
