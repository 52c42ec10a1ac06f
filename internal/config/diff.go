package config

import "slices"

// ConfigDiff describes what changed between two configs.
// Only fields that can be applied without a restart are tracked; provider
// and store changes need a new process.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// ScenarioFilesAdded lists scenario files present only in the new config.
	ScenarioFilesAdded []string

	// ScenariosChanged is true when the scenario file list changed at all.
	ScenariosChanged bool

	// TemplateChanged is true when feedback.template_file changed.
	TemplateChanged bool

	// RestartRequired is true when a provider, audio or store setting
	// changed.
	RestartRequired bool
}

// Empty reports whether d contains no change at all.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.ScenariosChanged && !d.TemplateChanged && !d.RestartRequired
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if !slices.Equal(old.Scenarios.Files, new.Scenarios.Files) {
		d.ScenariosChanged = true
		for _, f := range new.Scenarios.Files {
			if !slices.Contains(old.Scenarios.Files, f) {
				d.ScenarioFilesAdded = append(d.ScenarioFilesAdded, f)
			}
		}
	}

	d.TemplateChanged = old.Feedback.TemplateFile != new.Feedback.TemplateFile

	d.RestartRequired = !providersEqual(old.Providers, new.Providers) ||
		old.Audio != new.Audio ||
		old.Server.ListenAddr != new.Server.ListenAddr ||
		old.Feedback.Store != new.Feedback.Store ||
		old.Feedback.Path != new.Feedback.Path ||
		old.Feedback.DSN != new.Feedback.DSN

	return d
}

func providersEqual(a, b ProvidersConfig) bool {
	return entryEqual(a.Chat, b.Chat) &&
		entryEqual(a.LLM, b.LLM) &&
		entryEqual(a.LLMFallback, b.LLMFallback) &&
		entryEqual(a.S2S, b.S2S) &&
		entryEqual(a.TTS, b.TTS) &&
		entryEqual(a.TTSFallback, b.TTSFallback)
}

// entryEqual compares the scalar fields of two entries. Options are not
// compared.
func entryEqual(a, b ProviderEntry) bool {
	return a.Name == b.Name && a.APIKey == b.APIKey && a.BaseURL == b.BaseURL &&
		a.Model == b.Model && a.Voice == b.Voice
}
