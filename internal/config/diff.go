package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; backend and
// cache changes require a restart and are reported via RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// VoiceChanged is true when the primary voice or the fallback voice
	// list changed. Takes effect for sentences synthesized after reload.
	VoiceChanged bool
	NewVoiceID   string

	// SpeedChanged is true when the speaking rate changed. Cached
	// alignments for the old speed stay valid under their own cache keys.
	SpeedChanged bool
	NewSpeed     float64

	// RestartRequired is true when a field that cannot be hot-reloaded
	// changed (synthesis backend, cache backend, listen address, pipeline
	// bounds).
	RestartRequired bool
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Synthesis.VoiceID != new.Synthesis.VoiceID ||
		!equalStrings(old.Synthesis.FallbackVoices, new.Synthesis.FallbackVoices) {
		d.VoiceChanged = true
		d.NewVoiceID = new.Synthesis.VoiceID
	}

	if old.Synthesis.Speed != new.Synthesis.Speed {
		d.SpeedChanged = true
		d.NewSpeed = new.Synthesis.Speed
	}

	if old.Synthesis.Backend != new.Synthesis.Backend ||
		old.Server.ListenAddr != new.Server.ListenAddr ||
		old.Cache != new.Cache ||
		old.Pipeline != new.Pipeline {
		d.RestartRequired = true
	}

	return d
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
