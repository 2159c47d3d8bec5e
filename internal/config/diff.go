package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// SessionChanged is true if any hot-reloadable session setting changed.
	// The new settings apply to the next session.
	SessionChanged      bool
	VoiceChanged        bool
	InstructionsChanged bool

	// RestartRequired lists settings that changed but only take effect after
	// a restart.
	RestartRequired []string
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Session.Voice != new.Session.Voice {
		d.VoiceChanged = true
	}
	if old.Session.Instructions != new.Session.Instructions {
		d.InstructionsChanged = true
	}
	d.SessionChanged = d.VoiceChanged || d.InstructionsChanged ||
		old.Session.InputSampleRate != new.Session.InputSampleRate ||
		old.Session.OutputSampleRate != new.Session.OutputSampleRate ||
		old.Session.CaptureWindow != new.Session.CaptureWindow ||
		!sameFlag(old.Session.InputTranscription, new.Session.InputTranscription) ||
		!sameFlag(old.Session.OutputTranscription, new.Session.OutputTranscription)

	if old.Server.ListenAddr != new.Server.ListenAddr {
		d.RestartRequired = append(d.RestartRequired, "server.listen_addr")
	}
	if !sameEntry(old.Providers.Live, new.Providers.Live) {
		d.RestartRequired = append(d.RestartRequired, "providers.live")
	}
	if !sameEntry(old.Providers.Chat, new.Providers.Chat) || !sameEntry(old.Providers.ChatFallback, new.Providers.ChatFallback) {
		d.RestartRequired = append(d.RestartRequired, "providers.chat")
	}
	if old.Memory != new.Memory {
		d.RestartRequired = append(d.RestartRequired, "memory")
	}

	return d
}

// sameEntry compares the scalar fields of two provider entries. Options are
// not compared.
func sameEntry(a, b ProviderEntry) bool {
	return a.Name == b.Name && a.APIKey == b.APIKey && a.BaseURL == b.BaseURL && a.Model == b.Model
}

// sameFlag compares optional booleans; nil means true.
func sameFlag(a, b *bool) bool {
	return (a == nil || *a) == (b == nil || *b)
}
