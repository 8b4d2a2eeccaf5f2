package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// AssistantChanged is true when any hot-reloadable assistant field
	// (system prompt, debounce, suggestion TTL, thinking, search) changed.
	AssistantChanged bool
	NewAssistant     AssistantConfig
}

// Empty reports whether the diff contains no changes.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.AssistantChanged
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart; provider,
// server, and history changes require a restart and are ignored here.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Assistant != new.Assistant {
		d.AssistantChanged = true
		d.NewAssistant = new.Assistant
	}

	return d
}
