package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be applied without restarting the capture source are
// tracked; provider and audio changes require a restart and are reported as
// RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// VADChanged is set when any classifier threshold changed. The segmenter
	// picks the new values up at the next utterance boundary.
	VADChanged bool

	// SegmenterChanged is set when hangover, length bounds, or queue size
	// changed.
	SegmenterChanged bool

	// PipelineChanged is set when a per-call timeout or the degraded-mode
	// failure threshold changed.
	PipelineChanged bool

	// CalibrationChanged is set when the calibration window, retry budget, or
	// display name changed. An existing speaker binding stays valid; the new
	// values apply to the next re-calibration.
	CalibrationChanged bool

	// RestartRequired is set when the audio source, a provider selection, or
	// the knowledge store config changed. These cannot be swapped under a
	// live capture stream.
	RestartRequired bool
}

// Changed reports whether the diff contains any change at all.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.VADChanged || d.SegmenterChanged ||
		d.PipelineChanged || d.CalibrationChanged || d.RestartRequired
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.VAD != new.VAD {
		d.VADChanged = true
	}
	if old.Segmenter != new.Segmenter {
		d.SegmenterChanged = true
	}
	if old.Pipeline != new.Pipeline {
		d.PipelineChanged = true
	}
	if old.Calibration != new.Calibration {
		d.CalibrationChanged = true
	}

	if old.Audio != new.Audio ||
		old.Server.ListenAddr != new.Server.ListenAddr ||
		!providersEqual(old.Providers, new.Providers) ||
		!knowledgeEqual(old.Knowledge, new.Knowledge) {
		d.RestartRequired = true
	}

	return d
}

// providersEqual compares provider configs ignoring the free-form Options
// maps, which are not comparable. A change to Options alone still flips
// RestartRequired via the name/model/url fields in practice, because backends
// read Options only at construction time.
func providersEqual(a, b ProvidersConfig) bool {
	return entryEqual(a.Diarize, b.Diarize) &&
		entryEqual(a.STT.ProviderEntry, b.STT.ProviderEntry) &&
		a.STT.Language == b.STT.Language &&
		entryEqual(a.LLM.ProviderEntry, b.LLM.ProviderEntry) &&
		a.LLM.MaxTokens == b.LLM.MaxTokens &&
		a.LLM.Temperature == b.LLM.Temperature &&
		a.LLM.PromptTemplate == b.LLM.PromptTemplate
}

func entryEqual(a, b ProviderEntry) bool {
	return a.Name == b.Name && a.APIKey == b.APIKey &&
		a.BaseURL == b.BaseURL && a.Model == b.Model
}

// knowledgeEqual compares knowledge store configs. The store and the
// retrieval limits are wired into the pipeline at construction time, so any
// change here needs a restart.
func knowledgeEqual(a, b KnowledgeConfig) bool {
	return a.DSN == b.DSN &&
		entryEqual(a.Embedder, b.Embedder) &&
		a.TopK == b.TopK &&
		a.TimeoutS == b.TimeoutS &&
		a.SeedDir == b.SeedDir
}
