package config

const (
	defaultDataDir             = "~/.local/share/rowforge"
	defaultLogDir              = "~/.local/share/rowforge/logs"
	defaultAPIBind             = "127.0.0.1:7519"
	defaultChunkSize           = 50
	defaultMaxAttempts         = 3
	defaultVisibilitySeconds   = 120
	defaultJobTimeoutSeconds   = 3600
	defaultPollIntervalMs      = 500
	defaultWorkerCount         = 4
	defaultFallbackWorkerCount = 4
	defaultClaimWaitSeconds    = 1
	defaultLLMBaseURL          = "https://openrouter.ai/api/v1/chat/completions"
	defaultLLMModel            = "google/gemini-3-flash-preview"
	defaultLLMTimeoutSeconds   = 60
	defaultLogFormat           = "console"
	defaultLogLevel            = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			LogDir:  defaultLogDir,
			APIBind: defaultAPIBind,
		},
		Jobs: Jobs{
			ChunkSize:                 defaultChunkSize,
			MaxAttempts:               defaultMaxAttempts,
			VisibilityTimeoutSeconds:  defaultVisibilitySeconds,
			JobTimeoutSeconds:         defaultJobTimeoutSeconds,
			PollIntervalMilliseconds:  defaultPollIntervalMs,
			DistributedEnabled:        true,
			WorkerCount:               defaultWorkerCount,
			FallbackWorkerCount:       defaultFallbackWorkerCount,
			ClaimWaitSecondsWhenEmpty: defaultClaimWaitSeconds,
		},
		LLM: LLM{
			BaseURL:        defaultLLMBaseURL,
			Model:          defaultLLMModel,
			TimeoutSeconds: defaultLLMTimeoutSeconds,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
