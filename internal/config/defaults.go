package config

const (
	defaultConfigPath                  = "~/.config/curator/config.toml"
	defaultDataDir                     = "~/.local/share/curator"
	defaultLogDir                      = "~/.local/share/curator/logs"
	defaultRegistryPath                = "~/.config/curator/sources.yaml"
	defaultAPIBind                     = "127.0.0.1:7488"
	defaultTMDBLanguage                = "en-US"
	defaultTMDBBaseURL                 = "https://api.themoviedb.org/3"
	defaultTMDBMaxPages                = 5
	defaultTMDBRequestsPerSecond       = 20
	defaultTMDBTimeoutSeconds          = 15
	defaultEmbyTimeoutSeconds          = 10
	defaultLLMBaseURL                  = "https://openrouter.ai/api/v1/chat/completions"
	defaultLLMModel                    = "google/gemini-3-flash-preview"
	defaultLLMReferer                  = "https://github.com/curator-media/curator"
	defaultLLMTitle                    = "Curator Recommendations"
	defaultLLMTimeoutSeconds           = 60
	defaultUpstreamTimeoutSeconds      = 30
	defaultPresenceConcurrency         = 8
	defaultPageSize                    = 50
	defaultMaxPageSize                 = 500
	defaultReleaseCheckIntervalMinutes = 360
	maxReleaseCheckIntervalMinutes     = 24 * 60
	defaultBatchMaxSize                = 500
	defaultBatchConcurrency            = 8
	defaultLogFormat                   = "console"
	defaultLogLevel                    = "info"
	defaultLogRetentionDays            = 30
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			LogDir:  defaultLogDir,
			APIBind: defaultAPIBind,
		},
		TMDB: TMDB{
			Language:          defaultTMDBLanguage,
			BaseURL:           defaultTMDBBaseURL,
			MaxPages:          defaultTMDBMaxPages,
			RequestsPerSecond: defaultTMDBRequestsPerSecond,
			TimeoutSeconds:    defaultTMDBTimeoutSeconds,
		},
		Emby: Emby{
			TimeoutSeconds: defaultEmbyTimeoutSeconds,
		},
		LLM: LLM{
			BaseURL:        defaultLLMBaseURL,
			Model:          defaultLLMModel,
			Referer:        defaultLLMReferer,
			Title:          defaultLLMTitle,
			TimeoutSeconds: defaultLLMTimeoutSeconds,
		},
		Sources: Sources{
			RegistryPath: defaultRegistryPath,
		},
		Evaluation: Evaluation{
			UpstreamTimeoutSeconds: defaultUpstreamTimeoutSeconds,
			PresenceConcurrency:    defaultPresenceConcurrency,
			DefaultPageSize:        defaultPageSize,
			MaxPageSize:            defaultMaxPageSize,
		},
		Ledger: Ledger{
			ReleaseCheckIntervalMinutes: defaultReleaseCheckIntervalMinutes,
			BatchMaxSize:                defaultBatchMaxSize,
			BatchConcurrency:            defaultBatchConcurrency,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
	}
}
