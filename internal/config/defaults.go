package config

const (
	defaultDataDir                   = "~/.local/share/taskmill"
	defaultLogDir                    = "~/.local/share/taskmill/logs"
	defaultLogFormat                 = "console"
	defaultLogLevel                  = "info"
	defaultLockExpiryMinutes         = 60
	defaultRecentActionWindowMinutes = 60
	defaultSelectionMaxLimit         = 50
	defaultNotifyRequestTimeout      = 10
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			LogDir:  defaultLogDir,
		},
		Locks: Locks{
			ExpiryMinutes: defaultLockExpiryMinutes,
		},
		Selection: Selection{
			RecentActionWindowMinutes: defaultRecentActionWindowMinutes,
			IncludeTooHard:            false,
			TagMatchAny:               false,
			ReserveOnSelect:           false,
			MaxLimit:                  defaultSelectionMaxLimit,
		},
		Review: Review{
			DefaultRequestReview: false,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyRequestTimeout,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
