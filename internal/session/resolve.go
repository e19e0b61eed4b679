package session

import "github.com/gfreires/feira/internal/config"

const DefaultSessionName = "main"

// Resolve determines the active session name using precedence:
// 1. flagOverride (--session flag)
// 2. FEIRA_SESSION / config.toml default_session
// 3. "main"
func Resolve(flagOverride string) string {
	if flagOverride != "" {
		return flagOverride
	}
	cfg := config.LoadOrDefault(ConfigPath())
	if cfg.DefaultSession != "" {
		return cfg.DefaultSession
	}
	return DefaultSessionName
}
