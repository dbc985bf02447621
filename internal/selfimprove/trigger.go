package selfimprove

import "github.com/ashureev/agentchat/internal/domain"

// ShouldAnalyze reports whether count prompts should fire an analysis cycle.
// settings.Interval must be at least 1; UpdateSettings enforces this.
func ShouldAnalyze(settings *domain.Settings, count int) bool {
	if settings == nil || !settings.Enabled || count <= 0 {
		return false
	}
	return count%settings.Interval == 0
}
