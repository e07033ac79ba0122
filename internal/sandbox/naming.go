package sandbox

import "strings"

// sanitizeName implements the container naming rule: every rune
// outside [A-Za-z0-9_-] becomes '-', then the result is truncated to 60
// bytes. This makes the canonical name idempotently re-discoverable after a
// process restart.
func sanitizeName(s string) string {
	mapped := strings.Map(func(r rune) rune {
		switch {
		case r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_', r == '-':
			return r
		default:
			return '-'
		}
	}, s)
	if len(mapped) > 60 {
		mapped = mapped[:60]
	}
	return mapped
}

func (m *Manager) containerName(userID string) string {
	return m.cfg.NamePrefix + "-" + sanitizeName(userID)
}
