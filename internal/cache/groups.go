package cache

import (
	"fmt"
	"time"
)

// GroupConfig bounds one logical cache group.
type GroupConfig struct {
	MaxEntries int           `yaml:"max_entries"`
	MaxAge     time.Duration `yaml:"max_age"`
}

// DefaultGroups returns the bounds for the default logical groups.
func DefaultGroups() map[string]GroupConfig {
	return map[string]GroupConfig{
		GroupShell:  {MaxEntries: 50, MaxAge: 7 * 24 * time.Hour},
		GroupImages: {MaxEntries: 60, MaxAge: 30 * 24 * time.Hour},
		GroupFonts:  {MaxEntries: 30, MaxAge: 365 * 24 * time.Hour},
		GroupAPI:    {MaxEntries: 100, MaxAge: 5 * time.Minute},
	}
}

// GroupName returns the versioned store name of a logical group.
func GroupName(prefix, name, version string) string {
	return fmt.Sprintf("%s-%s-%s", prefix, name, version)
}
