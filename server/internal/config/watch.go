package config

import (
	"context"

	"github.com/obsidianstack/alertd/pkg/filewatch"
)

// Watch reloads the config at path whenever it changes and passes the new
// Config to onChange until ctx is cancelled. An invalid reload is logged
// and skipped, leaving the previous config in effect.
func Watch(ctx context.Context, path string, onChange func(*Config)) error {
	return filewatch.Watch(ctx, path, Load, onChange)
}
