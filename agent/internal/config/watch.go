package config

import (
	"context"

	"github.com/obsidianstack/alertd/pkg/filewatch"
)

// Watch monitors path and calls onChange with each valid reload until ctx
// is cancelled. Invalid reloads are logged and skipped.
func Watch(ctx context.Context, path string, onChange func(*Config)) error {
	return filewatch.Watch(ctx, path, Load, onChange)
}
