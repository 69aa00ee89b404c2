package config

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// watchDebounce absorbs editor write bursts; atomic saves arrive as
// several events within a few milliseconds.
const watchDebounce = 500 * time.Millisecond

// Watch reloads the configuration whenever path changes and hands the
// result to onChange. Reload failures are logged and skipped so a broken
// edit never tears the running configuration down. Watch blocks until the
// context is canceled.
func Watch(ctx context.Context, path string, onChange func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	// Watch the directory: editors replace the file, which drops a watch
	// installed on the file itself.
	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return err
	}

	logger := log.Logger.With().Str("caller", "configWatcher").Str("path", path).Logger()
	logger.Info().Msg("watching configuration file")

	var debounce *time.Timer
	fire := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(path) {
				continue
			}
			if !event.Op.Has(fsnotify.Write) && !event.Op.Has(fsnotify.Create) && !event.Op.Has(fsnotify.Rename) {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(watchDebounce, func() {
				select {
				case fire <- struct{}{}:
				default:
				}
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn().Err(err).Msg("config watch error")

		case <-fire:
			cfg, err := Load(path)
			if err != nil {
				logger.Error().Err(err).Msg("config reload failed, keeping previous configuration")
				continue
			}
			logger.Info().Int("branches", len(cfg.Branches)).Msg("configuration reloaded")
			onChange(cfg)
		}
	}
}
