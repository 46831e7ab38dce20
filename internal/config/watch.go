package config

import (
	"context"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watch reloads path whenever it is written and hands the new config to
// onChange. A reload that fails to parse or validate is logged and the
// previous config stays active. Runs until ctx is cancelled.
func Watch(ctx context.Context, path string, log *zap.Logger, onChange func(*Config)) error {
	if log == nil {
		log = zap.NewNop()
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := w.Add(path); err != nil {
		return err
	}
	log.Info("config_watching", zap.String("path", path))

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			// editors often save via rename, which shows up as Create
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			cfg, err := Load(path)
			if err != nil {
				log.Warn("config_reload_failed", zap.String("path", path), zap.Error(err))
				continue
			}
			log.Info("config_reloaded", zap.String("path", path), zap.Int("targets", len(cfg.Targets)))
			onChange(cfg)
			_ = w.Add(path)

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.Warn("config_watch_error", zap.Error(err))
		}
	}
}
