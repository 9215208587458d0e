package config

import (
	"io"
	"log/slog"
)

// SetupLog installs a global text logger whose level follows LOG_LEVEL,
// including later edits to the .env file.
func SetupLog(w io.Writer) *slog.LevelVar {
	lv := new(slog.LevelVar)
	if AppConfig != nil {
		lv.Set(AppConfig.Level())
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lv})))
	OnLogLevelChange(func(level slog.Level) {
		if lv.Level() != level {
			slog.Info("Log level changed", "level", level)
		}
		lv.Set(level)
	})
	return lv
}
