package app

import (
	"strings"
	"time"

	"tame/internal/config"
	"tame/internal/observability"
	"tame/internal/storage"
	logx "tame/pkg/logx"
)

func mapLogConfig(g config.GeneralSettings) logx.Config {
	return logx.Config{
		Level:   g.LogLevel,
		Console: true,
		File: logx.FileConfig{
			Enabled: strings.TrimSpace(g.LogFile) != "",
			Path:    g.LogFile,
		},
		Journal: logx.JournalConfig{
			Enabled:    g.LogJournal,
			MinLevel:   "WARN",
			RatePerSec: 5,
		},
	}
}

func mapJournalConfig(j config.JournalSettings, historyMax int) storage.Config {
	keep := historyMax * 10
	return storage.Config{
		Driver:      j.Driver,
		Path:        j.Path,
		BusyTimeout: time.Second,
		MaxEvents:   max(keep, 1000),
	}
}

func mapServerConfig(g config.GeneralSettings) observability.ServerConfig {
	return observability.ServerConfig{
		Addr:         strings.TrimSpace(g.MetricsAddr),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}
