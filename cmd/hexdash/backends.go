package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"hexdash/internal/config"
	"hexdash/internal/remote"
	"hexdash/internal/source"
)

// activitySource selects the external activity source from config. An
// unset or missing database path surfaces as ErrSourceUnavailable at read
// time, which every caller tolerates.
func activitySource(cfg *config.Config) source.Source {
	return source.NewSQLiteSource(cfg.Source.DatabasePath)
}

// remoteStore selects the remote tier backend. The backing service is
// provided by the dashboard deployment; a build without one linked in
// runs local-only even when remote sync is enabled.
func remoteStore(cfg *config.Config) remote.Store {
	if !cfg.Sync.RemoteEnabled || cfg.Sync.OwnerID == "" {
		return nil
	}
	if logger != nil {
		logger.Warn("Remote sync enabled but no backend is linked; running local-only")
	}
	return nil
}

func sourceLabel(cfg *config.Config) string {
	if cfg.Source.DatabasePath == "" {
		return "not configured"
	}
	if _, err := os.Stat(cfg.Source.DatabasePath); err != nil {
		return cfg.Source.DatabasePath + " (unreachable)"
	}
	return cfg.Source.DatabasePath
}

func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func printGrouping(label string, m map[string]int64) {
	if len(m) == 0 {
		return
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	fmt.Printf("  %s:\n", label)
	for _, k := range keys {
		fmt.Printf("    %-20s %d\n", k, m[k])
	}
}
