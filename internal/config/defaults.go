package config

// Defaults returns a fresh copy of the built-in configuration tree.
// Callers may mutate the result freely.
func Defaults() Document {
	return Document{
		"general": map[string]any{
			"state_file":                "~/.local/share/tame/state.db",
			"log_file":                  "~/.local/share/tame/tame.log",
			"log_level":                 "INFO",
			"log_journal":               false,
			"max_buffer_lines":          10000,
			"autosave_interval_seconds": 60,
			"resource_poll_seconds":     5,
			"metrics_addr":              "",
		},
		"sessions": map[string]any{
			"auto_resume":               false,
			"default_working_directory": "",
			"default_shell":             "",
			"max_concurrent_sessions":   0,
			"idle_threshold_seconds":    300,
			"state_debounce_ms":         2000,
			"idle_check":                "@every 5s",
		},
		"patterns": map[string]any{
			"prompt": map[string]any{
				"regexes": []any{
					`\[y/n\]`,
					`\[Y/n\]`,
					`\[yes/no\]`,
					`\(a\)pprove.*\(d\)eny`,
					`Do you want to (?:continue|proceed)`,
					`Press [Ee]nter to continue`,
					`Allow .+ to .+\?`,
				},
			},
			"error": map[string]any{
				"regexes": []any{
					`(?i)error:`,
					`(?i)fatal:`,
					`Traceback \(most recent call last\)`,
					`(?i)APIError`,
					`(?i)rate.?limit`,
				},
			},
			"completion": map[string]any{
				"regexes": []any{
					`(?i)task completed`,
					`(?i)\bdone\.?$`,
					`(?i)finished`,
				},
			},
			"progress": map[string]any{
				"regexes": []any{
					`\d+%`,
					`Step \d+/\d+`,
				},
			},
			"idle_prompt_timeout": 3.0,
		},
		"theme": map[string]any{
			"current":         "dark",
			"custom_css_path": "",
			"colors":          map[string]any{},
			"borders":         map[string]any{},
		},
		"notifications": map[string]any{
			"enabled":        true,
			"do_not_disturb": false,
			"dnd_start":      "",
			"dnd_end":        "",
			"history_max":    500,
			"desktop": map[string]any{
				"enabled":    true,
				"urgency":    "normal",
				"icon_path":  "",
				"timeout_ms": 5000,
			},
			"audio": map[string]any{
				"enabled":            true,
				"volume":             0.7,
				"backend_preference": []any{"beeep", "bell"},
				"sounds": map[string]any{
					"input_needed": "",
					"error":        "",
					"completed":    "",
					"default":      "",
				},
			},
			"toast": map[string]any{
				"enabled":         true,
				"display_seconds": 5,
				"max_visible":     3,
			},
			"routing": map[string]any{
				"input_needed": routing("high", true, true, true, true),
				"error":        routing("critical", true, true, true, true),
				"completed":    routing("medium", true, true, true, false),
				"session_idle": routing("low", false, false, true, false),
			},
			"slack": map[string]any{
				"enabled":       false,
				"webhook_url":   "",
				"verbosity":     10,
				"sessions":      []any{},
				"dedup_seconds": 0,
			},
			"telegram": map[string]any{
				"enabled":   false,
				"token":     "",
				"chat_id":   0,
				"thread_id": 0,
				"verbosity": 10,
				"sessions":  []any{},
			},
			"shoutrrr": map[string]any{
				"enabled":   false,
				"urls":      []any{},
				"verbosity": 10,
				"sessions":  []any{},
			},
			"journal": map[string]any{
				"driver": "none",
				"path":   "~/.local/share/tame/history.jsonl",
			},
		},
		"keybindings": map[string]any{
			"new_session":        "ctrl+n",
			"delete_session":     "ctrl+d",
			"rename_session":     "f2",
			"next_session":       "ctrl+down",
			"prev_session":       "ctrl+up",
			"resume_all":         "ctrl+r",
			"pause_all":          "ctrl+p",
			"stop_all":           "ctrl+shift+q",
			"toggle_sidebar":     "ctrl+b",
			"focus_search":       "/",
			"focus_input":        "ctrl+l",
			"save_state":         "ctrl+s",
			"toggle_theme":       "ctrl+t",
			"export_session_log": "ctrl+e",
			"quit":               "ctrl+q",
			"session_1":          "alt+1",
			"session_2":          "alt+2",
			"session_3":          "alt+3",
			"session_4":          "alt+4",
			"session_5":          "alt+5",
			"session_6":          "alt+6",
			"session_7":          "alt+7",
			"session_8":          "alt+8",
			"session_9":          "alt+9",
		},
	}
}

func routing(priority string, desktop, audio, toast, flash bool) map[string]any {
	return map[string]any{
		"priority":      priority,
		"desktop":       desktop,
		"audio":         audio,
		"toast":         toast,
		"sidebar_flash": flash,
	}
}
