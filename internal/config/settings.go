package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"strings"
	"time"
)

// Settings is the typed view of a Document.
//
// Sections that only the UI reads (theme, keybindings) are carried as-is.
type Settings struct {
	General       GeneralSettings      `json:"general"`
	Sessions      SessionSettings      `json:"sessions"`
	Notifications NotificationSettings `json:"notifications"`
	Keybindings   map[string]string    `json:"keybindings"`
}

type GeneralSettings struct {
	StateFile           string `json:"state_file"`
	LogFile             string `json:"log_file"`
	LogLevel            string `json:"log_level"`
	LogJournal          bool   `json:"log_journal"`
	MaxBufferLines      int    `json:"max_buffer_lines"`
	ResourcePollSeconds int    `json:"resource_poll_seconds"`

	// MetricsAddr enables the /metrics and pprof server when non-empty.
	MetricsAddr string `json:"metrics_addr"`
}

type SessionSettings struct {
	IdleThresholdSeconds float64 `json:"idle_threshold_seconds"`
	StateDebounceMS      int     `json:"state_debounce_ms"`
	// IdleCheck is a robfig/cron spec, e.g. "@every 5s".
	IdleCheck string `json:"idle_check"`
	Shell     string `json:"default_shell"`
}

func (s SessionSettings) IdleThreshold() time.Duration {
	return time.Duration(s.IdleThresholdSeconds * float64(time.Second))
}

func (s SessionSettings) StateDebounce() time.Duration {
	return time.Duration(s.StateDebounceMS) * time.Millisecond
}

type NotificationSettings struct {
	Enabled      bool   `json:"enabled"`
	DoNotDisturb bool   `json:"do_not_disturb"`
	DNDStart     string `json:"dnd_start"`
	DNDEnd       string `json:"dnd_end"`
	HistoryMax   int    `json:"history_max"`

	Desktop DesktopSettings        `json:"desktop"`
	Audio   AudioSettings          `json:"audio"`
	Toast   ToastSettings          `json:"toast"`
	Routing map[string]RoutingRule `json:"routing"`

	Slack    WebhookSettings  `json:"slack"`
	Telegram TelegramSettings `json:"telegram"`
	Shoutrrr ShoutrrrSettings `json:"shoutrrr"`
	Journal  JournalSettings  `json:"journal"`
}

type DesktopSettings struct {
	Enabled   bool   `json:"enabled"`
	Urgency   string `json:"urgency"`
	IconPath  string `json:"icon_path"`
	TimeoutMS int    `json:"timeout_ms"`
}

type AudioSettings struct {
	Enabled           bool              `json:"enabled"`
	Volume            float64           `json:"volume"`
	BackendPreference []string          `json:"backend_preference"`
	Sounds            map[string]string `json:"sounds"`
}

type ToastSettings struct {
	Enabled        bool `json:"enabled"`
	DisplaySeconds int  `json:"display_seconds"`
	MaxVisible     int  `json:"max_visible"`
}

// RoutingRule selects the in-app hooks for one kind. Priority is a label
// only; it never changes an event's priority.
type RoutingRule struct {
	Priority     string `json:"priority"`
	Desktop      bool   `json:"desktop"`
	Audio        bool   `json:"audio"`
	Toast        bool   `json:"toast"`
	SidebarFlash bool   `json:"sidebar_flash"`
}

// WebhookSettings configures the chat webhook channel.
type WebhookSettings struct {
	Enabled      bool     `json:"enabled"`
	WebhookURL   string   `json:"webhook_url"`
	Verbosity    int      `json:"verbosity"`
	Sessions     []string `json:"sessions"`
	DedupSeconds int      `json:"dedup_seconds"`
}

type TelegramSettings struct {
	Enabled   bool     `json:"enabled"`
	Token     string   `json:"token"`
	ChatID    int64    `json:"chat_id"`
	ThreadID  int      `json:"thread_id"`
	Verbosity int      `json:"verbosity"`
	Sessions  []string `json:"sessions"`
}

type ShoutrrrSettings struct {
	Enabled   bool     `json:"enabled"`
	URLs      []string `json:"urls"`
	Verbosity int      `json:"verbosity"`
	Sessions  []string `json:"sessions"`
}

type JournalSettings struct {
	// Driver is one of "none", "file", "sqlite".
	Driver string `json:"driver"`
	Path   string `json:"path"`
}

// Decode converts a validated Document into Settings.
//
// Decoding is per field: a value that doesn't fit its field is coerced when
// the intent is unambiguous (2.5 for an integer, a lone string for a list),
// otherwise the field keeps its default. The returned Settings is always
// usable; the error lists every field that fell back.
func Decode(doc Document) (Settings, error) {
	s := MustDefaults()
	var problems []error
	assign(reflect.ValueOf(&s).Elem(), doc, "", &problems)
	return s, errors.Join(problems...)
}

// MustDefaults returns the typed view of Defaults.
func MustDefaults() Settings {
	b, err := json.Marshal(Defaults())
	if err != nil {
		panic(err)
	}
	var s Settings
	if err := json.Unmarshal(b, &s); err != nil {
		panic(fmt.Errorf("decode defaults: %w", err))
	}
	return s
}

// assign stores src into dst, which already holds the default. It reports
// false when src was rejected and dst left untouched.
func assign(dst reflect.Value, src any, path string, problems *[]error) bool {
	if src == nil {
		return true
	}
	reject := func() bool {
		*problems = append(*problems, fmt.Errorf("%s: cannot use %T value, keeping default", path, src))
		return false
	}

	switch dst.Kind() {
	case reflect.Struct:
		m, ok := asMap(src)
		if !ok {
			return reject()
		}
		t := dst.Type()
		for i := 0; i < t.NumField(); i++ {
			name, _, _ := strings.Cut(t.Field(i).Tag.Get("json"), ",")
			if name == "" || name == "-" {
				continue
			}
			if v, present := m[name]; present {
				assign(dst.Field(i), v, joinPath(path, name), problems)
			}
		}
		return true

	case reflect.Map:
		m, ok := asMap(src)
		if !ok {
			return reject()
		}
		out := reflect.MakeMapWithSize(dst.Type(), len(m))
		for _, k := range sortedKeys(m) {
			key := reflect.ValueOf(k)
			elem := reflect.New(dst.Type().Elem()).Elem()
			existing := dst.IsValid() && !dst.IsNil() && dst.MapIndex(key).IsValid()
			if existing {
				elem.Set(dst.MapIndex(key))
			}
			if !assign(elem, m[k], joinPath(path, k), problems) && !existing {
				continue
			}
			out.SetMapIndex(key, elem)
		}
		dst.Set(out)
		return true

	case reflect.Slice:
		items, ok := src.([]any)
		if !ok {
			if ss, isStrings := src.([]string); isStrings {
				for _, x := range ss {
					items = append(items, x)
				}
			} else if _, isMap := asMap(src); isMap {
				return reject()
			} else {
				items = []any{src}
			}
		}
		out := reflect.MakeSlice(dst.Type(), 0, len(items))
		for i, item := range items {
			elem := reflect.New(dst.Type().Elem()).Elem()
			if assign(elem, item, fmt.Sprintf("%s[%d]", path, i), problems) {
				out = reflect.Append(out, elem)
			}
		}
		dst.Set(out)
		return true

	case reflect.String:
		str, ok := src.(string)
		if !ok {
			return reject()
		}
		dst.SetString(str)
		return true

	case reflect.Bool:
		b, ok := src.(bool)
		if !ok {
			return reject()
		}
		dst.SetBool(b)
		return true

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, ok := toInt64(src)
		if !ok || dst.OverflowInt(n) {
			return reject()
		}
		dst.SetInt(n)
		return true

	case reflect.Float32, reflect.Float64:
		f, ok := toFloat(src)
		if !ok {
			return reject()
		}
		dst.SetFloat(f)
		return true

	case reflect.Interface:
		dst.Set(reflect.ValueOf(src))
		return true
	}
	return reject()
}

// toInt64 accepts integers as-is and truncates floats toward zero.
func toInt64(v any) (int64, bool) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u := rv.Uint()
		if u > math.MaxInt64 {
			return 0, false
		}
		return int64(u), true
	case reflect.Float32, reflect.Float64:
		f := rv.Float()
		if math.IsNaN(f) || math.IsInf(f, 0) || f > math.MaxInt64 || f < math.MinInt64 {
			return 0, false
		}
		return int64(math.Trunc(f)), true
	}
	return 0, false
}

func joinPath(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}
