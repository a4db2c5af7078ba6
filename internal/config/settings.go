package config

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"github.com/sethvargo/go-envconfig"

	"github.com/unkn0wn-root/reqforge/internal/reqdef"
)

const (
	SettingsFormatTOML SettingsFormat = "toml"
	SettingsFormatJSON SettingsFormat = "json"
)

type SettingsFormat string

// Duration wraps time.Duration so "10s" style values work in both TOML and
// JSON settings files.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	return d.UnmarshalText([]byte(raw))
}

type HTTPSettings struct {
	Timeout            Duration `json:"timeout"              toml:"timeout"              env:"REQFORGE_HTTP_TIMEOUT"`
	FollowRedirects    bool     `json:"follow_redirects"     toml:"follow_redirects"     env:"REQFORGE_HTTP_FOLLOW_REDIRECTS"`
	InsecureSkipVerify bool     `json:"insecure_skip_verify" toml:"insecure_skip_verify" env:"REQFORGE_HTTP_INSECURE"`
	ProxyURL           string   `json:"proxy_url"            toml:"proxy_url"            env:"REQFORGE_HTTP_PROXY"`
	UserAgent          string   `json:"user_agent"           toml:"user_agent"           env:"REQFORGE_HTTP_USER_AGENT"`
}

type SocketSettings struct {
	HandshakeTimeout Duration `json:"handshake_timeout" toml:"handshake_timeout" env:"REQFORGE_SOCKET_HANDSHAKE_TIMEOUT"`
	SendQueue        int      `json:"send_queue"        toml:"send_queue"        env:"REQFORGE_SOCKET_SEND_QUEUE"`
}

type HistorySettings struct {
	Path       string `json:"path"        toml:"path"        env:"REQFORGE_HISTORY_PATH"`
	MaxEntries int    `json:"max_entries" toml:"max_entries" env:"REQFORGE_HISTORY_MAX_ENTRIES"`
}

// AuthSettings is the workspace-level default consulted when a definition's
// auth type is INHERIT. Type takes the reqdef auth type names; only the
// fields the named scheme reads matter.
type AuthSettings struct {
	Type     string `json:"type"     toml:"type"     env:"REQFORGE_AUTH_TYPE"`
	Username string `json:"username" toml:"username" env:"REQFORGE_AUTH_USERNAME"`
	Password string `json:"password" toml:"password" env:"REQFORGE_AUTH_PASSWORD"`
	Token    string `json:"token"    toml:"token"    env:"REQFORGE_AUTH_TOKEN"`
	Key      string `json:"key"      toml:"key"      env:"REQFORGE_AUTH_KEY"`
	Value    string `json:"value"    toml:"value"    env:"REQFORGE_AUTH_VALUE"`
	AddTo    string `json:"add_to"   toml:"add_to"   env:"REQFORGE_AUTH_ADD_TO"`
}

// Config maps the settings block to the model's auth union. Returns nil when
// no default is configured, which resolves INHERIT to no contribution.
func (a AuthSettings) Config() *reqdef.AuthConfig {
	switch reqdef.AuthType(strings.ToUpper(a.Type)) {
	case reqdef.AuthBasic:
		return &reqdef.AuthConfig{
			Type:  reqdef.AuthBasic,
			Basic: &reqdef.BasicAuth{Username: a.Username, Password: a.Password},
		}
	case reqdef.AuthBearer:
		return &reqdef.AuthConfig{
			Type:   reqdef.AuthBearer,
			Bearer: &reqdef.BearerAuth{Token: a.Token},
		}
	case reqdef.AuthAPIKey:
		placement := reqdef.APIKeyInHeader
		if strings.EqualFold(a.AddTo, string(reqdef.APIKeyInQuery)) {
			placement = reqdef.APIKeyInQuery
		}
		return &reqdef.AuthConfig{
			Type:   reqdef.AuthAPIKey,
			APIKey: &reqdef.APIKeyAuth{Key: a.Key, Value: a.Value, AddTo: placement},
		}
	default:
		return nil
	}
}

type Settings struct {
	LogLevel  string            `json:"log_level" toml:"log_level" env:"REQFORGE_LOG_LEVEL"`
	Variables map[string]string `json:"variables" toml:"variables"`
	HTTP      HTTPSettings      `json:"http"      toml:"http"`
	Socket    SocketSettings    `json:"socket"    toml:"socket"`
	History   HistorySettings   `json:"history"   toml:"history"`
	Auth      AuthSettings      `json:"auth"      toml:"auth"`
}

type SettingsHandle struct {
	Path   string
	Format SettingsFormat
}

func Dir() string {
	if dir := os.Getenv("REQFORGE_CONFIG_DIR"); dir != "" {
		return dir
	}
	base, err := os.UserConfigDir()
	if err != nil {
		home, homeErr := os.UserHomeDir()
		if homeErr != nil {
			return ".reqforge"
		}
		return filepath.Join(home, ".reqforge")
	}
	return filepath.Join(base, "reqforge")
}

func DefaultSettings() Settings {
	return Settings{
		LogLevel:  "info",
		Variables: map[string]string{},
		HTTP: HTTPSettings{
			Timeout:         Duration(30 * time.Second),
			FollowRedirects: true,
		},
		Socket: SocketSettings{
			HandshakeTimeout: Duration(30 * time.Second),
			SendQueue:        32,
		},
		History: HistorySettings{
			Path:       filepath.Join(Dir(), "history.db"),
			MaxEntries: 200,
		},
	}
}

// LoadSettings tries TOML first, then JSON, then falls back to defaults when
// neither file exists. Parse errors fail immediately but missing files just
// skip to the next format. Environment variables overlay whatever was read.
func LoadSettings(ctx context.Context) (Settings, SettingsHandle, error) {
	dir := Dir()
	candidates := []SettingsHandle{
		{Path: filepath.Join(dir, "settings.toml"), Format: SettingsFormatTOML},
		{Path: filepath.Join(dir, "settings.json"), Format: SettingsFormatJSON},
	}

	var accumulated error
	for _, candidate := range candidates {
		data, err := os.ReadFile(candidate.Path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			accumulated = errors.Join(
				accumulated,
				fmt.Errorf("read settings %q: %w", candidate.Path, err),
			)
			continue
		}

		settings, err := decodeSettings(data, candidate.Format)
		if err != nil {
			return Settings{}, SettingsHandle{}, fmt.Errorf(
				"parse settings %q: %w",
				candidate.Path,
				err,
			)
		}
		settings = normalize(settings)
		if err := envconfig.Process(ctx, &settings); err != nil {
			return Settings{}, SettingsHandle{}, fmt.Errorf("process env overrides: %w", err)
		}
		return settings, candidate, nil
	}

	if accumulated != nil {
		return Settings{}, SettingsHandle{}, accumulated
	}

	settings := DefaultSettings()
	if err := envconfig.Process(ctx, &settings); err != nil {
		return Settings{}, SettingsHandle{}, fmt.Errorf("process env overrides: %w", err)
	}
	return settings, SettingsHandle{
		Path:   candidates[0].Path,
		Format: SettingsFormatTOML,
	}, nil
}

func normalize(settings Settings) Settings {
	defaults := DefaultSettings()
	if settings.LogLevel == "" {
		settings.LogLevel = defaults.LogLevel
	}
	if settings.Variables == nil {
		settings.Variables = map[string]string{}
	}
	if settings.HTTP.Timeout <= 0 {
		settings.HTTP.Timeout = defaults.HTTP.Timeout
	}
	if settings.Socket.HandshakeTimeout <= 0 {
		settings.Socket.HandshakeTimeout = defaults.Socket.HandshakeTimeout
	}
	if settings.Socket.SendQueue <= 0 {
		settings.Socket.SendQueue = defaults.Socket.SendQueue
	}
	if settings.History.Path == "" {
		settings.History.Path = defaults.History.Path
	}
	if settings.History.MaxEntries <= 0 {
		settings.History.MaxEntries = defaults.History.MaxEntries
	}
	return settings
}

func decodeSettings(data []byte, format SettingsFormat) (Settings, error) {
	var settings Settings
	switch format {
	case SettingsFormatTOML:
		if err := toml.Unmarshal(data, &settings); err != nil {
			return Settings{}, err
		}
	case SettingsFormatJSON:
		decoder := json.NewDecoder(bytes.NewReader(data))
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&settings); err != nil {
			return Settings{}, err
		}
	default:
		return Settings{}, fmt.Errorf("unsupported settings format %q", format)
	}
	return settings, nil
}

func SaveSettings(settings Settings, handle SettingsHandle) error {
	settings = normalize(settings)
	path := handle.Path
	format := handle.Format
	if path == "" {
		path = filepath.Join(Dir(), "settings.toml")
	}
	if format == "" {
		format = SettingsFormatTOML
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("ensure settings directory: %w", err)
	}

	var (
		data []byte
		err  error
	)

	switch format {
	case SettingsFormatTOML:
		data, err = toml.Marshal(settings)
	case SettingsFormatJSON:
		buffer := &bytes.Buffer{}
		encoder := json.NewEncoder(buffer)
		encoder.SetIndent("", "  ")
		if err = encoder.Encode(settings); err == nil {
			data = buffer.Bytes()
		}
	default:
		return fmt.Errorf("unsupported settings format %q", format)
	}
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}

	if err := writeFileAtomic(path, data, 0o644); err != nil {
		return fmt.Errorf("write settings %q: %w", path, err)
	}
	return nil
}

// write to temp file then rename so readers never see partial/corrupt data.
// rename is atomic on most filesystems so the settings file is always valid.
func writeFileAtomic(path string, data []byte, perm fs.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".reqforge-settings-*.tmp")
	if err != nil {
		return err
	}

	tmpPath := tmp.Name()
	defer func() {
		_ = os.Remove(tmpPath)
	}()

	if _, err := tmp.Write(data); err != nil {
		closeErr := tmp.Close()
		if closeErr != nil {
			return errors.Join(err, closeErr)
		}
		return err
	}

	if err := tmp.Chmod(perm); err != nil {
		closeErr := tmp.Close()
		if closeErr != nil {
			return errors.Join(err, closeErr)
		}
		return err
	}

	if err := tmp.Close(); err != nil {
		return err
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return err
	}

	return nil
}
