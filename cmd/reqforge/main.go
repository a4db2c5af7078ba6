package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/unkn0wn-root/reqforge/internal/config"
	"github.com/unkn0wn-root/reqforge/internal/errdef"
	"github.com/unkn0wn-root/reqforge/internal/reqdef"
	"github.com/unkn0wn-root/reqforge/internal/vars"
)

var (
	version = "dev"
	commit  = "unknown"
)

var verbose bool

var rootCmd = &cobra.Command{
	Use:   "reqforge",
	Short: "Compose, send and stream API request definitions",
	Long: `reqforge turns stored request definitions into live HTTP requests or
WebSocket / Socket.IO sessions: variable substitution, auth resolution,
body encoding, cookie handling and per-request message logs.

Examples:
  reqforge send login.json
  reqforge ws chat.json --send "hello" --listen 30s
  reqforge sio feed.json --emit subscribe --arg '{"room":"lobby"}' --arg-format json
  reqforge history --limit 20`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", errdef.Message(err))
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "show request and response headers")
	rootCmd.Version = fmt.Sprintf("%s (%s)", version, commit)
}

// app bundles the pieces every command needs.
type app struct {
	settings config.Settings
	handle   config.SettingsHandle
	log      zerolog.Logger
	env      *envStore
}

func newApp(ctx context.Context) (*app, error) {
	settings, handle, err := config.LoadSettings(ctx)
	if err != nil {
		return nil, err
	}
	return &app{
		settings: settings,
		handle:   handle,
		log:      newLogger(settings.LogLevel),
		env:      newEnvStore(settings.Variables),
	}, nil
}

func newLogger(level string) zerolog.Logger {
	parsed, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || parsed == zerolog.NoLevel {
		parsed = zerolog.InfoLevel
	}
	writer := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}
	return zerolog.New(writer).With().Timestamp().Logger().Level(parsed)
}

func loadDefinition(path string) (*reqdef.Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errdef.Wrap(errdef.CodeFilesystem, err, "read definition %s", path)
	}
	var def reqdef.Definition
	if err := json.Unmarshal(data, &def); err != nil {
		return nil, errdef.Wrap(errdef.CodeValidation, err, "parse definition %s", path)
	}
	if def.ID == "" {
		def.ID = path
	}
	return &def, nil
}

// envStore is the mutable environment surface: seeded from settings, grown
// by response captures, read fresh on every compose/connect call.
type envStore struct {
	mu   sync.Mutex
	vars vars.Env
}

func newEnvStore(seed map[string]string) *envStore {
	env := make(vars.Env, len(seed))
	for k, v := range seed {
		env[k] = v
	}
	return &envStore{vars: env}
}

func (s *envStore) Vars() vars.Env {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(vars.Env, len(s.vars))
	for k, v := range s.vars {
		out[k] = v
	}
	return out
}

func (s *envStore) SetVar(name, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vars[name] = value
}
