package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/unkn0wn-root/reqforge/internal/errdef"
	"github.com/unkn0wn-root/reqforge/internal/reqdef"
	"github.com/unkn0wn-root/reqforge/internal/sioconn"
	"github.com/unkn0wn-root/reqforge/internal/stream"
	"github.com/unkn0wn-root/reqforge/internal/wsconn"
)

var (
	wsSend     []string
	wsFormat   string
	listenFor  time.Duration
	emitEvent  string
	emitArgs   []string
	argFormats []string
	emitAck    bool
	savedName  string
)

var wsCmd = &cobra.Command{
	Use:   "ws <definition.json>",
	Short: "Open a WebSocket session and stream its log",
	Args:  cobra.ExactArgs(1),
	RunE:  runWS,
}

var sioCmd = &cobra.Command{
	Use:   "sio <definition.json>",
	Short: "Open a Socket.IO session and stream its log",
	Args:  cobra.ExactArgs(1),
	RunE:  runSIO,
}

func init() {
	wsCmd.Flags().StringArrayVar(&wsSend, "send", nil, "message to send after connecting (repeatable)")
	wsCmd.Flags().StringVar(&wsFormat, "format", "text", "outbound message format: text, json or binary")
	wsCmd.Flags().DurationVar(&listenFor, "listen", 30*time.Second, "how long to keep the session open")
	wsCmd.Flags().StringVar(&savedName, "message", "", "send a saved message from the definition by name")
	rootCmd.AddCommand(wsCmd)

	sioCmd.Flags().StringVar(&emitEvent, "emit", "", "event name to emit after connecting")
	sioCmd.Flags().StringArrayVar(&emitArgs, "arg", nil, "event argument (repeatable)")
	sioCmd.Flags().StringArrayVar(&argFormats, "arg-format", nil, "format per argument: text, json or binary")
	sioCmd.Flags().BoolVar(&emitAck, "ack", false, "request an acknowledgement for the emitted event")
	sioCmd.Flags().DurationVar(&listenFor, "listen", 30*time.Second, "how long to keep the session open")
	sioCmd.Flags().StringVar(&savedName, "message", "", "emit a saved message from the definition by name")
	rootCmd.AddCommand(sioCmd)
}

func runWS(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	def, err := loadDefinition(args[0])
	if err != nil {
		return err
	}

	sessions := stream.NewManager()
	mgr := wsconn.NewManager(sessions, a.env, a.log, wsconn.Options{
		HandshakeTimeout: a.settings.Socket.HandshakeTimeout.Std(),
		SendQueue:        a.settings.Socket.SendQueue,
	})

	if err := mgr.Connect(ctx, def); err != nil {
		return err
	}
	session := sessions.Get(def.ID, stream.KindWebSocket)
	if session == nil {
		return nil
	}
	listener := session.Subscribe()
	defer listener.Cancel()
	for _, msg := range listener.Snapshot.Messages {
		printMessage(msg)
	}

	format, err := parseFormat(wsFormat)
	if err != nil {
		return err
	}
	outbound := wsSend
	if savedName != "" {
		saved, err := findSavedMessage(def, savedName)
		if err != nil {
			return err
		}
		outbound = append(outbound, saved.Content)
		format = saved.Format
	}
	for _, message := range outbound {
		if err := mgr.Send(ctx, def.ID, message, format); err != nil {
			return err
		}
	}

	drain(ctx, session, listener, listenFor)
	return mgr.Disconnect(context.Background(), def.ID)
}

func runSIO(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	def, err := loadDefinition(args[0])
	if err != nil {
		return err
	}

	sessions := stream.NewManager()
	mgr := sioconn.NewManager(sessions, a.env, a.log, sioconn.Options{
		HandshakeTimeout: a.settings.Socket.HandshakeTimeout.Std(),
		SendQueue:        a.settings.Socket.SendQueue,
	})

	if err := mgr.Connect(ctx, def); err != nil {
		return err
	}
	session := sessions.Get(def.ID, stream.KindSocketIO)
	if session == nil {
		return nil
	}
	listener := session.Subscribe()
	defer listener.Cancel()
	for _, msg := range listener.Snapshot.Messages {
		printMessage(msg)
	}

	if savedName != "" {
		saved, err := findSavedMessage(def, savedName)
		if err != nil {
			return err
		}
		emitErr := mgr.Emit(ctx, def.ID, saved.EventName, []sioconn.EmitArg{
			{Content: saved.Content, Format: saved.Format},
		}, saved.Ack)
		if emitErr != nil {
			return emitErr
		}
	}
	if emitEvent != "" {
		emitArgList, err := buildEmitArgs(emitArgs, argFormats)
		if err != nil {
			return err
		}
		if err := mgr.Emit(ctx, def.ID, emitEvent, emitArgList, emitAck); err != nil {
			return err
		}
	}

	drain(ctx, session, listener, listenFor)
	return mgr.Disconnect(context.Background(), def.ID)
}

// drain prints live log entries until the session ends, the listen window
// elapses, or the command context is cancelled.
func drain(ctx context.Context, session *stream.Session, listener stream.Listener, window time.Duration) {
	timer := time.NewTimer(window)
	defer timer.Stop()
	for {
		select {
		case msg, ok := <-listener.C:
			if !ok {
				return
			}
			printMessage(msg)
		case <-session.Done():
			return
		case <-timer.C:
			return
		case <-ctx.Done():
			return
		}
	}
}

func parseFormat(raw string) (reqdef.MessageFormat, error) {
	switch raw {
	case "", "text":
		return reqdef.FormatText, nil
	case "json":
		return reqdef.FormatJSON, nil
	case "binary":
		return reqdef.FormatBinary, nil
	default:
		return "", errdef.New(errdef.CodeValidation, "unknown message format %q", raw)
	}
}

func findSavedMessage(def *reqdef.Definition, name string) (*reqdef.SavedMessage, error) {
	for i := range def.SavedMessages {
		if def.SavedMessages[i].Name == name {
			return &def.SavedMessages[i], nil
		}
	}
	return nil, errdef.New(errdef.CodeValidation, "no saved message named %q", name)
}

func buildEmitArgs(values, formats []string) ([]sioconn.EmitArg, error) {
	args := make([]sioconn.EmitArg, 0, len(values))
	for i, value := range values {
		format := reqdef.FormatText
		if i < len(formats) {
			parsed, err := parseFormat(formats[i])
			if err != nil {
				return nil, err
			}
			format = parsed
		}
		args = append(args, sioconn.EmitArg{Content: value, Format: format})
	}
	return args, nil
}
