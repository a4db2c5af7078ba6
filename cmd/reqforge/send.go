package main

import (
	"github.com/spf13/cobra"

	"github.com/unkn0wn-root/reqforge/internal/compose"
	"github.com/unkn0wn-root/reqforge/internal/cookies"
	"github.com/unkn0wn-root/reqforge/internal/history"
	"github.com/unkn0wn-root/reqforge/internal/httpexec"
	"github.com/unkn0wn-root/reqforge/internal/reqdef"
	"github.com/unkn0wn-root/reqforge/internal/watch"
)

var (
	noHistory bool
	watchFile bool
)

// workspaceAuth adapts the settings default-auth block to the composer's
// INHERIT lookup.
type workspaceAuth struct {
	cfg *reqdef.AuthConfig
}

func (w workspaceAuth) DefaultAuth() *reqdef.AuthConfig { return w.cfg }

var sendCmd = &cobra.Command{
	Use:   "send <definition.json>",
	Short: "Compose and send an HTTP request definition",
	Args:  cobra.ExactArgs(1),
	RunE:  runSend,
}

func init() {
	sendCmd.Flags().BoolVar(&noHistory, "no-history", false, "skip recording this send")
	sendCmd.Flags().BoolVarP(&watchFile, "watch", "w", false, "re-send whenever the definition file changes")
	rootCmd.AddCommand(sendCmd)
}

func runSend(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}

	path := args[0]
	def, err := loadDefinition(path)
	if err != nil {
		return err
	}

	exec := httpexec.New(httpexec.Options{
		Timeout:            a.settings.HTTP.Timeout.Std(),
		FollowRedirects:    a.settings.HTTP.FollowRedirects,
		InsecureSkipVerify: a.settings.HTTP.InsecureSkipVerify,
		ProxyURL:           a.settings.HTTP.ProxyURL,
	})

	sink := &consoleSink{verbose: verbose}
	composer := compose.NewComposer(exec, a.env, cookies.NewJar(), sink, a.log, compose.Options{
		UserAgent: a.settings.HTTP.UserAgent,
	})
	composer.SetCaptureSink(a.env)
	composer.SetWorkspaceAuth(workspaceAuth{cfg: a.settings.Auth.Config()})

	if !noHistory {
		store, err := history.Open(a.settings.History.Path, a.settings.History.MaxEntries, a.log)
		if err != nil {
			return err
		}
		defer store.Close()
		composer.SetRecorder(store)
	}

	if _, err := composer.Send(ctx, def); err != nil {
		if !watchFile {
			return err
		}
	}
	if !watchFile {
		return nil
	}

	dimColor.Printf("watching %s, ctrl-c to stop\n", path)
	watch.File(ctx, path, 0, func() {
		next, err := loadDefinition(path)
		if err != nil {
			errColor.Printf("reload failed: %s\n", err)
			return
		}
		_, _ = composer.Send(ctx, next)
	})
	return nil
}
