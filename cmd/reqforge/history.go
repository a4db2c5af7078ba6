package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/unkn0wn-root/reqforge/internal/history"
)

var (
	historyLimit   int
	historyRequest string
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recorded request executions",
	RunE:  runHistory,
}

var historyClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete all recorded executions",
	RunE:  runHistoryClear,
}

func init() {
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "maximum number of entries to show")
	historyCmd.Flags().StringVar(&historyRequest, "request", "", "only show entries for this request id")
	historyCmd.AddCommand(historyClearCmd)
	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	store, err := openHistory(a)
	if err != nil {
		return err
	}
	defer store.Close()

	var entries []history.Entry
	if historyRequest != "" {
		entries, err = store.ByRequest(historyRequest)
	} else {
		entries, err = store.Entries(historyLimit)
	}
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println(dimColor.Sprint("no recorded executions"))
		return nil
	}
	for _, entry := range entries {
		printHistoryEntry(entry)
	}
	return nil
}

func runHistoryClear(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	store, err := openHistory(a)
	if err != nil {
		return err
	}
	defer store.Close()
	if err := store.Clear(); err != nil {
		return err
	}
	fmt.Println(dimColor.Sprint("history cleared"))
	return nil
}

func openHistory(a *app) (*history.Store, error) {
	return history.Open(a.settings.History.Path, a.settings.History.MaxEntries, a.log)
}

func printHistoryEntry(entry history.Entry) {
	when := entry.ExecutedAt.Local().Format("2006-01-02 15:04:05")
	fmt.Printf("%s  %s %s\n",
		dimColor.Sprint(when),
		methodColor.Sprint(entry.Method),
		urlColor.Sprint(entry.URL))
	if entry.Error != "" {
		fmt.Printf("    %s\n", errColor.Sprintf("failed: %s", entry.Error))
	} else {
		fmt.Printf("    %s %s\n",
			statusColor(entry.StatusCode).Sprint(entry.Status),
			dimColor.Sprintf("%s", entry.Duration.Round(time.Millisecond)))
	}
	if entry.BodySnippet != "" {
		fmt.Printf("    %s\n", dimColor.Sprint(entry.BodySnippet))
	}
}
