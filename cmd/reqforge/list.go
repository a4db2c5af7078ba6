package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/unkn0wn-root/reqforge/internal/defs"
)

var listRecursive bool

var listCmd = &cobra.Command{
	Use:   "list [directory]",
	Short: "List request definition files in a directory",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runList,
}

func init() {
	listCmd.Flags().BoolVarP(&listRecursive, "recursive", "r", false, "descend into subdirectories")
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	root := "."
	if len(args) == 1 {
		root = args[0]
	}
	entries, err := defs.List(root, listRecursive)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println(dimColor.Sprint("no request definitions found"))
		return nil
	}
	for _, entry := range entries {
		fmt.Printf("%s  %s %s\n",
			entry.Name,
			methodColor.Sprint(entry.Method),
			urlColor.Sprint(entry.URL))
	}
	return nil
}
