/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>
*/
package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "show volume geometry and ramfs usage",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		i, err := openImage()
		if err != nil {
			return err
		}
		defer i.Close()
		info, err := i.VFS().Volume().Info()
		if err != nil {
			return err
		}
		keys := make([]string, 0, len(info))
		for key := range info {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		out := cmd.OutOrStdout()
		for _, key := range keys {
			fmt.Fprintf(out, "%s: %v\n", key, info[key])
		}
		used, capacity := i.VFS().Ramfs().Usage()
		fmt.Fprintf(out, "ramfs: %d/%d entries\n", used, capacity)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(infoCmd)
}
