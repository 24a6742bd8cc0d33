/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>
*/
package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var treeCmd = &cobra.Command{
	Use:   "tree",
	Short: "list every file of the merged tree",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		i, err := openImage()
		if err != nil {
			return err
		}
		defer i.Close()
		records, err := i.ScanFiles()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		for _, record := range records {
			var attrs string
			if record.Dir {
				attrs += "d"
			}
			if record.Ramfs {
				attrs += "m"
			}
			if record.ReadOnly {
				attrs += "r"
			}
			if record.Hidden {
				attrs += "h"
			}
			if record.System {
				attrs += "s"
			}
			fmt.Fprintf(out, "%-4s %10d %s\n", attrs, record.Size, record.Name)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(treeCmd)
}
