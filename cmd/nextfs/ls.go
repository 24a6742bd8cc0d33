/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>
*/
package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var lsCmd = &cobra.Command{
	Use:   "ls [PATH]",
	Short: "list a directory of the merged tree",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := "/"
		if len(args) > 0 {
			dir = args[0]
		}
		i, err := openImage()
		if err != nil {
			return err
		}
		defer i.Close()
		nodes, err := i.VFS().List(dir)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		for _, node := range nodes {
			kind := "-"
			if node.IsDir() {
				kind = "d"
			}
			fmt.Fprintf(out, "%s %10d %s\n", kind, node.Size, node.Name)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(lsCmd)
}
