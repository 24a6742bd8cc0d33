/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>
*/
package main

import (
	"github.com/spf13/cobra"
)

var catCmd = &cobra.Command{
	Use:   "cat PATH",
	Short: "write a file to stdout",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		i, err := openImage()
		if err != nil {
			return err
		}
		defer i.Close()
		data, err := i.ReadFile(args[0])
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(data)
		return err
	},
}

func init() {
	rootCmd.AddCommand(catCmd)
}
