/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>
*/
package main

import (
	"github.com/rstms/nextfs/image"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rewriteCmd = &cobra.Command{
	Use:   "rewrite SRC DST",
	Short: "copy the files of an image into a freshly formatted one",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		size := viper.GetInt64("rewrite.size") * image.MB
		return image.RewriteImage(hostFs(), args[1], args[0], size)
	},
}

func init() {
	rootCmd.AddCommand(rewriteCmd)
	rewriteCmd.Flags().Int64P("size", "s", 0, "output image size in MB (default: source size)")
	viper.BindPFlag("rewrite.size", rewriteCmd.Flags().Lookup("size"))
}
