/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>
*/
package main

import (
	"fmt"

	"github.com/rstms/nextfs/image"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var mkimageCmd = &cobra.Command{
	Use:   "mkimage FILE",
	Short: "create a formatted FAT32 disk image",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		filename := args[0]
		if image.IsFile(filename) && !viper.GetBool("mkimage.force") {
			return fmt.Errorf("%s exists; use --force to overwrite", filename)
		}
		size := viper.GetInt64("mkimage.size") * image.MB
		i, err := image.CreateImage(hostFs(), filename, viper.GetString("mkimage.label"), viper.GetString("mkimage.oem"), size, vfsOptions()...)
		if err != nil {
			return err
		}
		defer i.Close()
		if dir := viper.GetString("mkimage.import"); dir != "" {
			if err := i.Import(hostFs(), dir); err != nil {
				return err
			}
		}
		log.Debugf("created %s", filename)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(mkimageCmd)
	mkimageCmd.Flags().Int64P("size", "s", 64, "image size in MB")
	mkimageCmd.Flags().StringP("label", "l", "NEXTOS", "volume label")
	mkimageCmd.Flags().String("oem", "NEXTOS", "OEM name")
	mkimageCmd.Flags().String("import", "", "copy the contents of a host directory into the image")
	mkimageCmd.Flags().BoolP("force", "f", false, "overwrite an existing file")
	viper.BindPFlag("mkimage.size", mkimageCmd.Flags().Lookup("size"))
	viper.BindPFlag("mkimage.label", mkimageCmd.Flags().Lookup("label"))
	viper.BindPFlag("mkimage.oem", mkimageCmd.Flags().Lookup("oem"))
	viper.BindPFlag("mkimage.import", mkimageCmd.Flags().Lookup("import"))
	viper.BindPFlag("mkimage.force", mkimageCmd.Flags().Lookup("force"))
}
