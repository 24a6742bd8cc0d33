/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>
*/
package main

import (
	"fmt"
	"os"

	"github.com/rstms/nextfs/image"
	"github.com/rstms/nextfs/ramfs"
	"github.com/rstms/nextfs/vfs"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "nextfs",
	Short: "inspect and build NextOS disk images",
	Long: `
Mount a FAT32 disk image the way the NextOS kernel does: the ramfs
directories Desktop, Documents and Images overlay the disk root, and a
synthetic nextos.cfg is always present.
`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if viper.GetBool("verbose") {
			log.SetLevel(log.DebugLevel)
		}
	},
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.nextfs.yaml)")
	rootCmd.PersistentFlags().StringP("image", "i", "disk.img", "disk image file")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "debug output")
	viper.BindPFlag("image", rootCmd.PersistentFlags().Lookup("image"))
	viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
	viper.SetDefault("ramfs.entries", ramfs.DefaultCapacity)
	viper.SetDefault("ramfs.max_file_size", ramfs.DefaultMaxFileSize)
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)
		viper.AddConfigPath(home)
		viper.SetConfigType("yaml")
		viper.SetConfigName(".nextfs")
	}
	viper.SetEnvPrefix("NEXTFS")
	viper.AutomaticEnv()
	if err := viper.ReadInConfig(); err == nil {
		log.Debugf("using config file: %s", viper.ConfigFileUsed())
	}
}

func hostFs() afero.Fs {
	return afero.NewOsFs()
}

func vfsOptions() []vfs.Option {
	ram := ramfs.New(
		ramfs.WithCapacity(viper.GetInt("ramfs.entries")),
		ramfs.WithMaxFileSize(viper.GetInt("ramfs.max_file_size")),
	)
	return []vfs.Option{vfs.WithRamfs(ram)}
}

func openImage() (*image.Image, error) {
	filename := viper.GetString("image")
	i, err := image.OpenImage(hostFs(), filename, vfsOptions()...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	return i, nil
}
