// Copyright 2025 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package cmd is the scmfuse command-line entry point: a Cobra root
// command carrying the mount subcommand, wired to cfg for flag/env/file
// resolution.
package cmd

import (
	"fmt"
	"os"

	"github.com/googlecloudplatform/scmfuse/cfg"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile       string
	bindErr       error
	configFileErr error
	decodeErr     error
	resolvedCfg   *cfg.Config
)

var rootCmd = &cobra.Command{
	Use:   "scmfuse",
	Short: "Mount a source-control tree as a local filesystem",
	Long: `scmfuse is a FUSE/NFS adapter that lets a source-control working
tree appear as a local directory without a full checkout, fetching trees
and blobs from the object store lazily as the kernel asks for them.`,
	SilenceUsage: true,
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config-file", "", "path to a YAML config file")
	bindErr = cfg.BindFlags(rootCmd.PersistentFlags())
	if bindErr == nil {
		bindErr = cfg.BindViper(viper.GetViper(), rootCmd.PersistentFlags())
	}
	rootCmd.AddCommand(mountCmd)
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
		viper.SetConfigType("yaml")
		if err := viper.ReadInConfig(); err != nil {
			configFileErr = fmt.Errorf("reading config file: %w", err)
			return
		}
	}

	c, err := cfg.Decode(viper.GetViper())
	if err != nil {
		decodeErr = err
		return
	}
	resolvedCfg = c
}

// Execute runs the root command, exiting the process with status 1 on
// any error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
