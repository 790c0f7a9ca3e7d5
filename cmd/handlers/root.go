/*
Copyright © 2025 Your Name

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package handlers

import (
	"fmt"
	"os"

	"simdoc/internal/config"
	"github.com/spf13/cobra"
)

var cfgFile string

// NewRootCmd creates the root command with all subcommands attached
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "simdoc",
		Short: "Near-duplicate detection and clustering for news articles",
		Long: `simdoc ingests news articles, detects near-duplicates with
SimHash and MinHash fingerprints, and groups them into clusters.

It exposes a REST API for submission and lookup, and runs background
workers that re-score candidates with exact Jaccard similarity.`,
	}

	// Initialize configuration
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")

	rootCmd.AddCommand(NewServeCmd())
	rootCmd.AddCommand(NewInitCmd())
	rootCmd.AddCommand(NewHealthCmd())
	rootCmd.AddCommand(NewWorkerCmd())
	rootCmd.AddCommand(NewConfigCmd())
	rootCmd.AddCommand(NewOpenAPICmd())
	rootCmd.AddCommand(NewClearAllCmd())
	rootCmd.AddCommand(NewIntegrationTestCmd())

	return rootCmd
}

// Execute runs the root command
func Execute() {
	rootCmd := NewRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	_, err := config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}
}
