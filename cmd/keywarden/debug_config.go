// debug_config.go: Show the effective configuration
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var debugConfigCmd = &cobra.Command{
	Use:   "debug-config",
	Short: "Show current configuration values",
	Long:  "Display the configuration values read from files, environment variables, flags and defaults",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Configuration Debug Information\n")
		fmt.Fprintf(out, "==============================\n\n")

		if viper.ConfigFileUsed() != "" {
			fmt.Fprintf(out, "Config file: %s\n", viper.ConfigFileUsed())
		} else {
			fmt.Fprintf(out, "Config file: none found\n")
		}

		fmt.Fprintf(out, "\nEnvironment Variables (KEYWARDEN_* prefix):\n")
		for _, env := range os.Environ() {
			if strings.HasPrefix(env, "KEYWARDEN_") {
				fmt.Fprintf(out, "  %s\n", env)
			}
		}

		cfg, err := loadConfig()
		fmt.Fprintf(out, "\nKey Configuration:\n")
		fmt.Fprintf(out, "  Keyfile: %s\n", cfg.KeyFile)
		fmt.Fprintf(out, "  Algorithm: %s\n", cfg.Algorithm)
		fmt.Fprintf(out, "  Key Size: %d\n", cfg.KeySize)
		fmt.Fprintf(out, "  Slots: %d\n", cfg.Capacity)
		fmt.Fprintf(out, "  Autogen: %v\n", cfg.Autogen)

		fmt.Fprintf(out, "\nMemory Configuration:\n")
		fmt.Fprintf(out, "  Secure Memory: %v\n", cfg.SecureMemory)
		fmt.Fprintf(out, "  Secure Memory Budget: %d\n", cfg.SecureMemoryBudget)
		fmt.Fprintf(out, "  Lock Memory: %v\n", cfg.LockMemory)
		fmt.Fprintf(out, "  Entropy: %s\n", cfg.Entropy)
		if cfg.Entropy == "hsm" {
			fmt.Fprintf(out, "  HSM Provider: %s (timeout %s)\n", cfg.HSM.DefaultProvider, cfg.HSM.OperationTimeout)
		}

		fmt.Fprintf(out, "\nWipe Configuration:\n")
		fmt.Fprintf(out, "  Passes: %d\n", cfg.WipePasses)
		fmt.Fprintf(out, "  Buffer Size: %d\n", cfg.WipeBufferSize)

		fmt.Fprintf(out, "\nAudit Configuration:\n")
		fmt.Fprintf(out, "  Enabled: %v\n", cfg.Audit.Enabled)
		fmt.Fprintf(out, "  Type: %s\n", cfg.Audit.Type)
		fmt.Fprintf(out, "  File Path: %s\n", viper.GetString("audit.options.file_path"))

		if err != nil {
			fmt.Fprintf(out, "\nValidation: %v\n", err)
		} else {
			fmt.Fprintf(out, "\nValidation: ok\n")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(debugConfigCmd)
}
