// genkey.go: Generate a key and write it to a keyfile
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var genkeyForce bool

var genkeyCmd = &cobra.Command{
	Use:   "genkey",
	Short: "Generate a new key and write it to the keyfile",
	Long: `Generate a fresh random key in locked memory and dump it to the keyfile
with mode 0600. An existing keyfile is only replaced with --force; use wipe to
destroy the old one first.`,
	Args: cobra.NoArgs,
	RunE: runGenkey,
}

func init() {
	genkeyCmd.Flags().BoolVarP(&genkeyForce, "force", "f", false, "overwrite an existing keyfile")
	rootCmd.AddCommand(genkeyCmd)
}

func runGenkey(cmd *cobra.Command, args []string) error {
	keyfile := config.KeyFile
	if _, err := os.Stat(keyfile); err == nil && !genkeyForce {
		return fmt.Errorf("keyfile %s already exists (use --force to overwrite)", keyfile)
	}

	lc := session.Lifecycle
	if err := lc.Generate(0, config.KeySize); err != nil {
		return err
	}
	if err := lc.Dump(keyfile, 0); err != nil {
		return err
	}

	mk, err := session.Store.Slot(0)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Generated %d byte %s key %s in %s\n", mk.Size(), mk.Algorithm(), mk.Fingerprint(), keyfile)
	return nil
}
