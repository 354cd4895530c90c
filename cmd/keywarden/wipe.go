// wipe.go: Destroy files with a multi-pass random overwrite
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

var wipeCmd = &cobra.Command{
	Use:   "wipe [file...]",
	Short: "Overwrite files with random data and delete them",
	Long: `Overwrite each file (the keyfile when none is given) with random bytes for
the configured number of passes, then unlink it. A file whose overwrite
failed is left in place.`,
	RunE: runWipe,
}

func init() {
	wipeCmd.Flags().IntP("passes", "n", 0, "number of overwrite passes (default from config)")
	bindFlagOrPanic(wipeCmd.Flags(), "wipe_passes", "passes")
	rootCmd.AddCommand(wipeCmd)
}

func runWipe(cmd *cobra.Command, args []string) error {
	files := args
	if len(files) == 0 {
		files = []string{config.KeyFile}
	}

	var errs []error
	for _, f := range files {
		if err := session.Wiper.WipeFile(f, config.WipePasses); err != nil {
			log.Errorf("%v", err)
			errs = append(errs, err)
			continue
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Wiped %s (%d passes)\n", f, config.WipePasses)
	}
	return errors.Join(errs...)
}
