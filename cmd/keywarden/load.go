// load.go: Load a keyfile, regenerating it when allowed
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/agilira/keywarden"
)

var (
	loadAutogen bool
	loadPersist bool
)

var loadCmd = &cobra.Command{
	Use:   "load",
	Short: "Load the key from the keyfile",
	Long: `Load the key from the keyfile and print its fingerprint. With --autogen an
unreadable or wrongly sized keyfile is replaced by a new key, which is written
back unless --persist=false. A failed forced regeneration exits with code 2.`,
	Args: cobra.NoArgs,
	RunE: runLoad,
}

func init() {
	loadCmd.Flags().BoolVar(&loadAutogen, "autogen", false, "generate a new key when the keyfile cannot be used")
	loadCmd.Flags().BoolVar(&loadPersist, "persist", true, "write a generated key back to the keyfile")
	rootCmd.AddCommand(loadCmd)
}

func runLoad(cmd *cobra.Command, args []string) error {
	lc := session.Lifecycle
	if loadAutogen || config.Autogen {
		lc.Autogen().Enable()
	}

	var (
		outcome keywarden.LoadOutcome
		err     error
	)
	if loadPersist {
		outcome, err = lc.LoadOrCreate(config.KeyFile, 0, config.KeySize)
	} else {
		outcome, err = lc.Load(config.KeyFile, 0, config.KeySize)
	}
	if err != nil && outcome == keywarden.OutcomeNone {
		return err
	}
	if err != nil {
		log.Warnf("%v", err)
	}

	mk, serr := session.Store.Slot(0)
	if serr != nil {
		return serr
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Keyfile:     %s\n", config.KeyFile)
	fmt.Fprintf(out, "Outcome:     %s\n", outcome)
	fmt.Fprintf(out, "Algorithm:   %s\n", mk.Algorithm())
	fmt.Fprintf(out, "Size:        %d bytes\n", mk.Size())
	fmt.Fprintf(out, "Fingerprint: %s\n", mk.Fingerprint())
	fmt.Fprintf(out, "Secure:      %v\n", mk.SecureMemory())
	fmt.Fprintf(out, "Since:       %s\n", mk.CreatedAt().Format(time.RFC3339))
	if outcome.Fresh() && !loadPersist {
		log.Warnf("the generated key was not written to %s", config.KeyFile)
	}
	return err
}
