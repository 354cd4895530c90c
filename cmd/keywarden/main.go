// main.go: keywarden command line entry point
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package main

import (
	"fmt"
	"os"

	"github.com/awnumar/memguard"

	"github.com/agilira/keywarden"
)

// Exit codes.
const (
	exitOK    = 0
	exitError = 1
	exitFatal = 2
)

// exit purges every memguard enclave before terminating the process.
var exit = memguard.SafeExit

func main() {
	memguard.CatchInterrupt()
	exit(run())
}

func run() int {
	err := rootCmd.Execute()

	// PersistentPostRunE is skipped when a command fails.
	if cerr := closeSession(rootCmd, nil); cerr != nil && err == nil {
		err = cerr
	}

	if err == nil {
		return exitOK
	}
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	return exitCode(err)
}

func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case keywarden.IsFatal(err):
		return exitFatal
	}
	return exitError
}
