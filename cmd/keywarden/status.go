// status.go: Report provider, key store and keyfile state
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/agilira/keywarden/audit"
)

var statusEvents int

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show key manager status",
	Long:  "Display memory protection, secure memory usage, key store state, the keyfile and recent audit events.",
	Args:  cobra.NoArgs,
	RunE:  showStatus,
}

func init() {
	statusCmd.Flags().IntVar(&statusEvents, "events", 5, "number of recent audit events to show")
	rootCmd.AddCommand(statusCmd)
}

func showStatus(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	p := session.Provider

	fmt.Fprintln(out, "Keywarden Status")
	fmt.Fprintln(out, "================")
	fmt.Fprintf(out, "Session:           %s\n", sessionID)
	fmt.Fprintf(out, "Memory Protection: %s\n", p.MemoryProtection())
	if p.SecureMemory() {
		fmt.Fprintf(out, "Secure Memory:     %d of %d bytes in use\n", p.SecureMemoryInUse(), p.SecureMemoryBudget())
	} else {
		fmt.Fprintln(out, "Secure Memory:     disabled")
	}
	fmt.Fprintf(out, "Key Slots:         %d (active: %d)\n", session.Store.Capacity(), session.Store.ActiveCount())
	fmt.Fprintf(out, "Algorithm:         %s, %d bytes\n", config.Algorithm, config.KeySize)
	fmt.Fprintf(out, "Entropy:           %s\n", config.Entropy)
	if session.HSM != nil {
		fmt.Fprintf(out, "HSM Providers:     %s\n", strings.Join(session.HSM.Providers(), ", "))
	}

	if info, err := os.Stat(config.KeyFile); err != nil {
		fmt.Fprintf(out, "Keyfile:           %s (missing)\n", config.KeyFile)
	} else {
		state := "ok"
		if info.Size() != int64(config.KeySize) {
			state = fmt.Sprintf("size mismatch, expected %d", config.KeySize)
		}
		fmt.Fprintf(out, "Keyfile:           %s (%d bytes, %s, %s)\n", config.KeyFile, info.Size(), info.Mode().Perm(), state)
	}

	if !config.Audit.Enabled || statusEvents <= 0 {
		return nil
	}
	result, err := session.Audit.Query(audit.QueryOptions{Limit: statusEvents})
	if err != nil {
		fmt.Fprintf(out, "Audit:             ERROR - %v\n", err)
		return nil
	}
	fmt.Fprintf(out, "\nRecent Audit Events (%d total):\n", result.TotalCount)
	for _, e := range result.Events {
		mark := "ok"
		if !e.Success {
			mark = "FAILED"
		}
		fmt.Fprintf(out, "  %s  %-12s %-6s %s\n", e.Timestamp.Format(time.RFC3339), e.Action, mark, e.Error)
	}
	return nil
}
