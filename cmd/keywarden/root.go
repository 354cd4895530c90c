// root.go: Root command, configuration loading and session setup
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/agilira/keywarden"
	"github.com/agilira/keywarden/internal/logging"
)

var (
	cfgFile   string
	verbose   bool
	debug     bool
	log       logging.Logger
	session   *keywarden.Session
	config    keywarden.Config
	sessionID string
)

var rootCmd = &cobra.Command{
	Use:   "keywarden",
	Short: "Generate, load and destroy symmetric keyfiles",
	Long: `keywarden manages a symmetric key kept in locked memory: it generates keys,
loads them from keyfiles (optionally regenerating unreadable ones), writes them
back, and destroys keyfiles with a multi-pass random overwrite.`,
	SilenceUsage:       true,
	SilenceErrors:      true,
	PersistentPreRunE:  openSession,
	PersistentPostRunE: closeSession,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.keywarden.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "print informational messages")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "print debug messages")

	rootCmd.PersistentFlags().StringP("keyfile", "k", "", "keyfile path (default "+keywarden.DefaultKeyFile+")")
	rootCmd.PersistentFlags().IntP("size", "s", 0, "key size in bytes (default from algorithm)")
	rootCmd.PersistentFlags().String("algorithm", "", "key algorithm (aes-128, aes-192, aes-256, chacha20)")
	rootCmd.PersistentFlags().Bool("secure-memory", true, "keep keys in locked memory")
	rootCmd.PersistentFlags().Bool("lock-memory", false, "mlock the whole process")
	rootCmd.PersistentFlags().String("entropy", "", "entropy source for keys (system, hsm)")

	flags := rootCmd.PersistentFlags()
	bindFlagOrPanic(flags, "keyfile", "keyfile")
	bindFlagOrPanic(flags, "key_size", "size")
	bindFlagOrPanic(flags, "algorithm", "algorithm")
	bindFlagOrPanic(flags, "secure_memory", "secure-memory")
	bindFlagOrPanic(flags, "lock_memory", "lock-memory")
	bindFlagOrPanic(flags, "entropy", "entropy")

	rootCmd.PersistentFlags().Bool("audit", false, "enable audit logging")
	rootCmd.PersistentFlags().String("audit-file", "", "audit log file path")

	bindFlagOrPanic(flags, "audit.enabled", "audit")
	bindFlagOrPanic(flags, "audit.options.file_path", "audit-file")
}

func bindFlagOrPanic(flags *pflag.FlagSet, configKey, flagName string) {
	if err := viper.BindPFlag(configKey, flags.Lookup(flagName)); err != nil {
		panic(fmt.Sprintf("failed to bind %s flag: %v", flagName, err))
	}
}

func initConfig() {
	setDefaults()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		if home, err := os.UserHomeDir(); err == nil {
			viper.AddConfigPath(home)
		}
		viper.AddConfigPath(".")
		viper.AddConfigPath("/etc/keywarden")

		viper.SetConfigType("yaml")
		viper.SetConfigName(".keywarden")
	}

	viper.SetEnvPrefix("KEYWARDEN")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			fmt.Fprintf(os.Stderr, "Error reading config file: %v\n", err)
		}
	} else if debug {
		fmt.Fprintf(os.Stderr, "Using config file: %s\n", viper.ConfigFileUsed())
	}
}

func setDefaults() {
	def := keywarden.DefaultConfig()

	viper.SetDefault("keyfile", def.KeyFile)
	viper.SetDefault("secure_memory", def.SecureMemory)
	viper.SetDefault("secure_memory_budget", def.SecureMemoryBudget)
	viper.SetDefault("lock_memory", def.LockMemory)
	viper.SetDefault("algorithm", def.Algorithm)
	viper.SetDefault("key_size", 0)
	viper.SetDefault("capacity", def.Capacity)
	viper.SetDefault("autogen", def.Autogen)
	viper.SetDefault("wipe_passes", def.WipePasses)
	viper.SetDefault("wipe_buffer_size", def.WipeBufferSize)
	viper.SetDefault("entropy", def.Entropy)

	viper.SetDefault("hsm.default_provider", "software")
	viper.SetDefault("hsm.operation_timeout", def.HSM.OperationTimeout)

	viper.SetDefault("audit.enabled", false)
	viper.SetDefault("audit.type", "file")
	viper.SetDefault("audit.options.file_path", "keywarden-audit.log")
}

// loadConfig unmarshals viper state into a Config, deriving the key size
// from the algorithm when none is set.
func loadConfig() (keywarden.Config, error) {
	cfg := keywarden.DefaultConfig()
	if err := viper.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("failed to decode configuration: %w", err)
	}
	if cfg.KeySize == 0 {
		alg, err := keywarden.ParseAlgorithm(cfg.Algorithm)
		if err != nil {
			return cfg, err
		}
		cfg.KeySize, _ = keywarden.KeySizeFor(alg)
	}
	return cfg, cfg.Validate()
}

func needsSession(cmd *cobra.Command) bool {
	switch cmd.Name() {
	case "help", "completion", "__complete", "debug-config":
		return false
	}
	return true
}

func openSession(cmd *cobra.Command, args []string) error {
	log = logging.Logger{Verbose: verbose, Debug: debug}
	sessionID = uuid.NewString()

	if !needsSession(cmd) {
		return nil
	}

	var err error
	config, err = loadConfig()
	if err != nil {
		return err
	}

	session, err = keywarden.NewSession(config, log,
		keywarden.WithHSMProviders(keywarden.NewSoftwareHSM()))
	if err != nil {
		return fmt.Errorf("failed to initialise key session: %w", err)
	}
	log.Debugf("session %s started (memory protection: %s)", sessionID, session.Provider.MemoryProtection())
	return nil
}

func closeSession(cmd *cobra.Command, args []string) error {
	if session == nil {
		return nil
	}
	err := session.Close()
	session = nil
	if err != nil {
		return fmt.Errorf("failed to shut down key session: %w", err)
	}
	log.Debugf("session %s closed", sessionID)
	return nil
}
