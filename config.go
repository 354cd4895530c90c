// config.go: Configuration and assembly of a ready-to-use key session
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package keywarden

import (
	"errors"
	"fmt"
	"strings"

	goplugins "github.com/agilira/go-plugins"
	"github.com/spf13/afero"

	"github.com/agilira/keywarden/audit"
)

// DefaultKeyFile is the keyfile used when none is configured.
const DefaultKeyFile = "aes.key"

// Entropy sources for VeryStrongRandom.
const (
	EntropySystem = "system"
	EntropyHSM    = "hsm"
)

// Config holds every tunable of a Session. Field tags match the keys read by
// the CLI from .keywarden.yaml and KEYWARDEN_* variables.
type Config struct {
	KeyFile            string `mapstructure:"keyfile"`
	SecureMemory       bool   `mapstructure:"secure_memory"`
	SecureMemoryBudget int    `mapstructure:"secure_memory_budget"`
	LockMemory         bool   `mapstructure:"lock_memory"`
	Algorithm          string `mapstructure:"algorithm"`
	KeySize            int    `mapstructure:"key_size"`
	Capacity           int    `mapstructure:"capacity"`
	Autogen            bool   `mapstructure:"autogen"`
	WipePasses         int    `mapstructure:"wipe_passes"`
	WipeBufferSize     int    `mapstructure:"wipe_buffer_size"`
	// Entropy is EntropySystem or EntropyHSM.
	Entropy string           `mapstructure:"entropy"`
	HSM     HSMManagerConfig `mapstructure:"hsm"`
	Audit   audit.Config     `mapstructure:"audit"`
}

// DefaultConfig returns a single-slot, secure-memory, AES-256 setup.
func DefaultConfig() Config {
	return Config{
		KeyFile:            DefaultKeyFile,
		SecureMemory:       true,
		SecureMemoryBudget: DefaultSecureMemoryBudget,
		Algorithm:          string(DefaultAlgorithm),
		KeySize:            DefaultKeySize,
		Capacity:           1,
		WipePasses:         DefaultWipePasses,
		WipeBufferSize:     DefaultWipeBufferSize,
		Entropy:            EntropySystem,
		HSM: HSMManagerConfig{
			OperationTimeout: DefaultHSMOperationTimeout,
		},
	}
}

// Validate reports every invalid field at once.
func (c Config) Validate() error {
	var problems []string

	if _, err := ParseAlgorithm(c.Algorithm); err != nil {
		problems = append(problems, fmt.Sprintf("algorithm %q is not supported", c.Algorithm))
	}
	if c.KeySize <= 0 {
		problems = append(problems, fmt.Sprintf("key_size must be positive (got %d)", c.KeySize))
	}
	if c.Capacity <= 0 {
		problems = append(problems, fmt.Sprintf("capacity must be positive (got %d)", c.Capacity))
	}
	if c.WipePasses <= 0 {
		problems = append(problems, fmt.Sprintf("wipe_passes must be positive (got %d)", c.WipePasses))
	}
	if c.WipeBufferSize < 0 {
		problems = append(problems, fmt.Sprintf("wipe_buffer_size cannot be negative (got %d)", c.WipeBufferSize))
	}
	if c.SecureMemory {
		budget := c.SecureMemoryBudget
		if budget == 0 {
			budget = DefaultSecureMemoryBudget
		}
		// Every slot plus one size+1 load read must fit.
		if need := c.Capacity*c.KeySize + c.KeySize + 1; c.KeySize > 0 && c.Capacity > 0 && need > budget {
			problems = append(problems, fmt.Sprintf("secure_memory_budget %d is too small for %d slot(s) of %d bytes", budget, c.Capacity, c.KeySize))
		}
		wipeBuf := c.WipeBufferSize
		if wipeBuf == 0 {
			wipeBuf = DefaultWipeBufferSize
		}
		// A wipe round buffer is drawn while every slot is live.
		if c.KeySize > 0 && c.Capacity > 0 && wipeBuf > 0 && wipeBuf+c.Capacity*c.KeySize > budget {
			problems = append(problems, fmt.Sprintf("wipe_buffer_size %d does not fit in secure_memory_budget %d next to %d slot(s) of %d bytes", wipeBuf, budget, c.Capacity, c.KeySize))
		}
	}
	switch c.Entropy {
	case "", EntropySystem, EntropyHSM:
	default:
		problems = append(problems, fmt.Sprintf("entropy must be %q or %q (got %q)", EntropySystem, EntropyHSM, c.Entropy))
	}

	if len(problems) > 0 {
		return newKeyError("config", "", KindInvalidArgument, nil, strings.Join(problems, "; "))
	}
	return nil
}

// Session bundles the provider, store, lifecycle and wiper built from a
// Config. Close tears everything down in reverse order.
type Session struct {
	Provider  *MemoryProvider
	Store     *KeyStore
	Lifecycle *Lifecycle
	Wiper     *Wiper
	// HSM is nil unless Config.Entropy is EntropyHSM.
	HSM   *HSMManager
	Audit audit.Logger
}

// SessionOption customises NewSession.
type SessionOption func(*sessionOptions)

type sessionOptions struct {
	fs           afero.Fs
	hsmProviders []HSMProvider
	hsmPlugins   *goplugins.Manager[HSMRequest, HSMResponse]
}

// WithSessionFs makes the lifecycle and wiper use fs instead of the OS.
func WithSessionFs(fs afero.Fs) SessionOption {
	return func(o *sessionOptions) { o.fs = fs }
}

// WithHSMProviders registers providers (by Name) when Config.Entropy is
// EntropyHSM.
func WithHSMProviders(providers ...HSMProvider) SessionOption {
	return func(o *sessionOptions) { o.hsmProviders = append(o.hsmProviders, providers...) }
}

// WithHSMPlugins serves every plugin of pm as an HSM provider, under its
// plugin name, when Config.Entropy is EntropyHSM. The caller shuts pm down
// after closing the session.
func WithHSMPlugins(pm *goplugins.Manager[HSMRequest, HSMResponse]) SessionOption {
	return func(o *sessionOptions) { o.hsmPlugins = pm }
}

// NewSession validates cfg and builds an initialised session.
func NewSession(cfg Config, log Logger, opts ...SessionOption) (s *Session, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log = loggerOrNop(log)

	var so sessionOptions
	for _, opt := range opts {
		opt(&so)
	}
	if so.fs == nil {
		so.fs = afero.NewOsFs()
	}

	s = &Session{}
	defer func() {
		if err != nil {
			_ = s.Close()
		}
	}()

	s.Audit, err = audit.NewLogger(&cfg.Audit)
	if err != nil {
		return s, newKeyError("session", "", KindInvalidArgument, err, "failed to create audit logger")
	}

	pcfg := ProviderConfig{
		SecureMemory:       cfg.SecureMemory,
		SecureMemoryBudget: cfg.SecureMemoryBudget,
		LockMemory:         cfg.LockMemory,
		Logger:             log,
	}
	if cfg.Entropy == EntropyHSM {
		hsmCfg := cfg.HSM
		s.HSM, err = NewHSMManager(&hsmCfg, so.hsmPlugins)
		if err != nil {
			return s, newKeyError("session", "", KindNotInitialized, err, "failed to create HSM manager")
		}
		for _, hp := range so.hsmProviders {
			if err = s.HSM.RegisterProvider(hp.Name(), hp); err != nil {
				return s, newKeyError("session", "", KindNotInitialized, err, "failed to register HSM provider")
			}
		}
		if _, err = s.HSM.GetProvider(hsmCfg.DefaultProvider); err != nil {
			return s, newKeyError("session", "", KindNotInitialized, err, "no usable HSM entropy source")
		}
		pcfg.Entropy = HSMEntropy(s.HSM, hsmCfg.DefaultProvider)
	}

	s.Provider = NewMemoryProvider(pcfg)
	if err = s.Provider.Init(); err != nil {
		return s, err
	}

	alg, _ := ParseAlgorithm(cfg.Algorithm)
	s.Store, err = NewKeyStore(s.Provider, cfg.Capacity, cfg.KeySize, alg)
	if err != nil {
		return s, err
	}

	policy := &AutogenPolicy{}
	if cfg.Autogen {
		policy.Enable()
	}
	s.Lifecycle, err = NewLifecycle(s.Provider, s.Store,
		WithAutogen(policy),
		WithLogger(log),
		WithAuditLogger(s.Audit),
		WithFs(so.fs),
	)
	if err != nil {
		return s, err
	}

	s.Wiper = &Wiper{
		Provider:      s.Provider,
		MaxBufferSize: cfg.WipeBufferSize,
		Fs:            so.fs,
		Logger:        log,
		Audit:         s.Audit,
	}
	return s, nil
}

// Close zeroizes every key and releases the store, the HSM providers, the
// provider and the audit log. All failures are reported joined.
func (s *Session) Close() error {
	var errs []error
	switch {
	case s.Lifecycle != nil:
		errs = append(errs, s.Lifecycle.Shutdown())
	case s.Store != nil:
		errs = append(errs, s.Store.Close())
	}
	if s.HSM != nil {
		errs = append(errs, s.HSM.Close())
	}
	if s.Provider != nil {
		errs = append(errs, s.Provider.Close())
	}
	if s.Audit != nil {
		errs = append(errs, s.Audit.Close())
	}
	return errors.Join(errs...)
}
