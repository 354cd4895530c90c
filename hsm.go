// hsm.go: Hardware Security Module (HSM) entropy sources for key generation
//
// HSM providers plug in through github.com/agilira/go-plugins. The key
// lifecycle only needs their random number generator: HSMEntropy turns a
// registered provider into the io.Reader behind VeryStrongRandom.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package keywarden

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	goerrors "github.com/agilira/go-errors"
	goplugins "github.com/agilira/go-plugins"
	"github.com/google/uuid"
)

// HSMCapability names an optional feature of an HSM provider.
type HSMCapability string

const (
	CapabilityRandomGeneration HSMCapability = "random_generation" // Hardware RNG
	CapabilitySecureKeyStorage HSMCapability = "secure_key_storage"
	CapabilityTamperEvidence   HSMCapability = "tamper_evidence"
)

// HSMProvider is the part of an HSM plugin the key lifecycle relies on.
type HSMProvider interface {
	Name() string    // Provider name (e.g., "pkcs11", "aws-cloudhsm")
	Version() string // Provider version
	Capabilities() []HSMCapability

	Initialize(ctx context.Context, config map[string]interface{}) error
	Close() error
	IsHealthy() bool

	GenerateRandom(ctx context.Context, length int) ([]byte, error)
}

// HSMManager manages HSM providers, optionally backed by a go-plugins
// manager that discovers them.
type HSMManager struct {
	mu              sync.RWMutex
	pluginManager   *goplugins.Manager[HSMRequest, HSMResponse]
	activeProviders map[string]HSMProvider
	defaultProvider string
	config          *HSMManagerConfig
}

// HSMManagerConfig configures an HSMManager.
type HSMManagerConfig struct {
	DefaultProvider   string                            `json:"default_provider" mapstructure:"default_provider"`
	ProviderConfigs   map[string]map[string]interface{} `json:"provider_configs" mapstructure:"provider_configs"`
	FailoverEnabled   bool                              `json:"failover_enabled" mapstructure:"failover_enabled"`
	FailoverProviders []string                          `json:"failover_providers" mapstructure:"failover_providers"`
	OperationTimeout  time.Duration                     `json:"operation_timeout" mapstructure:"operation_timeout"`
}

// HSMOperationRandom asks an HSM plugin for Length random bytes.
const HSMOperationRandom = "random"

// HSMRequest is the request type exchanged with HSM plugins.
type HSMRequest struct {
	Operation  string                 `json:"operation"` // HSMOperationRandom
	Length     int                    `json:"length"`
	Parameters map[string]interface{} `json:"parameters"`
}

// HSMResponse is the response type exchanged with HSM plugins.
type HSMResponse struct {
	Success  bool                   `json:"success"`
	Data     []byte                 `json:"data"`
	Error    string                 `json:"error"`
	Metadata map[string]interface{} `json:"metadata"`
}

// HSM errors with codes for auditing.
var (
	ErrHSMNotInitialized    = goerrors.New("HSM_001", "HSM provider not initialized")
	ErrHSMOperationFailed   = goerrors.New("HSM_003", "HSM operation failed")
	ErrHSMProviderNotFound  = goerrors.New("HSM_006", "HSM provider not found")
	ErrHSMHealthCheckFailed = goerrors.New("HSM_007", "HSM health check failed")
	ErrHSMOperationTimeout  = goerrors.New("HSM_008", "HSM operation timed out")
	ErrHSMInvalidParameters = goerrors.New("HSM_009", "Invalid operation parameters")
)

// DefaultHSMOperationTimeout bounds a single HSM call when the config does
// not set one.
const DefaultHSMOperationTimeout = 10 * time.Second

// NewHSMManager creates a manager. pluginManager may be nil when providers
// are registered directly; otherwise every plugin it already holds is
// registered through a PluginHSM. The plugin manager stays owned by the
// caller, who shuts it down after Close.
func NewHSMManager(config *HSMManagerConfig, pluginManager *goplugins.Manager[HSMRequest, HSMResponse]) (*HSMManager, error) {
	if config == nil {
		config = &HSMManagerConfig{
			OperationTimeout: DefaultHSMOperationTimeout,
		}
	}
	if config.OperationTimeout < 0 {
		return nil, fmt.Errorf("%w: operation timeout cannot be negative (got %s)", ErrHSMInvalidParameters, config.OperationTimeout)
	}

	h := &HSMManager{
		pluginManager:   pluginManager,
		activeProviders: make(map[string]HSMProvider),
		config:          config,
	}
	if pluginManager != nil {
		if _, err := h.RegisterPlugins(); err != nil {
			return nil, err
		}
	}
	return h, nil
}

// RegisterPlugins wraps every plugin of the plugin manager that is not yet
// registered in a PluginHSM and registers it under the plugin name. It
// returns the names it added, in sorted order.
func (h *HSMManager) RegisterPlugins() ([]string, error) {
	if h.pluginManager == nil {
		return nil, ErrHSMNotInitialized
	}

	names := make([]string, 0)
	for name := range h.pluginManager.ListPlugins() {
		names = append(names, name)
	}
	sort.Strings(names)

	added := make([]string, 0, len(names))
	for _, name := range names {
		h.mu.RLock()
		_, exists := h.activeProviders[name]
		h.mu.RUnlock()
		if exists {
			continue
		}
		if err := h.RegisterProvider(name, NewPluginHSM(h.pluginManager, name)); err != nil {
			return added, err
		}
		added = append(added, name)
	}
	return added, nil
}

// PluginManager returns the go-plugins manager handed to NewHSMManager.
func (h *HSMManager) PluginManager() *goplugins.Manager[HSMRequest, HSMResponse] {
	return h.pluginManager
}

func (h *HSMManager) timeout() time.Duration {
	if h.config.OperationTimeout > 0 {
		return h.config.OperationTimeout
	}
	return DefaultHSMOperationTimeout
}

// RegisterProvider initializes provider with its configuration and makes it
// available under name.
func (h *HSMManager) RegisterProvider(name string, provider HSMProvider) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if provider == nil {
		return fmt.Errorf("%w: provider cannot be nil", ErrHSMInvalidParameters)
	}
	if name == "" {
		return fmt.Errorf("%w: provider name cannot be empty", ErrHSMInvalidParameters)
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.timeout())
	defer cancel()

	if err := provider.Initialize(ctx, h.config.ProviderConfigs[name]); err != nil {
		return fmt.Errorf("failed to initialize HSM provider %s: %w", name, err)
	}

	h.activeProviders[name] = provider

	if h.defaultProvider == "" || h.config.DefaultProvider == name {
		h.defaultProvider = name
	}
	return nil
}

// GetProvider returns a healthy provider by name; "" selects the default.
func (h *HSMManager) GetProvider(name string) (HSMProvider, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if name == "" {
		name = h.defaultProvider
	}

	provider, exists := h.activeProviders[name]
	if !exists {
		return nil, fmt.Errorf("%w: provider %s", ErrHSMProviderNotFound, name)
	}
	if !provider.IsHealthy() {
		return nil, fmt.Errorf("%w: provider %s", ErrHSMHealthCheckFailed, name)
	}
	return provider, nil
}

// Providers lists the registered provider names in sorted order.
func (h *HSMManager) Providers() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	names := make([]string, 0, len(h.activeProviders))
	for name := range h.activeProviders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// candidates returns name followed by the failover chain when failover is
// enabled.
func (h *HSMManager) candidates(name string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if name == "" {
		name = h.defaultProvider
	}
	out := []string{name}
	if !h.config.FailoverEnabled {
		return out
	}
	for _, fo := range h.config.FailoverProviders {
		if fo != name {
			out = append(out, fo)
		}
	}
	return out
}

// Close shuts down all HSM providers.
func (h *HSMManager) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var errs []error
	for name, provider := range h.activeProviders {
		if err := provider.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close HSM provider %s: %w", name, err))
		}
	}
	h.activeProviders = make(map[string]HSMProvider)
	h.defaultProvider = ""

	if len(errs) > 0 {
		return fmt.Errorf("failed to close some HSM providers: %v", errs)
	}
	return nil
}

// HSMEntropy returns a reader drawing from the named provider (or the
// default one), falling back along the failover chain when enabled. Plug it
// into ProviderConfig.Entropy to generate secure-memory keys on the HSM.
func HSMEntropy(manager *HSMManager, name string) io.Reader {
	return &hsmReader{manager: manager, name: name}
}

type hsmReader struct {
	manager *HSMManager
	name    string
}

func (r *hsmReader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if r.manager == nil {
		return 0, ErrHSMNotInitialized
	}

	var lastErr error
	for _, name := range r.manager.candidates(r.name) {
		provider, err := r.manager.GetProvider(name)
		if err != nil {
			lastErr = err
			continue
		}

		n, err := r.readFrom(provider, p)
		if err == nil {
			return n, nil
		}
		lastErr = fmt.Errorf("provider %s: %w", name, err)
	}
	return 0, lastErr
}

func (r *hsmReader) readFrom(provider HSMProvider, p []byte) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), r.manager.timeout())
	defer cancel()

	data, err := provider.GenerateRandom(ctx, len(p))
	if err != nil {
		if ctx.Err() != nil {
			return 0, fmt.Errorf("%w: %w", ErrHSMOperationTimeout, err)
		}
		return 0, fmt.Errorf("%w: %w", ErrHSMOperationFailed, err)
	}
	defer Zeroize(data)

	if len(data) != len(p) {
		return 0, fmt.Errorf("%w: requested %d random bytes, got %d", ErrHSMOperationFailed, len(p), len(data))
	}
	return copy(p, data), nil
}

// PluginHSM is an HSMProvider backed by a go-plugins plugin. Each call is
// sent as an HSMRequest through the plugin manager, so the manager's circuit
// breaker and health tracking apply to it.
type PluginHSM struct {
	manager *goplugins.Manager[HSMRequest, HSMResponse]
	name    string

	mu          sync.RWMutex
	initialized bool
	params      map[string]interface{}
}

// NewPluginHSM returns an uninitialized adapter for the plugin called name.
func NewPluginHSM(manager *goplugins.Manager[HSMRequest, HSMResponse], name string) *PluginHSM {
	return &PluginHSM{manager: manager, name: name}
}

func (p *PluginHSM) Name() string { return p.name }

func (p *PluginHSM) info() (goplugins.PluginInfo, bool) {
	if p.manager == nil {
		return goplugins.PluginInfo{}, false
	}
	plugin, err := p.manager.GetPlugin(p.name)
	if err != nil {
		return goplugins.PluginInfo{}, false
	}
	return plugin.Info(), true
}

func (p *PluginHSM) Version() string {
	info, _ := p.info()
	return info.Version
}

func (p *PluginHSM) Capabilities() []HSMCapability {
	info, _ := p.info()
	caps := make([]HSMCapability, 0, len(info.Capabilities))
	for _, c := range info.Capabilities {
		caps = append(caps, HSMCapability(c))
	}
	return caps
}

// Initialize checks that the plugin is registered with the manager. config
// is forwarded as HSMRequest.Parameters on every call.
func (p *PluginHSM) Initialize(ctx context.Context, config map[string]interface{}) error {
	if p.manager == nil {
		return ErrHSMNotInitialized
	}
	if _, ok := p.info(); !ok {
		return fmt.Errorf("%w: plugin %s", ErrHSMProviderNotFound, p.name)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.params = config
	p.initialized = true
	return nil
}

func (p *PluginHSM) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.initialized = false
	return nil
}

// IsHealthy reports whether the adapter is initialized and the plugin
// manager last saw the plugin healthy.
func (p *PluginHSM) IsHealthy() bool {
	p.mu.RLock()
	initialized := p.initialized
	p.mu.RUnlock()
	if !initialized {
		return false
	}
	status, ok := p.manager.Health()[p.name]
	return ok && status.Status == goplugins.StatusHealthy
}

func (p *PluginHSM) GenerateRandom(ctx context.Context, length int) ([]byte, error) {
	p.mu.RLock()
	initialized, params := p.initialized, p.params
	p.mu.RUnlock()
	if !initialized {
		return nil, ErrHSMNotInitialized
	}
	if length <= 0 {
		return nil, fmt.Errorf("%w: length must be positive", ErrHSMInvalidParameters)
	}

	// The manager derives its own deadline from Timeout, so it must be positive.
	execCtx := goplugins.ExecutionContext{RequestID: uuid.NewString(), Timeout: DefaultHSMOperationTimeout}
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left > 0 {
			execCtx.Timeout = left
		}
	}
	req := HSMRequest{Operation: HSMOperationRandom, Length: length, Parameters: params}

	resp, err := p.manager.ExecuteWithOptions(ctx, p.name, execCtx, req)
	if err != nil {
		return nil, fmt.Errorf("%w: plugin %s: %w", ErrHSMOperationFailed, p.name, err)
	}
	if !resp.Success {
		Zeroize(resp.Data)
		msg := resp.Error
		if msg == "" {
			msg = "no error message"
		}
		return nil, fmt.Errorf("%w: plugin %s: %s", ErrHSMOperationFailed, p.name, msg)
	}
	if len(resp.Data) != length {
		Zeroize(resp.Data)
		return nil, fmt.Errorf("%w: plugin %s returned %d of %d random bytes", ErrHSMOperationFailed, p.name, len(resp.Data), length)
	}
	return resp.Data, nil
}

// SoftwareHSM is an HSMProvider over the operating system RNG. It stands in
// for real hardware in development and as the last failover entry.
type SoftwareHSM struct {
	mu          sync.Mutex
	initialized bool
}

// NewSoftwareHSM returns an uninitialized software provider.
func NewSoftwareHSM() *SoftwareHSM { return &SoftwareHSM{} }

func (s *SoftwareHSM) Name() string    { return "software" }
func (s *SoftwareHSM) Version() string { return "1.0.0" }

func (s *SoftwareHSM) Capabilities() []HSMCapability {
	return []HSMCapability{CapabilityRandomGeneration}
}

func (s *SoftwareHSM) Initialize(ctx context.Context, config map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.initialized = true
	return nil
}

func (s *SoftwareHSM) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.initialized = false
	return nil
}

func (s *SoftwareHSM) IsHealthy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initialized
}

func (s *SoftwareHSM) GenerateRandom(ctx context.Context, length int) ([]byte, error) {
	if !s.IsHealthy() {
		return nil, ErrHSMNotInitialized
	}
	if length <= 0 {
		return nil, fmt.Errorf("%w: length must be positive", ErrHSMInvalidParameters)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]byte, length)
	if _, err := io.ReadFull(rand.Reader, out); err != nil {
		return nil, err
	}
	return out, nil
}
