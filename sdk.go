// sdk.go
// ------
// The sdk.go file contains the SandboxBridge registry, the main entry point for callers
// that drive several sandboxes at once.
//
// Key functionalities include:
// - Initializing the SDK with NewSandboxBridge()
// - Registering adapter instances under a name with RegisterSandbox()
// - Looking them up with Sandbox() and Names()
// - Probing every registered sandbox with Availability()
// - Retrieving the rate limit info a sandbox last advertised
//
// The registry holds no lifecycle state of its own. Polling, retries at the business
// level, and job tracking stay with the caller.
package sandboxbridge

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type SandboxBridge struct {
	mu        sync.Mutex
	sandboxes map[string]Sandbox
	logger    *zap.Logger

	Debug bool // If true, log at debug level
}

func NewSandboxBridge() *SandboxBridge {
	return &SandboxBridge{
		sandboxes: make(map[string]Sandbox),
		logger:    zap.NewNop(),
	}
}

// SetDebug enables or disables debug logging for the SDK.
func (sdk *SandboxBridge) SetDebug(enabled bool) {
	sdk.mu.Lock()
	defer sdk.mu.Unlock()
	sdk.Debug = enabled
	if !enabled {
		sdk.logger = zap.NewNop()
		return
	}
	if l, err := zap.NewDevelopment(); err == nil {
		sdk.logger = l
	}
}

// SetLogger replaces the SDK logger.
func (sdk *SandboxBridge) SetLogger(l *zap.Logger) {
	sdk.mu.Lock()
	defer sdk.mu.Unlock()
	sdk.logger = l
}

// RegisterSandbox associates an adapter instance with a name. Registering a
// name twice replaces the earlier instance.
func (sdk *SandboxBridge) RegisterSandbox(name string, sb Sandbox) {
	sdk.mu.Lock()
	defer sdk.mu.Unlock()
	sdk.sandboxes[name] = sb
	sdk.logger.Debug("registered sandbox", zap.String("name", name), zap.String("backend", sb.Name()))
}

// Sandbox returns the adapter registered under name.
func (sdk *SandboxBridge) Sandbox(name string) (Sandbox, error) {
	sdk.mu.Lock()
	defer sdk.mu.Unlock()
	sb, ok := sdk.sandboxes[name]
	if !ok {
		return nil, fmt.Errorf("sandbox %q not registered", name)
	}
	return sb, nil
}

// Names lists registered sandbox names in sorted order.
func (sdk *SandboxBridge) Names() []string {
	sdk.mu.Lock()
	defer sdk.mu.Unlock()
	names := make([]string, 0, len(sdk.sandboxes))
	for n := range sdk.sandboxes {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Availability probes the named sandboxes (all when names is empty)
// concurrently, one goroutine per adapter instance.
func (sdk *SandboxBridge) Availability(ctx context.Context, names ...string) (map[string]bool, error) {
	if len(names) == 0 {
		names = sdk.Names()
	}
	targets := make([]Sandbox, len(names))
	for i, n := range names {
		sb, err := sdk.Sandbox(n)
		if err != nil {
			return nil, err
		}
		targets[i] = sb
	}

	results := make([]bool, len(names))
	g, gctx := errgroup.WithContext(ctx)
	for i, sb := range targets {
		i, sb := i, sb
		g.Go(func() error {
			results[i] = sb.IsAvailable(gctx)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make(map[string]bool, len(names))
	for i, n := range names {
		out[n] = results[i]
		sdk.logger.Debug("availability", zap.String("name", n), zap.Bool("available", results[i]))
	}
	return out, nil
}

// GetRateLimitInfo returns the rate limit info the named sandbox last
// advertised, or nil.
func (sdk *SandboxBridge) GetRateLimitInfo(name string) *NormalizedRateLimitInfo {
	sb, err := sdk.Sandbox(name)
	if err != nil {
		return nil
	}
	if r, ok := sb.(RateLimitReporter); ok {
		return r.RateLimitInfo()
	}
	return nil
}
