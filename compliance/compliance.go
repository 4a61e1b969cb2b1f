// Package compliance provides address screening for payments. Every verify
// and settle call screens both payer and payee; settlement never trusts a
// prior verify call's screening result.
package compliance

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync/atomic"

	"gopkg.in/yaml.v3"

	"github.com/vitwit/x402-facilitator/logger"
)

// Decision is the outcome of screening one payment.
type Decision int

const (
	// Clear allows the payment to proceed.
	Clear Decision = iota
	// Review requires manual review; the facilitator treats it as a
	// rejection.
	Review
	// Block rejects the payment outright.
	Block
)

func (d Decision) String() string {
	switch d {
	case Clear:
		return "clear"
	case Review:
		return "review"
	case Block:
		return "block"
	default:
		return "unknown"
	}
}

// Result carries the screening decision and its public reason.
type Result struct {
	Decision Decision
	Reason   string
}

// Context describes the payment being screened, for audit logging.
type Context struct {
	Amount   string
	Currency string
	Network  string
}

// Gate screens payer/payee address pairs. Implementations must be safe for
// concurrent use.
type Gate interface {
	Screen(ctx context.Context, payer, payee string, tc Context) (Result, error)
}

// listFile is the on-disk blocklist format.
type listFile struct {
	Entries []listEntry `yaml:"entries"`
}

type listEntry struct {
	Address string `yaml:"address"`
	Source  string `yaml:"source"`
	Reason  string `yaml:"reason"`
}

// ListGate screens against an in-memory address list loaded from a YAML
// file. The list is an immutable snapshot; Reload swaps it atomically as a
// whole, never partially.
type ListGate struct {
	entries atomic.Pointer[map[string]listEntry]
	path    string
	log     logger.Logger
}

// NewListGate loads the blocklist at path. An unreadable or malformed file
// is an initialization failure; callers must fail closed (see DenyAllGate).
func NewListGate(path string, log logger.Logger) (*ListGate, error) {
	if log == nil {
		log = logger.NoopLogger{}
	}
	g := &ListGate{path: path, log: log}
	if err := g.Reload(); err != nil {
		return nil, err
	}
	return g, nil
}

// Reload re-reads the list file and atomically replaces the snapshot.
func (g *ListGate) Reload() error {
	raw, err := os.ReadFile(g.path)
	if err != nil {
		return fmt.Errorf("read blocklist %s: %w", g.path, err)
	}
	var file listFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return fmt.Errorf("parse blocklist %s: %w", g.path, err)
	}
	entries := make(map[string]listEntry, len(file.Entries))
	for _, e := range file.Entries {
		if e.Address == "" {
			return fmt.Errorf("blocklist %s: entry with empty address", g.path)
		}
		entries[strings.ToLower(e.Address)] = e
	}
	g.entries.Store(&entries)
	g.log.Info("blocklist loaded", map[string]any{"path": g.path, "entries": len(entries)})
	return nil
}

// Screen checks payer then payee against the list.
func (g *ListGate) Screen(_ context.Context, payer, payee string, tc Context) (Result, error) {
	entries := *g.entries.Load()
	for _, probe := range []struct {
		address string
		role    string
	}{
		{payer, "payer"},
		{payee, "payee"},
	} {
		if e, hit := entries[strings.ToLower(probe.address)]; hit {
			reason := e.Reason
			if reason == "" {
				reason = fmt.Sprintf("address is listed (%s)", e.Source)
			}
			g.log.Warn("payment blocked", map[string]any{
				"role":    probe.role,
				"source":  e.Source,
				"network": tc.Network,
			})
			return Result{Decision: Block, Reason: fmt.Sprintf("%s: %s", probe.role, reason)}, nil
		}
	}
	return Result{Decision: Clear}, nil
}

// EntryCount returns the size of the current snapshot.
func (g *ListGate) EntryCount() int {
	return len(*g.entries.Load())
}

// DenyAllGate rejects every payment. It is the fail-closed stand-in used
// when the real gate fails to initialize, on every chain family uniformly.
type DenyAllGate struct {
	Cause error
}

// Screen implements Gate by blocking unconditionally.
func (d DenyAllGate) Screen(context.Context, string, string, Context) (Result, error) {
	return Result{Decision: Block, Reason: "compliance screening unavailable"}, nil
}

// AllowAllGate clears every payment. For deployments with no blocklist
// configured and for tests.
type AllowAllGate struct{}

// Screen implements Gate by clearing unconditionally.
func (AllowAllGate) Screen(context.Context, string, string, Context) (Result, error) {
	return Result{Decision: Clear}, nil
}

// NewGate builds the process gate: a ListGate when path is set and loads,
// DenyAllGate when it fails to load, AllowAllGate when no path is given.
func NewGate(path string, log logger.Logger) Gate {
	if path == "" {
		if log != nil {
			log.Warn("no blocklist configured, compliance screening disabled", nil)
		}
		return AllowAllGate{}
	}
	g, err := NewListGate(path, log)
	if err != nil {
		if log != nil {
			log.Error("blocklist failed to load, refusing all payments", map[string]any{"error": err.Error()})
		}
		return DenyAllGate{Cause: err}
	}
	return g
}
