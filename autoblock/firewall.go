package autoblock

import (
	"fmt"

	iptables "github.com/coreos/go-iptables/iptables"
)

// Firewall denies and re-allows traffic from an IP. Deliberately not a
// shell-out: the source pipes a sudo password through `echo | sudo -S ufw`,
// which both needs a plaintext password in the environment and is a shell-
// injection surface; coreos/go-iptables talks to the kernel's iptables
// binary with an argv slice, no shell, no password.
type Firewall interface {
	Deny(ip string) error
	Allow(ip string) error
}

const (
	filterTable = "filter"
	inputChain  = "INPUT"
)

// IPTablesFirewall implements Firewall against the host's iptables rules.
type IPTablesFirewall struct {
	ipt *iptables.IPTables
}

func NewIPTablesFirewall() (*IPTablesFirewall, error) {
	ipt, err := iptables.New()
	if err != nil {
		return nil, fmt.Errorf("autoblock: iptables init: %w", err)
	}
	return &IPTablesFirewall{ipt: ipt}, nil
}

// Deny inserts a DROP rule for ip. AppendUnique is idempotent: blocking an
// already-blocked IP is a no-op success, not an error (spec.md §8 scenario 6:
// "repeat while active -> no-op success").
func (f *IPTablesFirewall) Deny(ip string) error {
	if err := f.ipt.AppendUnique(filterTable, inputChain, "-s", ip, "-j", "DROP"); err != nil {
		return fmt.Errorf("autoblock: deny %s: %w", ip, err)
	}
	return nil
}

// Allow removes the DROP rule for ip if present. DeleteIfExists treats a
// missing rule as success, matching the source's intent (best-effort
// cleanup) without its "grep the error string for 'not found'" approach.
func (f *IPTablesFirewall) Allow(ip string) error {
	if err := f.ipt.DeleteIfExists(filterTable, inputChain, "-s", ip, "-j", "DROP"); err != nil {
		return fmt.Errorf("autoblock: allow %s: %w", ip, err)
	}
	return nil
}
