package autoblock

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/crlsmrls/fwatch/domain"
	fwmetrics "github.com/crlsmrls/fwatch/metrics"
	"github.com/crlsmrls/fwatch/notify"
)

// Actor ties the policy decision, the blocklist store, the firewall, and an
// email notification together into auto_block_ip's contract (spec.md §4.9).
type Actor struct {
	opts     Options
	store    *Store
	firewall Firewall
	sender   notify.EmailSender
	recipients []string
	log      zerolog.Logger
}

func NewActor(opts Options, store *Store, firewall Firewall, sender notify.EmailSender, recipients []string, log zerolog.Logger) *Actor {
	return &Actor{
		opts:       opts.withDefaults(),
		store:      store,
		firewall:   firewall,
		sender:     sender,
		recipients: recipients,
		log:        log.With().Str("component", "autoblock").Logger(),
	}
}

// Result is what Consider returns: whether a block was issued, and why (or
// why not).
type Result struct {
	Blocked bool
	Reason  string
}

// Consider evaluates a detection against the policy and, if it decides to
// block, blocks the IP, persists the entry, and sends a notification email.
// Already-blocked IPs and IPs in cooldown are reported, not re-blocked
// (spec.md §8 scenario 6).
func (a *Actor) Consider(ctx context.Context, threatType domain.AttackType, severity domain.Severity, sourceIP string, metrics AttackMetrics, ml domain.MLResult) (Result, error) {
	if sourceIP == "" {
		return Result{false, "no single source IP to block"}, nil
	}
	if !a.opts.Enabled {
		return Result{false, "auto-blocking is disabled"}, nil
	}

	blocked, err := a.store.IsBlocked(ctx, sourceIP)
	if err != nil {
		return Result{}, err
	}
	if blocked {
		return Result{false, "IP is already blocked"}, nil
	}

	cooling, err := a.store.InCooldown(ctx, sourceIP, a.opts.CooldownHours)
	if err != nil {
		return Result{}, err
	}
	if cooling {
		return Result{false, fmt.Sprintf("IP is in cooldown period (%dh)", a.opts.CooldownHours)}, nil
	}

	decision := a.opts.Decide(threatType, severity, metrics, ml)
	if !decision.ShouldBlock {
		return Result{false, decision.Reason}, nil
	}

	now := time.Now().UTC()
	if err := a.firewall.Deny(sourceIP); err != nil {
		a.log.Error().Err(err).Str("ip", sourceIP).Msg("firewall deny failed")
		return Result{}, fmt.Errorf("autoblock: deny failed: %w", err)
	}
	if err := a.store.Block(ctx, sourceIP, "AUTO-BLOCK: "+decision.Reason, "autoblock", now); err != nil {
		return Result{}, err
	}

	a.notify(ctx, sourceIP, threatType, severity, decision.Reason, metrics)
	fwmetrics.AutoBlocksTotal.WithLabelValues(string(threatType)).Inc()

	a.log.Info().Str("ip", sourceIP).Str("threat_type", string(threatType)).Str("severity", severity.String()).Msg("auto-blocked IP")
	return Result{true, decision.Reason}, nil
}

// notify sends the auto-block email; a send failure is logged, not
// propagated — the block itself already succeeded and must not be undone
// because the email failed (spec.md §7: best-effort notification).
func (a *Actor) notify(ctx context.Context, sourceIP string, threatType domain.AttackType, severity domain.Severity, reason string, metrics AttackMetrics) {
	if a.sender == nil || len(a.recipients) == 0 {
		return
	}
	subject := fmt.Sprintf("[AUTO-BLOCK] %s %s blocked from %s", severity, threatType, sourceIP)
	body := renderBlockEmail(sourceIP, threatType, reason, metrics)
	if _, err := a.sender.Send(ctx, subject, body, body, a.recipients); err != nil {
		a.log.Error().Err(err).Str("ip", sourceIP).Msg("auto-block notification email failed")
	}
}

func renderBlockEmail(sourceIP string, threatType domain.AttackType, reason string, metrics AttackMetrics) string {
	var b strings.Builder
	fmt.Fprintf(&b, "IP %s has been automatically blocked due to %s detection.\n\n", sourceIP, strings.ToLower(strings.ReplaceAll(string(threatType), "_", " ")))
	fmt.Fprintf(&b, "Blocking reason: %s\n\n", reason)
	fmt.Fprintf(&b, "Attack details:\n")
	fmt.Fprintf(&b, "  - Total attempts: %d\n", metrics.TotalAttempts)
	fmt.Fprintf(&b, "  - Total requests: %d\n", metrics.TotalRequests)
	fmt.Fprintf(&b, "  - Unique ports attempted: %d\n", metrics.UniquePortsAttempted)
	b.WriteString("\nYou can review and manage blocked IPs from the dashboard.\n")
	b.WriteString("If you believe this is a false positive, it can be manually unblocked.\n")
	return b.String()
}

// Unblock removes a block and starts its cooldown clock.
func (a *Actor) Unblock(ctx context.Context, ip, unblockedBy string) error {
	return a.store.Unblock(ctx, ip, unblockedBy, time.Now().UTC())
}
