package adblock

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Policy decides what a positive detection does to the gate. Advisory is the
// shipped default: the signal is logged and nothing is blocked. Enforce
// exists as a hook for operators who want to gate on it.
type Policy string

const (
	PolicyAdvisory Policy = "advisory"
	PolicyEnforce  Policy = "enforce"
)

const detectGrace = 100 * time.Millisecond

// BaitBody is served from a path ad blockers reliably filter. A session that
// renders the gate page without ever fetching it is likely filtered.
const BaitBody = "window.__adgateBait=true;\n"

// Signal is the detector's best-effort verdict for one session.
type Signal struct {
	Detected bool
	Reason   string
}

// Detector collects per-session bait fetches and client reports. It is
// purely heuristic and never blocks or delays the gate.
type Detector struct {
	mu       sync.Mutex
	fetched  map[string]time.Time
	reported map[string]bool
	policy   Policy
}

func NewDetector(policy Policy) *Detector {
	if policy == "" {
		policy = PolicyAdvisory
	}
	return &Detector{
		fetched:  make(map[string]time.Time),
		reported: make(map[string]bool),
		policy:   policy,
	}
}

// RecordBaitFetch marks that the session's browser actually loaded the bait
// asset, i.e. no blocker filtered it.
func (d *Detector) RecordBaitFetch(session string) {
	d.mu.Lock()
	d.fetched[session] = time.Now()
	d.mu.Unlock()
}

// RecordClientReport stores the browser-side verdict (bait element hidden,
// probe image blocked) sent by the gate page.
func (d *Detector) RecordClientReport(session string, detected bool) {
	d.mu.Lock()
	d.reported[session] = detected
	d.mu.Unlock()
}

// Verdict is the detector's current view of a session, computed from the
// signals recorded so far. It is re-evaluated on every call; a bait fetch
// recorded after an earlier negative verdict flips it back to clean.
func (d *Detector) Verdict(session string) Signal {
	d.mu.Lock()
	_, baitSeen := d.fetched[session]
	clientSaysBlocked := d.reported[session]
	d.mu.Unlock()

	switch {
	case clientSaysBlocked:
		return Signal{Detected: true, Reason: "client probe reported blocker"}
	case !baitSeen:
		return Signal{Detected: true, Reason: "bait asset never fetched"}
	}
	return Signal{}
}

// Detect resolves asynchronously after a short grace period, never
// synchronously. The result is advisory; callers log it and move on.
func (d *Detector) Detect(ctx context.Context, session string) <-chan Signal {
	out := make(chan Signal, 1)
	go func() {
		defer close(out)
		select {
		case <-ctx.Done():
			out <- Signal{}
			return
		case <-time.After(detectGrace):
		}

		sig := d.Verdict(session)
		if sig.Detected {
			slog.Info("Ad blocker suspected", "session", session, "reason", sig.Reason)
		}
		out <- sig
	}()
	return out
}

// Allowed applies the policy. Under Advisory it always returns true; the
// permissiveness is intentional, not a bug.
func (d *Detector) Allowed(sig Signal) bool {
	if d.policy == PolicyEnforce {
		return !sig.Detected
	}
	return true
}

// Forget drops per-session detection state once the gate is done with it.
func (d *Detector) Forget(session string) {
	d.mu.Lock()
	delete(d.fetched, session)
	delete(d.reported, session)
	d.mu.Unlock()
}
