package gate

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"adgate/internal/adblock"
	"adgate/internal/backend"
	"adgate/internal/models"
	"adgate/internal/pending"
)

const (
	tickInterval         = time.Second
	failRedirectDelay    = 3 * time.Second
	successRedirectDelay = 2 * time.Second
	impressionTimeout    = 3 * time.Second
)

var (
	// ErrNotSkippable: the countdown has not finished, nothing changes.
	ErrNotSkippable = errors.New("please wait for the countdown to finish")
	// ErrVerificationFailed: both verification paths said no; the session
	// stays skip-eligible so the user can try again.
	ErrVerificationFailed = errors.New("advertisement verification failed, please wait")
	// ErrGateClosed: the session is disposed, failed, or its slot is gone.
	ErrGateClosed = errors.New("download gate is closed")
)

type adSource interface {
	Resolve(ctx context.Context, containerID string) models.Advertisement
}

type viewVerifier interface {
	VerifyView(ctx context.Context, req backend.VerifyViewRequest) (bool, error)
}

type tokenIssuer interface {
	Issue(sessionID, downloadURL, filename string) (string, error)
}

type impressionSink interface {
	TrackImpression(ctx context.Context, adID string, viewTime int, metadata map[string]string) error
}

type notifier interface {
	BroadcastGate(snap models.GateSnapshot)
}

// Session is one pass through the download gate. All state lives behind one
// mutex and every async callback re-checks active, so a disposed session
// ignores late timer ticks and network responses.
type Session struct {
	id          string
	store       pending.Store
	source      adSource
	verifier    viewVerifier
	tokens      tokenIssuer
	impressions impressionSink
	blockers    *adblock.Detector
	hub         notifier
	userAgent   string

	// tickEvery == 0 disables the internal ticker; ticks are then driven
	// explicitly via Tick.
	tickEvery time.Duration
	now       func() time.Time

	mu          sync.Mutex
	active      bool
	state       models.GateState
	rec         models.PendingDownload
	ad          models.Advertisement
	initial     int
	countdown   int
	canSkip     bool
	message     string
	downloadURL string
	redirectURL string
	redirectAt  time.Time
	tickStop    chan struct{}
}

func newSession(id string, store pending.Store, source adSource, verifier viewVerifier,
	tokens tokenIssuer, impressions impressionSink, blockers *adblock.Detector, hub notifier) *Session {
	return &Session{
		id:          id,
		store:       store,
		source:      source,
		verifier:    verifier,
		tokens:      tokens,
		impressions: impressions,
		blockers:    blockers,
		hub:         hub,
		tickEvery:   tickInterval,
		now:         time.Now,
		active:      true,
		state:       models.StateInitializing,
	}
}

// begin runs the Initializing -> AdResolving -> AdShowing leg. It is called
// once, on a goroutine owned by the Manager.
func (s *Session) begin(ctx context.Context) {
	rec, err := s.store.Peek(ctx, s.id)
	if err != nil {
		s.fail("Missing download information. Please start the download again.")
		return
	}
	if verr := rec.Validate(); verr != nil {
		// burn invalid slots so a reload cannot loop on them
		if cerr := s.store.Clear(ctx, s.id); cerr != nil {
			slog.Warn("Could not clear invalid pending slot", "session", s.id, "error", cerr)
		}
		s.fail("Invalid download information: " + verr.Error())
		return
	}

	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return
	}
	s.rec = rec
	s.state = models.StateAdResolving
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.broadcast(snap)

	ad := s.source.Resolve(ctx, s.id)

	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return
	}
	s.ad = ad
	s.initial = ad.Settings.CountdownSeconds
	if s.initial < 0 {
		s.initial = 0
	}
	s.countdown = s.initial
	eligible := s.countdown == 0
	if eligible {
		s.canSkip = true
		s.state = models.StateSkipEligible
	} else {
		s.state = models.StateAdShowing
		s.startTickerLocked()
	}
	snap = s.snapshotLocked()
	s.mu.Unlock()
	s.broadcast(snap)
	if eligible {
		s.watchBlockers()
	}
}

// watchBlockers logs the advisory ad-blocker verdict. It only runs once the
// countdown has finished, so the gate page has had the whole wait to fetch
// the bait asset. Enforcement is not decided here: Skip consults the
// detector fresh each time, so a bait fetch arriving later clears the deny.
func (s *Session) watchBlockers() {
	if s.blockers == nil {
		return
	}
	go func() {
		<-s.blockers.Detect(context.Background(), s.id)
	}()
}

// startTickerLocked establishes the countdown timer. Any prior ticker is
// cancelled first; exactly one may run per session.
func (s *Session) startTickerLocked() {
	s.stopTickerLocked()
	if s.tickEvery == 0 {
		return
	}
	stop := make(chan struct{})
	s.tickStop = stop
	go func() {
		ticker := time.NewTicker(s.tickEvery)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				s.Tick()
			}
		}
	}()
}

func (s *Session) stopTickerLocked() {
	if s.tickStop != nil {
		close(s.tickStop)
		s.tickStop = nil
	}
}

// Tick decrements the countdown by one second. The displayed value is
// clamped at zero; reaching zero is the only way to become skip-eligible.
func (s *Session) Tick() {
	s.mu.Lock()
	if !s.active || s.state != models.StateAdShowing {
		s.mu.Unlock()
		return
	}
	if s.countdown > 0 {
		s.countdown--
	}
	eligible := false
	if s.countdown <= 0 {
		s.countdown = 0
		s.canSkip = true
		s.state = models.StateSkipEligible
		s.stopTickerLocked()
		eligible = true
	}
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.broadcast(snap)
	if eligible {
		s.watchBlockers()
	}
}

// Skip is the user advancing past the gate. It verifies the ad view through
// the server when possible and the local elapsed clock otherwise, and only
// releases the download when one of the two agrees the wait was served.
func (s *Session) Skip(ctx context.Context) (models.GateSnapshot, error) {
	s.mu.Lock()
	if !s.active {
		snap := s.snapshotLocked()
		s.mu.Unlock()
		return snap, ErrGateClosed
	}
	switch s.state {
	case models.StateSucceeded:
		// already released; second skip is a no-op
		snap := s.snapshotLocked()
		s.mu.Unlock()
		return snap, nil
	case models.StateFailed:
		snap := s.snapshotLocked()
		s.mu.Unlock()
		return snap, ErrGateClosed
	case models.StateSkipEligible:
		// proceed
	default:
		snap := s.snapshotLocked()
		s.mu.Unlock()
		return snap, ErrNotSkippable
	}
	if s.blockers != nil {
		// evaluated on every attempt: disabling the blocker and retrying
		// is enough, nothing sticks
		if sig := s.blockers.Verdict(s.id); !s.blockers.Allowed(sig) {
			snap := s.snapshotLocked()
			s.mu.Unlock()
			return snap, ErrVerificationFailed
		}
	}
	s.state = models.StateVerifying
	ad := s.ad
	rec := s.rec
	canSkip := s.canSkip
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.broadcast(snap)

	if !s.verified(ctx, ad, rec, canSkip) {
		// soft failure: stay eligible, timer untouched
		s.mu.Lock()
		if s.active && s.state == models.StateVerifying {
			s.state = models.StateSkipEligible
		}
		snap = s.snapshotLocked()
		s.mu.Unlock()
		s.broadcast(snap)
		return snap, ErrVerificationFailed
	}
	return s.release(ctx, ad, rec)
}

// verified runs the dual-path check: the server's verdict when the ad has an
// id, then the local clock. The fallback needs both the elapsed wall time
// and the independently observed countdown completion, so neither a skewed
// clock nor a stalled verify call alone can shortcut the wait.
func (s *Session) verified(ctx context.Context, ad models.Advertisement, rec models.PendingDownload, canSkip bool) bool {
	if ad.ID != "" {
		ok, err := s.verifier.VerifyView(ctx, backend.VerifyViewRequest{
			AdID:          ad.ID,
			DownloadToken: rec.Token,
			DownloadURL:   rec.URL,
			Timestamp:     s.now().UnixMilli(),
			UserAgent:     s.userAgent,
		})
		if err != nil {
			slog.Warn("Server ad verification unavailable, using elapsed-time check", "session", s.id, "error", err)
		} else if ok {
			return true
		}
	}

	elapsed := s.now().Sub(ad.LoadTime)
	required := time.Duration(ad.Settings.CountdownSeconds) * time.Second
	return canSkip && elapsed >= required
}

// release mints the one-shot token and then consumes the pending slot. The
// mint comes first so a signing failure leaves the slot intact for a retry;
// Take stays the critical section that keeps a racing tab from double-
// spending the same intent. A token minted by the losing tab is never
// returned to anyone.
func (s *Session) release(ctx context.Context, ad models.Advertisement, rec models.PendingDownload) (models.GateSnapshot, error) {
	tok, err := s.tokens.Issue(s.id, rec.URL, rec.DownloadName())
	if err != nil {
		slog.Error("Could not mint release token", "session", s.id, "error", err)
		s.fail("Could not prepare the download. Please try again.")
		return s.Snapshot(), err
	}

	if _, err := s.store.Take(ctx, s.id); err != nil {
		s.fail("This download was already claimed.")
		return s.Snapshot(), ErrGateClosed
	}

	s.mu.Lock()
	if !s.active {
		snap := s.snapshotLocked()
		s.mu.Unlock()
		return snap, ErrGateClosed
	}
	s.stopTickerLocked()
	s.state = models.StateSucceeded
	s.downloadURL = "/download/" + tok
	s.redirectURL = redirectTarget(rec)
	s.redirectAt = s.now().Add(successRedirectDelay)
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.trackImpression(ad)
	s.broadcast(snap)
	slog.Info("Download released", "session", s.id, "app", rec.AppName, "adFormat", ad.Format)
	return snap, nil
}

// redirectTarget: back to the app page when we know it, the caller's return
// url otherwise, home as the last resort.
func redirectTarget(rec models.PendingDownload) string {
	if rec.AppSlug != "" {
		return "/apps/" + rec.AppSlug
	}
	if rec.ReturnURL != "" {
		return rec.ReturnURL
	}
	return "/"
}

// trackImpression is a detached task; its outcome never reaches the state
// machine.
func (s *Session) trackImpression(ad models.Advertisement) {
	viewTime := int(s.now().Sub(ad.LoadTime) / time.Second)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), impressionTimeout)
		defer cancel()
		err := s.impressions.TrackImpression(ctx, ad.ID, viewTime, map[string]string{
			"action":  "download_unlocked",
			"network": ad.Network,
			"session": s.id,
		})
		if err != nil {
			slog.Debug("Impression not tracked", "session", s.id, "error", err)
		}
	}()
}

func (s *Session) fail(message string) {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return
	}
	s.stopTickerLocked()
	s.state = models.StateFailed
	s.message = message
	s.redirectURL = "/"
	s.redirectAt = s.now().Add(failRedirectDelay)
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.broadcast(snap)
	slog.Info("Gate failed", "session", s.id, "message", message)
}

// reapable reports whether the session is done for good: either already
// disposed, or terminal with its redirect deadline plus linger behind us.
func (s *Session) reapable(now time.Time, linger time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return true
	}
	if s.state != models.StateSucceeded && s.state != models.StateFailed {
		return false
	}
	return now.After(s.redirectAt.Add(linger))
}

// Dispose makes the session inert: the ticker stops and every late callback
// becomes a no-op.
func (s *Session) Dispose() {
	s.mu.Lock()
	s.active = false
	s.stopTickerLocked()
	s.mu.Unlock()
	if s.blockers != nil {
		s.blockers.Forget(s.id)
	}
}

func (s *Session) Snapshot() models.GateSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() models.GateSnapshot {
	snap := models.GateSnapshot{
		SessionID:   s.id,
		State:       s.state,
		Countdown:   s.countdown,
		Initial:     s.initial,
		CanSkip:     s.canSkip,
		AdTitle:     s.ad.Title,
		AdFormat:    s.ad.Format,
		Message:     s.message,
		DownloadURL: s.downloadURL,
		RedirectURL: s.redirectURL,
	}
	if !s.redirectAt.IsZero() {
		snap.RedirectAt = s.redirectAt.Format(time.RFC3339)
	}
	return snap
}

func (s *Session) broadcast(snap models.GateSnapshot) {
	if s.hub != nil {
		s.hub.BroadcastGate(snap)
	}
}
