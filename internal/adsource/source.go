package adsource

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"adgate/internal/adnetwork"
	"adgate/internal/models"
)

const (
	networkCountdown  = 15
	fallbackCountdown = 5
	scriptTimeout     = 5 * time.Second
)

type networkLoader interface {
	LoadBestAvailable(ctx context.Context, containerID string, priority []string) adnetwork.Result
	TrackImpression(network, correlationID string)
}

type adFetcher interface {
	RandomAd(ctx context.Context, adType, placement string) (*models.Advertisement, error)
}

// Source resolves exactly one advertisement per gate session: real network
// first, then a backend-managed ad, then a synthetic fallback. Resolve never
// fails; every path ends in a usable record with a countdown >= 0.
type Source struct {
	networks networkLoader
	backend  adFetcher
	priority []string
	scripts  *http.Client
	now      func() time.Time
}

func New(networks networkLoader, backend adFetcher, priority []string) *Source {
	return &Source{
		networks: networks,
		backend:  backend,
		priority: priority,
		scripts:  &http.Client{Timeout: scriptTimeout},
		now:      time.Now,
	}
}

func (s *Source) Resolve(ctx context.Context, containerID string) models.Advertisement {
	if res := s.networks.LoadBestAvailable(ctx, containerID, s.priority); res.OK {
		s.networks.TrackImpression(res.Network, containerID)
		return models.Advertisement{
			Title:    "Sponsored content",
			Format:   models.FormatNetwork,
			Network:  res.Network,
			Settings: models.AdSettings{CountdownSeconds: networkCountdown},
			LoadTime: s.now(),
		}
	}

	ad, err := s.backend.RandomAd(ctx, "download", "button_click")
	if err != nil {
		slog.Warn("Backend ad fetch failed, falling through", "error", err)
	}
	if ad != nil {
		ad.LoadTime = s.now()
		if ad.Settings.CountdownSeconds <= 0 {
			ad.Settings.CountdownSeconds = networkCountdown
		}
		if ad.Format == models.FormatScript {
			s.loadScript(ad.ScriptURL)
		}
		return *ad
	}

	return models.Advertisement{
		Title:    "Preparing your download",
		Format:   models.FormatFallback,
		Settings: models.AdSettings{CountdownSeconds: fallbackCountdown},
		LoadTime: s.now(),
	}
}

// loadScript warms a script-format ad without gating on the outcome. The
// client timeout is the hard stop: a provider that never answers cannot
// stall the countdown.
func (s *Source) loadScript(scriptURL string) {
	go func() {
		resp, err := s.scripts.Get(scriptURL)
		if err != nil {
			slog.Debug("Ad script did not load in time, proceeding anyway", "url", scriptURL, "error", err)
			return
		}
		resp.Body.Close()
		slog.Debug("Ad script loaded", "url", scriptURL, "status", resp.StatusCode)
	}()
}
