package adnetwork

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
)

const (
	loadTimeout = 3 * time.Second
	userAgent   = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"
)

// Network is one third-party ad provider. Load returns nil only when the
// provider actually produced a renderable creative for the container.
type Network interface {
	ID() string
	Load(ctx context.Context, containerID string) error
}

// TagNetwork fetches the provider's tag endpoint and probes the returned
// markup for creative elements. Providers that answer with an empty shell
// (no script, iframe or ins element) count as failed.
type TagNetwork struct {
	id     string
	tagURL string
	client *http.Client
}

func NewTagNetwork(id, tagURL string) *TagNetwork {
	return &TagNetwork{id: id, tagURL: tagURL, client: &http.Client{Timeout: loadTimeout}}
}

func (n *TagNetwork) ID() string { return n.id }

func (n *TagNetwork) Load(ctx context.Context, containerID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, n.tagURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("tag endpoint returned %s", resp.Status)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return err
	}
	if doc.Find("script[src], iframe, ins").Length() == 0 {
		return fmt.Errorf("no creative markup in tag response")
	}
	return nil
}

// Result reports which network, if any, rendered for a container.
type Result struct {
	Network string
	OK      bool
}

type impressionSink interface {
	TrackImpression(ctx context.Context, adID string, viewTime int, metadata map[string]string) error
}

// Loader tries networks in priority order and remembers what each container
// already rendered, so re-entrant calls cannot double-inject.
type Loader struct {
	mu          sync.Mutex
	networks    map[string]Network
	loaded      map[string]string
	impressions impressionSink
	timeout     time.Duration
}

func NewLoader(networks []Network, impressions impressionSink) *Loader {
	byID := make(map[string]Network, len(networks))
	for _, n := range networks {
		byID[n.ID()] = n
	}
	return &Loader{
		networks:    byID,
		loaded:      make(map[string]string),
		impressions: impressions,
		timeout:     loadTimeout,
	}
}

// LoadBestAvailable never returns an error; a provider failure just means
// "try the next one".
func (l *Loader) LoadBestAvailable(ctx context.Context, containerID string, priority []string) Result {
	l.mu.Lock()
	if network, ok := l.loaded[containerID]; ok {
		l.mu.Unlock()
		return Result{Network: network, OK: true}
	}
	l.mu.Unlock()

	for _, id := range priority {
		network, ok := l.networks[id]
		if !ok {
			continue
		}

		loadCtx, cancel := context.WithTimeout(ctx, l.timeout)
		err := network.Load(loadCtx, containerID)
		cancel()
		if err != nil {
			slog.Debug("Ad network unavailable", "network", id, "error", err)
			continue
		}

		l.mu.Lock()
		l.loaded[containerID] = id
		l.mu.Unlock()
		slog.Info("Ad network rendered", "network", id, "container", containerID)
		return Result{Network: id, OK: true}
	}
	return Result{}
}

// TrackImpression is a detached task: spawned, never awaited, errors dropped
// after logging.
func (l *Loader) TrackImpression(network, correlationID string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), loadTimeout)
		defer cancel()
		err := l.impressions.TrackImpression(ctx, "", 0, map[string]string{
			"network":       network,
			"correlationId": correlationID,
		})
		if err != nil {
			slog.Debug("Network impression not tracked", "network", network, "error", err)
		}
	}()
}
