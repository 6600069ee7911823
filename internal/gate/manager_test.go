package gate

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"adgate/internal/models"
	"adgate/internal/pending"
	"adgate/internal/token"
)

func newTestManager(t *testing.T, ad models.Advertisement) (*Manager, pending.Store) {
	t.Helper()
	store := pending.NewFileStore(t.TempDir())
	tokens := token.NewManager([]byte("test-secret"))
	m := NewManager(store, &fakeSource{ad: ad}, &fakeVerifier{}, tokens, &fakeSink{}, nil, nil)
	t.Cleanup(m.Stop)
	return m, store
}

func TestManagerOpenReturnsSameSession(t *testing.T) {
	m, store := newTestManager(t, fallbackAd())

	id, err := m.CreateIntent(context.Background(), validRecord())
	require.NoError(t, err)
	_, err = store.Peek(context.Background(), id)
	require.NoError(t, err)

	first := m.Open(id, "ua")
	second := m.Open(id, "other-ua")
	require.Same(t, first, second, "a duplicate tab must attach to the running session")
}

func TestManagerFullPassWithInstantAd(t *testing.T) {
	ad := fallbackAd()
	ad.Settings.CountdownSeconds = 0
	ad.LoadTime = time.Time{} // stamped by the source in production; zero here means no extra wait
	m, store := newTestManager(t, ad)

	id, err := m.CreateIntent(context.Background(), validRecord())
	require.NoError(t, err)

	s := m.Open(id, "ua")
	require.Eventually(t, func() bool {
		return s.Snapshot().State == models.StateSkipEligible
	}, 2*time.Second, 10*time.Millisecond)

	snap, err := s.Skip(context.Background())
	require.NoError(t, err)
	require.Equal(t, models.StateSucceeded, snap.State)
	require.NotEmpty(t, snap.DownloadURL)

	_, err = store.Peek(context.Background(), id)
	require.ErrorIs(t, err, pending.ErrNoPending)
}

func TestManagerUnknownSessionFailsClosed(t *testing.T) {
	m, _ := newTestManager(t, fallbackAd())

	s := m.Open("never-registered", "ua")
	require.Eventually(t, func() bool {
		return s.Snapshot().State == models.StateFailed
	}, 2*time.Second, 10*time.Millisecond)
	require.Equal(t, "/", s.Snapshot().RedirectURL)
}

func TestManagerReapsFinishedSessions(t *testing.T) {
	m, _ := newTestManager(t, fallbackAd())
	m.reapAfter = -10 * time.Second // terminal sessions are reapable right away

	ghost := m.Open("never-registered", "ua")
	require.Eventually(t, func() bool {
		return ghost.Snapshot().State == models.StateFailed
	}, 2*time.Second, 10*time.Millisecond)

	id, err := m.CreateIntent(context.Background(), validRecord())
	require.NoError(t, err)
	live := m.Open(id, "ua")

	m.reap()

	_, ok := m.Get("never-registered")
	require.False(t, ok, "a finished session past its redirect window must be evicted")
	_, err = ghost.Skip(context.Background())
	require.ErrorIs(t, err, ErrGateClosed, "evicted sessions are disposed")

	// a session still working its countdown is left alone
	got, ok := m.Get(id)
	require.True(t, ok)
	require.Same(t, live, got)
}

func TestManagerStopDisposesSessions(t *testing.T) {
	m, _ := newTestManager(t, fallbackAd())

	id, err := m.CreateIntent(context.Background(), validRecord())
	require.NoError(t, err)
	s := m.Open(id, "ua")

	m.Stop()

	_, err = s.Skip(context.Background())
	require.ErrorIs(t, err, ErrGateClosed)
}
