package adblock

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDetectBaitFetched(t *testing.T) {
	d := NewDetector(PolicyAdvisory)
	d.RecordBaitFetch("s1")

	sig := <-d.Detect(context.Background(), "s1")
	require.False(t, sig.Detected)
}

func TestDetectBaitNeverFetched(t *testing.T) {
	d := NewDetector(PolicyAdvisory)

	sig := <-d.Detect(context.Background(), "s1")
	require.True(t, sig.Detected)
	require.Equal(t, "bait asset never fetched", sig.Reason)
}

func TestDetectClientReport(t *testing.T) {
	d := NewDetector(PolicyAdvisory)
	d.RecordBaitFetch("s1")
	d.RecordClientReport("s1", true)

	sig := <-d.Detect(context.Background(), "s1")
	require.True(t, sig.Detected)
}

func TestVerdictFollowsLatestSignals(t *testing.T) {
	d := NewDetector(PolicyEnforce)

	require.True(t, d.Verdict("s1").Detected, "no bait fetch yet")

	d.RecordBaitFetch("s1")
	require.False(t, d.Verdict("s1").Detected, "a late bait fetch clears the verdict")

	d.RecordClientReport("s1", true)
	require.True(t, d.Verdict("s1").Detected, "an explicit client report wins")
}

func TestAdvisoryPolicyNeverDenies(t *testing.T) {
	d := NewDetector(PolicyAdvisory)
	require.True(t, d.Allowed(Signal{Detected: true}))
	require.True(t, d.Allowed(Signal{Detected: false}))
}

func TestEnforcePolicyDeniesOnDetection(t *testing.T) {
	d := NewDetector(PolicyEnforce)
	require.False(t, d.Allowed(Signal{Detected: true}))
	require.True(t, d.Allowed(Signal{Detected: false}))
}

func TestDetectCancelledContext(t *testing.T) {
	d := NewDetector(PolicyAdvisory)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sig := <-d.Detect(ctx, "s1")
	require.False(t, sig.Detected)
}

func TestForget(t *testing.T) {
	d := NewDetector(PolicyAdvisory)
	d.RecordBaitFetch("s1")
	d.Forget("s1")

	sig := <-d.Detect(context.Background(), "s1")
	require.True(t, sig.Detected)
}
