// Package testutil holds helpers shared by package tests.
package testutil

import (
	"os"
	"testing"
)

// SkipIfNoNetwork skips the test if CHATSYNC_TEST_SKIP_NETWORK is set.
// Use it for tests that open loopback listeners, which sandboxed
// environments may refuse.
func SkipIfNoNetwork(t *testing.T) {
	t.Helper()
	if os.Getenv("CHATSYNC_TEST_SKIP_NETWORK") != "" {
		t.Skip("skipping network test: CHATSYNC_TEST_SKIP_NETWORK is set")
	}
}
