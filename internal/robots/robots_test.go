package robots

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDisabledPolicyAllowsEverything(t *testing.T) {
	t.Parallel()

	policy := New(false, "sitemapper-bot", nil)
	assert.True(t, policy.Allowed(context.Background(), "https://example.com/anything"))
}

func TestEnforcerHonorsDisallow(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/robots.txt", r.URL.Path)
		fmt.Fprint(w, "User-agent: *\nDisallow: /private/\n")
	}))
	defer srv.Close()

	policy := New(true, "sitemapper-bot", nil)

	assert.False(t, policy.Allowed(context.Background(), srv.URL+"/private/report"))
	assert.True(t, policy.Allowed(context.Background(), srv.URL+"/public"))
}

func TestEnforcerCachesPerHost(t *testing.T) {
	t.Parallel()

	var fetches atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fetches.Add(1)
		fmt.Fprint(w, "User-agent: *\nAllow: /\n")
	}))
	defer srv.Close()

	policy := New(true, "sitemapper-bot", nil)
	for i := 0; i < 5; i++ {
		policy.Allowed(context.Background(), fmt.Sprintf("%s/page-%d", srv.URL, i))
	}
	assert.Equal(t, int64(1), fetches.Load(), "one robots fetch per host per run")
}

func TestEnforcerUnreachableRobotsAllows(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	dead := srv.URL
	srv.Close()

	policy := New(true, "sitemapper-bot", nil)
	assert.True(t, policy.Allowed(context.Background(), dead+"/page"))
}

func TestEnforcerMissingRobotsAllows(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	policy := New(true, "sitemapper-bot", nil)
	assert.True(t, policy.Allowed(context.Background(), srv.URL+"/page"))
}

func TestEnforcerAgentSpecificGroup(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, "User-agent: sitemapper-bot\nDisallow: /blocked\n\nUser-agent: *\nDisallow:\n")
	}))
	defer srv.Close()

	policy := New(true, "sitemapper-bot", nil)
	assert.False(t, policy.Allowed(context.Background(), srv.URL+"/blocked"))
	assert.True(t, policy.Allowed(context.Background(), srv.URL+"/open"))
}
