package crawler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeCanonicalForm(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		base string
		want string
	}{
		{
			name: "lowercases scheme and host",
			in:   "HTTPS://Example.COM/Jobs",
			want: "https://example.com/Jobs",
		},
		{
			name: "strips fragment",
			in:   "https://example.com/page#section-2",
			want: "https://example.com/page",
		},
		{
			name: "sorts query parameters",
			in:   "https://example.com/browse-jobs?location=leeds&category=retail",
			want: "https://example.com/browse-jobs?category=retail&location=leeds",
		},
		{
			name: "keeps blank query values",
			in:   "https://example.com/search?q=&page=2",
			want: "https://example.com/search?page=2&q=",
		},
		{
			name: "trims single trailing slash",
			in:   "https://example.com/jobs/",
			want: "https://example.com/jobs",
		},
		{
			name: "root path slash survives",
			in:   "https://example.com/",
			want: "https://example.com/",
		},
		{
			name: "strips default https port",
			in:   "https://example.com:443/page",
			want: "https://example.com/page",
		},
		{
			name: "strips default http port",
			in:   "http://example.com:80/page",
			want: "http://example.com/page",
		},
		{
			name: "keeps non-default port",
			in:   "https://example.com:8443/page",
			want: "https://example.com:8443/page",
		},
		{
			name: "resolves relative against base",
			in:   "../jobs/retail",
			base: "https://example.com/browse/all/",
			want: "https://example.com/browse/jobs/retail",
		},
		{
			name: "resolves root-relative against base",
			in:   "/contact",
			base: "https://example.com/deep/page",
			want: "https://example.com/contact",
		},
		{
			name: "path case is preserved",
			in:   "https://example.com/Browse-Jobs?Cat=A",
			want: "https://example.com/Browse-Jobs?Cat=A",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := Normalize(tc.in, tc.base)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestNormalizeIsIdempotent(t *testing.T) {
	t.Parallel()

	inputs := []string{
		"HTTPS://Example.com/Jobs/?b=2&a=1#frag",
		"http://example.com:80/",
		"https://example.com/browse-jobs?location=&category=retail",
	}
	for _, in := range inputs {
		once, err := Normalize(in, "")
		require.NoError(t, err)
		twice, err := Normalize(once, "")
		require.NoError(t, err)
		assert.Equal(t, once, twice, "normalizing %q twice must be stable", in)
	}
}

func TestNormalizeRejectsInvalidInput(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		base string
	}{
		{name: "mailto scheme", in: "mailto:hr@example.com"},
		{name: "javascript scheme", in: "javascript:void(0)"},
		{name: "ftp scheme", in: "ftp://example.com/file"},
		{name: "relative without base", in: "/jobs"},
		{name: "empty input", in: ""},
		{name: "unparsable", in: "https://exa mple.com/%zz"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := Normalize(tc.in, tc.base)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidURL)
		})
	}
}

func TestNormalizeDistinguishesBlankParamFromAbsence(t *testing.T) {
	t.Parallel()

	withBlank, err := Normalize("https://example.com/search?q=", "")
	require.NoError(t, err)
	without, err := Normalize("https://example.com/search", "")
	require.NoError(t, err)
	assert.NotEqual(t, withBlank, without)
}

func TestHost(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "example.com", Host("https://Example.COM:8443/page"))
	assert.Equal(t, "example.com", Host("https://example.com"))
	assert.Equal(t, "", Host("://bad"))
}
