package radar

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   string
		want string
	}{
		{name: "empty", in: "", want: ""},
		{name: "whitespace only", in: "   ", want: "   "},
		{name: "default scheme", in: "example.com/app", want: "http://example.com/app"},
		{name: "lowercase host and scheme", in: "HTTPS://Example.COM/App", want: "https://example.com/App"},
		{name: "trailing slash", in: "https://acme.io/", want: "https://acme.io/"},
		{name: "trailing slash on path", in: "https://acme.io/launch///", want: "https://acme.io/launch"},
		{name: "bare host", in: "https://acme.io", want: "https://acme.io/"},
		{name: "query and fragment dropped", in: "https://acme.io/p?ref=hn#top", want: "https://acme.io/p"},
		{name: "surrounding whitespace", in: "  https://acme.io/p  ", want: "https://acme.io/p"},
		{name: "port kept", in: "http://Localhost:8080/x/", want: "http://localhost:8080/x"},
		{name: "credentials kept", in: "https://user:pw@acme.io/a", want: "https://user:pw@acme.io/a"},
		{name: "unparsable degrades", in: "http://[::1/bad?x=1", want: "http://[::1/bad"},
		{name: "no host degrades", in: "/relative/path?x=1", want: "/relative/path"},
		{name: "url in query without scheme", in: "example.com/redirect?to=http://foo", want: "http://example.com/redirect"},
		{name: "url in query with scheme", in: "https://acme.io/r?u=https://x.io/a", want: "https://acme.io/r"},
		{name: "scheme marker in path", in: "news.example.com/a://b", want: "http://news.example.com/a://b"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, Normalize(tc.in))
		})
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	t.Parallel()

	inputs := []string{
		"",
		"  ",
		"Example.com",
		"https://ACME.io/Path/?utm=1",
		"http://[::1/bad?x=1",
		"ftp://files.example.org/pub/",
		"https://acme.io/a%20b/",
		"/relative?x",
		"example.com/redirect?to=http://foo",
		"news.example.com/item?u=https://x.io/a",
		"/relative?next=http://x",
		"?u=http://x",
		"acme.io#http://frag",
	}
	for _, in := range inputs {
		once := Normalize(in)
		require.Equal(t, once, Normalize(once), "input %q", in)
	}
}

func TestNormalizeSameIdentityAcrossSources(t *testing.T) {
	t.Parallel()

	a := Normalize("https://acme.io/")
	b := Normalize("https://ACME.io?ref=producthunt")
	require.Equal(t, a, b)
}

func TestNormalizeEmbeddedURLKeepsIdentity(t *testing.T) {
	t.Parallel()

	require.Equal(t, Normalize("example.com/item"), Normalize("example.com/item?u=https://x"))
	require.Equal(t, Normalize("news.example.com/item"), Normalize("news.example.com/item?u=https://x.io/a"))
}
