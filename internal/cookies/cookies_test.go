package cookies

import (
	"sync"
	"testing"

	"github.com/rs/zerolog"
)

func TestParseSetCookieRoundTrip(t *testing.T) {
	t.Parallel()

	cookie, err := ParseSetCookie("sid=abc123; Path=/; HttpOnly", "example.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cookie.Key != "sid" || cookie.Value != "abc123" {
		t.Fatalf("unexpected pair %q=%q", cookie.Key, cookie.Value)
	}
	if cookie.Domain != "example.com" {
		t.Fatalf("expected default domain, got %q", cookie.Domain)
	}
	if cookie.Path != "/" {
		t.Fatalf("expected path /, got %q", cookie.Path)
	}
	if !cookie.HTTPOnly {
		t.Fatal("expected HttpOnly flag")
	}
	if cookie.Secure {
		t.Fatal("secure must stay unset")
	}
}

func TestParseSetCookieDomainStripping(t *testing.T) {
	t.Parallel()

	cookie, err := ParseSetCookie("x=1; Domain=.example.com", "ignored")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cookie.Domain != "example.com" {
		t.Fatalf("expected leading dot removed, got %q", cookie.Domain)
	}
}

func TestParseSetCookieValueWithEquals(t *testing.T) {
	t.Parallel()

	cookie, err := ParseSetCookie("token=a=b=c; Secure", "example.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cookie.Value != "a=b=c" {
		t.Fatalf("only first '=' splits, got value %q", cookie.Value)
	}
	if !cookie.Secure {
		t.Fatal("expected secure flag")
	}
}

func TestParseSetCookieUnknownAttributesIgnored(t *testing.T) {
	t.Parallel()

	cookie, err := ParseSetCookie("a=1; SameSite=Lax; Max-Age=60; Expires=Wed, 21 Oct 2026 07:28:00 GMT", "example.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cookie.Expires != "Wed, 21 Oct 2026 07:28:00 GMT" {
		t.Fatalf("unexpected expires %q", cookie.Expires)
	}
}

func TestParseSetCookieMalformed(t *testing.T) {
	t.Parallel()

	if _, err := ParseSetCookie("", "example.com"); err == nil {
		t.Fatal("expected error for empty header")
	}
	if _, err := ParseSetCookie("novalue", "example.com"); err == nil {
		t.Fatal("expected error for pair without '='")
	}
	if _, err := ParseSetCookie("=orphan", "example.com"); err == nil {
		t.Fatal("expected error for empty key")
	}
}

func TestJarSuffixMatch(t *testing.T) {
	t.Parallel()

	jar := NewJar()
	jar.Add(Cookie{Key: "root", Value: "1", Domain: "example.com", Path: "/"})
	jar.Add(Cookie{Key: "sub", Value: "2", Domain: "api.example.com", Path: "/"})
	jar.Add(Cookie{Key: "other", Value: "3", Domain: "example.org", Path: "/"})

	got := jar.ForDomain("api.example.com")
	if len(got) != 2 {
		t.Fatalf("expected 2 cookies, got %d", len(got))
	}
	for _, c := range got {
		if c.Key == "other" {
			t.Fatal("example.org cookie must not match")
		}
	}

	if got := jar.ForDomain("example.com"); len(got) != 1 || got[0].Key != "root" {
		t.Fatalf("parent domain must not see subdomain cookies, got %v", got)
	}

	// notexample.com must not suffix-match example.com
	if got := jar.ForDomain("notexample.com"); len(got) != 0 {
		t.Fatalf("expected no cookies for notexample.com, got %v", got)
	}
}

func TestJarUpdateInPlace(t *testing.T) {
	t.Parallel()

	jar := NewJar()
	jar.Add(Cookie{Key: "sid", Value: "old", Domain: "example.com", Path: "/"})
	jar.Add(Cookie{Key: "sid", Value: "new", Domain: "example.com", Path: "/"})

	got := jar.ForDomain("example.com")
	if len(got) != 1 {
		t.Fatalf("expected single entry, got %d", len(got))
	}
	if got[0].Value != "new" {
		t.Fatalf("expected updated value, got %q", got[0].Value)
	}
}

func TestMergeSetCookiesSkipsMalformed(t *testing.T) {
	t.Parallel()

	jar := NewJar()
	jar.MergeSetCookies([]string{
		"good=1; Path=/",
		"",
		"alsogood=2",
	}, "example.com", zerolog.Nop())

	if got := jar.ForDomain("example.com"); len(got) != 2 {
		t.Fatalf("expected 2 cookies after merge, got %d", len(got))
	}
}

func TestJarConcurrentMerge(t *testing.T) {
	t.Parallel()

	jar := NewJar()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			jar.MergeSetCookies([]string{"shared=1", "x=y"}, "example.com", zerolog.Nop())
			jar.Add(Cookie{Key: "k", Value: "v", Domain: "example.com", Path: "/"})
		}(i)
	}
	wg.Wait()

	if got := jar.ForDomain("example.com"); len(got) != 3 {
		t.Fatalf("overlapping merges must all survive, got %d cookies", len(got))
	}
}

func TestHeaderValue(t *testing.T) {
	t.Parallel()

	value := HeaderValue([]Cookie{
		{Key: "a", Value: "1"},
		{Key: "b", Value: "2"},
	})
	if value != "a=1; b=2" {
		t.Fatalf("unexpected header value %q", value)
	}
	if HeaderValue(nil) != "" {
		t.Fatal("empty list must serialize to empty string")
	}
}
