package cookies

import (
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/unkn0wn-root/reqforge/internal/errdef"
)

type Cookie struct {
	Key      string `json:"key"`
	Value    string `json:"value"`
	Domain   string `json:"domain"`
	Path     string `json:"path"`
	Expires  string `json:"expires,omitempty"`
	Secure   bool   `json:"secure,omitempty"`
	HTTPOnly bool   `json:"httpOnly,omitempty"`
}

// ParseSetCookie parses one Set-Cookie header value. The first segment is
// key=value where only the first '=' splits, so values containing '=' stay
// intact. Attribute names match case-insensitively; unknown attributes are
// ignored. Missing domain falls back to the request host, missing path to "/".
func ParseSetCookie(header, defaultDomain string) (Cookie, error) {
	segments := strings.Split(header, ";")
	first := strings.TrimSpace(segments[0])
	if first == "" {
		return Cookie{}, errdef.New(errdef.CodeCookie, "empty set-cookie header")
	}

	key, value, found := strings.Cut(first, "=")
	key = strings.TrimSpace(key)
	if !found || key == "" {
		return Cookie{}, errdef.New(errdef.CodeCookie, "malformed cookie pair %q", first)
	}

	cookie := Cookie{
		Key:    key,
		Value:  strings.TrimSpace(value),
		Domain: defaultDomain,
		Path:   "/",
	}

	for _, segment := range segments[1:] {
		segment = strings.TrimSpace(segment)
		if segment == "" {
			continue
		}
		attr, attrValue, _ := strings.Cut(segment, "=")
		attrValue = strings.TrimSpace(attrValue)
		switch strings.ToLower(strings.TrimSpace(attr)) {
		case "path":
			if attrValue != "" {
				cookie.Path = attrValue
			}
		case "domain":
			if attrValue != "" {
				cookie.Domain = strings.TrimPrefix(attrValue, ".")
			}
		case "expires":
			cookie.Expires = attrValue
		case "secure":
			cookie.Secure = true
		case "httponly":
			cookie.HTTPOnly = true
		}
	}

	return cookie, nil
}

// HeaderValue serializes cookies into a Cookie request header value.
func HeaderValue(list []Cookie) string {
	if len(list) == 0 {
		return ""
	}
	var b strings.Builder
	for i, c := range list {
		if i > 0 {
			b.WriteString("; ")
		}
		b.WriteString(c.Key)
		b.WriteByte('=')
		b.WriteString(c.Value)
	}
	return b.String()
}

// Jar is the process-wide cookie store shared by every request. Entries key
// on (domain, path, name); a later cookie with the same key updates in place
// rather than wholesale replacing the jar, so concurrent response merges for
// overlapping domains all survive.
//
// Stored Expires strings are never used for eviction: this is a session
// scoped developer tool and the jar lives only as long as the process.
type Jar struct {
	mu      sync.RWMutex
	entries map[string][]Cookie
}

func NewJar() *Jar {
	return &Jar{entries: make(map[string][]Cookie)}
}

func (j *Jar) Add(cookie Cookie) {
	if cookie.Key == "" {
		return
	}
	domain := strings.TrimPrefix(strings.ToLower(cookie.Domain), ".")
	cookie.Domain = domain

	j.mu.Lock()
	defer j.mu.Unlock()

	list := j.entries[domain]
	for i, existing := range list {
		if existing.Key == cookie.Key && existing.Path == cookie.Path {
			list[i] = cookie
			return
		}
	}
	j.entries[domain] = append(list, cookie)
}

// ForDomain returns cookies whose stored domain suffix-matches the request
// domain. This is a plain suffix check, not RFC 6265 public-suffix matching;
// acceptable for a developer tool and documented as an approximation.
func (j *Jar) ForDomain(domain string) []Cookie {
	domain = strings.ToLower(domain)

	j.mu.RLock()
	defer j.mu.RUnlock()

	var out []Cookie
	for stored, list := range j.entries {
		if domainMatches(domain, stored) {
			out = append(out, list...)
		}
	}
	sort.SliceStable(out, func(i, k int) bool {
		if out[i].Domain != out[k].Domain {
			return out[i].Domain < out[k].Domain
		}
		return out[i].Key < out[k].Key
	})
	return out
}

// MergeSetCookies feeds every Set-Cookie header from a response into the
// jar. A malformed entry is skipped with a warning; the rest still land.
func (j *Jar) MergeSetCookies(headers []string, defaultDomain string, log zerolog.Logger) {
	for _, header := range headers {
		cookie, err := ParseSetCookie(header, defaultDomain)
		if err != nil {
			log.Warn().Err(err).Str("header", header).Msg("skipping malformed set-cookie")
			continue
		}
		j.Add(cookie)
	}
}

func (j *Jar) All() []Cookie {
	j.mu.RLock()
	defer j.mu.RUnlock()

	var out []Cookie
	for _, list := range j.entries {
		out = append(out, list...)
	}
	return out
}

func (j *Jar) Clear() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = make(map[string][]Cookie)
}

func domainMatches(request, stored string) bool {
	if request == stored {
		return true
	}
	return strings.HasSuffix(request, "."+stored)
}
