package auth

import (
	"encoding/base64"
	"net/http"
	"net/url"

	"github.com/unkn0wn-root/reqforge/internal/reqdef"
	"github.com/unkn0wn-root/reqforge/internal/vars"
)

// Resolved is an auth descriptor with every template leaf substituted. The
// composer applies the wire mapping for the schemes it can express as plain
// header/query contributions; Digest and OAuth descriptors travel onward to
// the execution boundary, which owns the challenge and signature flows.
type Resolved struct {
	Type   reqdef.AuthType
	Basic  *reqdef.BasicAuth
	Bearer *reqdef.BearerAuth
	APIKey *reqdef.APIKeyAuth
	Digest *reqdef.DigestAuth
	OAuth1 *reqdef.OAuth1Auth
	OAuth2 *reqdef.OAuth2Auth
}

func (r Resolved) None() bool {
	return r.Type == reqdef.AuthNone || r.Type == ""
}

// Resolve substitutes the configured auth against env. INHERIT swaps in the
// workspace default first; INHERIT with no default resolves to NONE. The
// input config is never mutated.
func Resolve(cfg reqdef.AuthConfig, workspaceDefault *reqdef.AuthConfig, env vars.Env) Resolved {
	if cfg.Type == reqdef.AuthInherit {
		if workspaceDefault == nil || workspaceDefault.Type == reqdef.AuthInherit {
			return Resolved{Type: reqdef.AuthNone}
		}
		cfg = *workspaceDefault
	}

	resolved := Resolved{Type: cfg.Type}
	switch cfg.Type {
	case reqdef.AuthBasic:
		if cfg.Basic != nil {
			resolved.Basic = &reqdef.BasicAuth{
				Username: vars.Substitute(cfg.Basic.Username, env),
				Password: vars.Substitute(cfg.Basic.Password, env),
			}
		}
	case reqdef.AuthBearer:
		if cfg.Bearer != nil {
			resolved.Bearer = &reqdef.BearerAuth{
				Token: vars.Substitute(cfg.Bearer.Token, env),
			}
		}
	case reqdef.AuthAPIKey:
		if cfg.APIKey != nil {
			resolved.APIKey = &reqdef.APIKeyAuth{
				Key:   vars.Substitute(cfg.APIKey.Key, env),
				Value: vars.Substitute(cfg.APIKey.Value, env),
				AddTo: cfg.APIKey.AddTo,
			}
		}
	case reqdef.AuthDigest:
		if cfg.Digest != nil {
			resolved.Digest = &reqdef.DigestAuth{
				Username:  vars.Substitute(cfg.Digest.Username, env),
				Password:  vars.Substitute(cfg.Digest.Password, env),
				Realm:     vars.Substitute(cfg.Digest.Realm, env),
				Nonce:     vars.Substitute(cfg.Digest.Nonce, env),
				Algorithm: cfg.Digest.Algorithm,
				QOP:       cfg.Digest.QOP,
				Opaque:    vars.Substitute(cfg.Digest.Opaque, env),
			}
		}
	case reqdef.AuthOAuth1:
		if cfg.OAuth1 != nil {
			resolved.OAuth1 = &reqdef.OAuth1Auth{
				ConsumerKey:     vars.Substitute(cfg.OAuth1.ConsumerKey, env),
				ConsumerSecret:  vars.Substitute(cfg.OAuth1.ConsumerSecret, env),
				Token:           vars.Substitute(cfg.OAuth1.Token, env),
				TokenSecret:     vars.Substitute(cfg.OAuth1.TokenSecret, env),
				SignatureMethod: cfg.OAuth1.SignatureMethod,
			}
		}
	case reqdef.AuthOAuth2:
		if cfg.OAuth2 != nil {
			resolved.OAuth2 = &reqdef.OAuth2Auth{
				AccessToken:  vars.Substitute(cfg.OAuth2.AccessToken, env),
				RefreshToken: vars.Substitute(cfg.OAuth2.RefreshToken, env),
				TokenURL:     vars.Substitute(cfg.OAuth2.TokenURL, env),
				ClientID:     vars.Substitute(cfg.OAuth2.ClientID, env),
				ClientSecret: vars.Substitute(cfg.OAuth2.ClientSecret, env),
				Scope:        vars.Substitute(cfg.OAuth2.Scope, env),
				HeaderPrefix: cfg.OAuth2.HeaderPrefix,
			}
		}
	default:
		resolved.Type = reqdef.AuthNone
	}

	return resolved
}

// Apply writes the header/query contribution of schemes the client can fully
// express. Existing Authorization headers win so user headers can override.
// Digest and OAuth1 are left to the execution boundary; OAuth2 contributes
// its access token as a bearer header when one is present.
func Apply(resolved Resolved, header http.Header, target *url.URL) {
	switch resolved.Type {
	case reqdef.AuthBasic:
		if resolved.Basic == nil || header.Get("Authorization") != "" {
			return
		}
		credentials := resolved.Basic.Username + ":" + resolved.Basic.Password
		encoded := base64.StdEncoding.EncodeToString([]byte(credentials))
		header.Set("Authorization", "Basic "+encoded)
	case reqdef.AuthBearer:
		if resolved.Bearer == nil || header.Get("Authorization") != "" {
			return
		}
		header.Set("Authorization", "Bearer "+resolved.Bearer.Token)
	case reqdef.AuthAPIKey:
		if resolved.APIKey == nil || resolved.APIKey.Key == "" {
			return
		}
		if resolved.APIKey.AddTo == reqdef.APIKeyInQuery {
			if target == nil {
				return
			}
			q := target.Query()
			q.Set(resolved.APIKey.Key, resolved.APIKey.Value)
			target.RawQuery = q.Encode()
			return
		}
		if header.Get(resolved.APIKey.Key) == "" {
			header.Set(resolved.APIKey.Key, resolved.APIKey.Value)
		}
	case reqdef.AuthOAuth2:
		if resolved.OAuth2 == nil || resolved.OAuth2.AccessToken == "" {
			return
		}
		if header.Get("Authorization") != "" {
			return
		}
		prefix := resolved.OAuth2.HeaderPrefix
		if prefix == "" {
			prefix = "Bearer"
		}
		header.Set("Authorization", prefix+" "+resolved.OAuth2.AccessToken)
	}
}
