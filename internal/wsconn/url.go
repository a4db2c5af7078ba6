package wsconn

import (
	"net/url"
	"strings"

	"github.com/unkn0wn-root/reqforge/internal/errdef"
	"github.com/unkn0wn-root/reqforge/internal/reqdef"
	"github.com/unkn0wn-root/reqforge/internal/vars"
)

// BuildTargetURL resolves a definition's templated URL into a ws/wss target:
// http becomes ws, https becomes wss, a bare host defaults to ws. Active
// query parameters are substituted and appended.
func BuildTargetURL(def *reqdef.Definition, env vars.Env) (string, error) {
	raw := strings.TrimSpace(vars.Substitute(def.URL, env))
	if raw == "" {
		return "", errdef.New(errdef.CodeURL, "websocket url is empty")
	}

	switch {
	case strings.HasPrefix(raw, "ws://"), strings.HasPrefix(raw, "wss://"):
	case strings.HasPrefix(raw, "http://"):
		raw = "ws://" + strings.TrimPrefix(raw, "http://")
	case strings.HasPrefix(raw, "https://"):
		raw = "wss://" + strings.TrimPrefix(raw, "https://")
	case strings.Contains(raw, "://"):
		return "", errdef.New(errdef.CodeURL, "unsupported websocket scheme in %q", raw)
	default:
		raw = "ws://" + raw
	}

	target, err := url.Parse(raw)
	if err != nil || target.Host == "" {
		return "", errdef.New(errdef.CodeURL, "invalid websocket url %q", raw)
	}

	query := target.Query()
	for _, param := range reqdef.ActiveEntries(def.Parameters) {
		query.Add(vars.Substitute(param.Key, env), vars.Substitute(param.Value, env))
	}
	target.RawQuery = query.Encode()

	return target.String(), nil
}
