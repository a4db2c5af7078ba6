package capture

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/PaesslerAG/jsonpath"
	"github.com/rs/zerolog"

	"github.com/unkn0wn-root/reqforge/internal/reqdef"
)

// Sink receives extracted values. The environment provider usually backs it
// so captured values feed later compositions.
type Sink interface {
	SetVar(name, value string)
}

// Run evaluates every capture rule against a JSON response body. A body that
// is not JSON, or a path that matches nothing, skips that rule with a
// warning; captures never fail a send.
func Run(rules []reqdef.CaptureRule, responseBody []byte, sink Sink, log zerolog.Logger) {
	if len(rules) == 0 || sink == nil {
		return
	}

	var document interface{}
	if err := json.Unmarshal(responseBody, &document); err != nil {
		log.Warn().Err(err).Msg("capture skipped, response body is not json")
		return
	}

	for _, rule := range rules {
		if rule.Name == "" || rule.Expression == "" {
			continue
		}
		value, err := jsonpath.Get(rule.Expression, document)
		if err != nil {
			log.Warn().Err(err).Str("capture", rule.Name).
				Str("expression", rule.Expression).Msg("capture expression did not match")
			continue
		}
		sink.SetVar(rule.Name, stringify(value))
	}
}

func stringify(value interface{}) string {
	switch v := value.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	case nil:
		return ""
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(data)
	}
}
