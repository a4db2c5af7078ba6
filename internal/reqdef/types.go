// Package reqdef holds the stored, user-editable shape of a request. These
// types are what an editor persists; the compose and connection packages turn
// them into wire-level requests and live sessions.
package reqdef

import "github.com/unkn0wn-root/reqforge/internal/util"

type Method string

const (
	MethodGet     Method = "GET"
	MethodPost    Method = "POST"
	MethodPut     Method = "PUT"
	MethodDelete  Method = "DELETE"
	MethodPatch   Method = "PATCH"
	MethodHead    Method = "HEAD"
	MethodOptions Method = "OPTIONS"
)

// KeyValue is one row of a header or query-parameter table. Only active rows
// with a non-empty key participate in composition; the rest are retained for
// editing but inert.
type KeyValue struct {
	Key         string `json:"key"`
	Value       string `json:"value"`
	Description string `json:"description,omitempty"`
	Active      bool   `json:"isActive"`
}

type BodyType string

const (
	BodyNone       BodyType = "NONE"
	BodyJSON       BodyType = "JSON"
	BodyRaw        BodyType = "RAW"
	BodyFormData   BodyType = "FORM_DATA"
	BodyURLEncoded BodyType = "X_WWW_FORM_URLENCODED"
)

type FormFieldType string

const (
	FormFieldText FormFieldType = "TEXT"
	FormFieldFile FormFieldType = "FILE"
)

type FormField struct {
	Key    string        `json:"key"`
	Value  string        `json:"value"`
	Type   FormFieldType `json:"type"`
	File   string        `json:"file,omitempty"`
	Active bool          `json:"isActive"`
}

// Body retains every representation the user has typed; Type selects which
// one is semantically live. Switching body types must not lose edits.
type Body struct {
	Type       BodyType               `json:"type"`
	JSON       map[string]interface{} `json:"json,omitempty"`
	Raw        string                 `json:"raw,omitempty"`
	FormData   []FormField            `json:"formData,omitempty"`
	URLEncoded []FormField            `json:"urlEncoded,omitempty"`
}

type AuthType string

const (
	AuthNone    AuthType = "NONE"
	AuthInherit AuthType = "INHERIT"
	AuthBasic   AuthType = "BASIC"
	AuthBearer  AuthType = "BEARER"
	AuthAPIKey  AuthType = "API_KEY"
	AuthDigest  AuthType = "DIGEST"
	AuthOAuth1  AuthType = "OAUTH1"
	AuthOAuth2  AuthType = "OAUTH2"
)

type APIKeyPlacement string

const (
	APIKeyInHeader APIKeyPlacement = "HEADER"
	APIKeyInQuery  APIKeyPlacement = "QUERY"
)

type BasicAuth struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type BearerAuth struct {
	Token string `json:"token"`
}

type APIKeyAuth struct {
	Key   string          `json:"key"`
	Value string          `json:"value"`
	AddTo APIKeyPlacement `json:"addTo"`
}

// DigestAuth carries the negotiated challenge fields; the execution boundary
// performs the actual challenge-response math.
type DigestAuth struct {
	Username  string `json:"username"`
	Password  string `json:"password"`
	Realm     string `json:"realm,omitempty"`
	Nonce     string `json:"nonce,omitempty"`
	Algorithm string `json:"algorithm,omitempty"`
	QOP       string `json:"qop,omitempty"`
	Opaque    string `json:"opaque,omitempty"`
}

type OAuth1Auth struct {
	ConsumerKey     string `json:"consumerKey"`
	ConsumerSecret  string `json:"consumerSecret"`
	Token           string `json:"token,omitempty"`
	TokenSecret     string `json:"tokenSecret,omitempty"`
	SignatureMethod string `json:"signatureMethod,omitempty"`
}

type OAuth2Auth struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken,omitempty"`
	TokenURL     string `json:"tokenUrl,omitempty"`
	ClientID     string `json:"clientId,omitempty"`
	ClientSecret string `json:"clientSecret,omitempty"`
	Scope        string `json:"scope,omitempty"`
	HeaderPrefix string `json:"headerPrefix,omitempty"`
}

// AuthConfig is a tagged union: Type selects which pointer is live. Inactive
// variants stay populated so the editor keeps user input across type flips.
type AuthConfig struct {
	Type   AuthType    `json:"type"`
	Basic  *BasicAuth  `json:"basic,omitempty"`
	Bearer *BearerAuth `json:"bearer,omitempty"`
	APIKey *APIKeyAuth `json:"apiKey,omitempty"`
	Digest *DigestAuth `json:"digest,omitempty"`
	OAuth1 *OAuth1Auth `json:"oauth1,omitempty"`
	OAuth2 *OAuth2Auth `json:"oauth2,omitempty"`
}

type MessageFormat string

const (
	FormatText   MessageFormat = "text"
	FormatJSON   MessageFormat = "json"
	FormatBinary MessageFormat = "binary"
)

// SavedMessage is a reusable payload template for socket sessions. EventName
// and Ack only apply to Socket.IO definitions.
type SavedMessage struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	Content   string        `json:"content"`
	Format    MessageFormat `json:"format"`
	EventName string        `json:"eventName,omitempty"`
	Ack       bool          `json:"ack,omitempty"`
}

// SocketIOEvent registers interest in a named server event. Only entries
// with Listening set are subscribed on connect.
type SocketIOEvent struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Listening   bool   `json:"listening"`
	Description string `json:"description,omitempty"`
}

// CaptureRule extracts a value from a JSON response body into the
// environment under Name. Expressions use JSONPath.
type CaptureRule struct {
	Name       string `json:"name"`
	Expression string `json:"expression"`
}

// Definition is the persisted shape of one request across all protocols.
// Method and Body apply to HTTP; SavedMessages and Events to sockets.
type Definition struct {
	ID            string          `json:"id"`
	Name          string          `json:"name,omitempty"`
	Method        Method          `json:"method"`
	URL           string          `json:"url"`
	Headers       []KeyValue      `json:"headers,omitempty"`
	Parameters    []KeyValue      `json:"parameters,omitempty"`
	Body          Body            `json:"body"`
	Auth          AuthConfig      `json:"auth"`
	SavedMessages []SavedMessage  `json:"savedMessages,omitempty"`
	Events        []SocketIOEvent `json:"events,omitempty"`
	Captures      []CaptureRule   `json:"captures,omitempty"`
}

// ActiveEntries filters a key/value table down to the rows that participate
// in composition.
func ActiveEntries(entries []KeyValue) []KeyValue {
	out := make([]KeyValue, 0, len(entries))
	for _, entry := range entries {
		if entry.Active && entry.Key != "" {
			out = append(out, entry)
		}
	}
	return out
}

// ActiveFields does the same for form tables.
func ActiveFields(fields []FormField) []FormField {
	out := make([]FormField, 0, len(fields))
	for _, field := range fields {
		if field.Active && field.Key != "" {
			out = append(out, field)
		}
	}
	return out
}

// ListeningEvents returns the names the Socket.IO manager should subscribe
// to, deduplicated, in declaration order.
func ListeningEvents(events []SocketIOEvent) []string {
	names := make([]string, 0, len(events))
	for _, evt := range events {
		if evt.Listening {
			names = append(names, evt.Name)
		}
	}
	return util.DedupeNonEmptyStrings(names)
}
