package compose

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/unkn0wn-root/reqforge/internal/auth"
	"github.com/unkn0wn-root/reqforge/internal/body"
	"github.com/unkn0wn-root/reqforge/internal/capture"
	"github.com/unkn0wn-root/reqforge/internal/cookies"
	"github.com/unkn0wn-root/reqforge/internal/errdef"
	"github.com/unkn0wn-root/reqforge/internal/reqdef"
	"github.com/unkn0wn-root/reqforge/internal/vars"
)

// ActualRequest is the fully resolved, transmittable request handed to the
// execution boundary. It is produced fresh per send and only touched again
// to overlay the headers the boundary reports it actually sent.
type ActualRequest struct {
	URL         string
	Method      string
	Headers     http.Header
	Body        []byte
	BodyPresent bool
	Multipart   bool
	Cookies     []cookies.Cookie
	Auth        auth.Resolved
}

// Result is what the execution boundary reports back for one send.
type Result struct {
	Status     string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
	Size       int64

	// SetCookies carries the raw Set-Cookie header values of the response.
	SetCookies []string

	// SentHeaders, when non-nil, are the literal outbound headers after
	// redirects and transport normalization.
	SentHeaders http.Header
}

// Executor performs the network I/O for a composed request. The default
// implementation lives in httpexec; tests substitute their own.
type Executor interface {
	Do(ctx context.Context, req *ActualRequest) (*Result, error)
}

// ResponseState is the per-request result record the presentation layer
// reads. Either Response fields or Error are populated, never both.
type ResponseState struct {
	Status     string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
	Size       int64
	Error      string
}

// ResultSink receives result-state updates for a requestId. Implementations
// must tolerate calls from the goroutine running Send.
type ResultSink interface {
	SetLoading(requestID string, loading bool)
	SetActualRequest(requestID string, req *ActualRequest)
	SetResponse(requestID string, state *ResponseState)
	SetError(requestID string, message string)
}

// WorkspaceAuth supplies the workspace-level default auth consulted when a
// request inherits.
type WorkspaceAuth interface {
	DefaultAuth() *reqdef.AuthConfig
}

// CaptureSink receives values extracted from responses by capture rules.
type CaptureSink interface {
	SetVar(name, value string)
}

// Recorder appends one line per executed send to a history surface.
type Recorder interface {
	Record(RecordEntry)
}

type RecordEntry struct {
	RequestID   string
	Name        string
	Method      string
	URL         string
	Status      string
	StatusCode  int
	Duration    time.Duration
	BodySnippet string
	ExecutedAt  time.Time
	Error       string
}

type Options struct {
	UserAgent string
}

type Composer struct {
	exec      Executor
	env       vars.Provider
	jar       *cookies.Jar
	workspace WorkspaceAuth
	sink      ResultSink
	fs        body.FileSystem
	captures  CaptureSink
	recorder  Recorder
	log       zerolog.Logger
	userAgent string

	mu       sync.Mutex
	inflight map[string]struct{}
}

func NewComposer(
	exec Executor,
	env vars.Provider,
	jar *cookies.Jar,
	sink ResultSink,
	log zerolog.Logger,
	opts Options,
) *Composer {
	if jar == nil {
		jar = cookies.NewJar()
	}
	agent := opts.UserAgent
	if agent == "" {
		agent = "reqforge/1.0"
	}
	return &Composer{
		exec:      exec,
		env:       env,
		jar:       jar,
		sink:      sink,
		fs:        body.OSFileSystem{},
		log:       log,
		userAgent: agent,
		inflight:  make(map[string]struct{}),
	}
}

// SetWorkspaceAuth wires the provider consulted for INHERIT auth.
func (c *Composer) SetWorkspaceAuth(w WorkspaceAuth) { c.workspace = w }

// SetFileSystem overrides where multipart file parts are read from.
func (c *Composer) SetFileSystem(fs body.FileSystem) {
	if fs == nil {
		fs = body.OSFileSystem{}
	}
	c.fs = fs
}

// SetCaptureSink wires where captured response values land.
func (c *Composer) SetCaptureSink(s CaptureSink) { c.captures = s }

// SetRecorder wires the history surface.
func (c *Composer) SetRecorder(r Recorder) { c.recorder = r }

func (c *Composer) Jar() *cookies.Jar { return c.jar }

// Send composes and dispatches one request. At most one send per requestId
// is in flight; a second call while one is pending is a no-op. Composition
// failures are reported through the sink and returned; transport results,
// including non-2xx statuses, land in the sink as regular responses.
func (c *Composer) Send(ctx context.Context, def *reqdef.Definition) (*ResponseState, error) {
	if def == nil {
		return nil, errdef.New(errdef.CodeValidation, "request definition is nil")
	}
	if !c.acquire(def.ID) {
		c.log.Debug().Str("request", def.ID).Msg("send already in flight, ignoring")
		return nil, nil
	}
	defer c.release(def.ID)

	c.sink.SetLoading(def.ID, true)
	defer c.sink.SetLoading(def.ID, false)

	env := vars.Env{}
	if c.env != nil {
		env = c.env.Vars()
	}

	actual, err := c.Compose(def, env)
	if err != nil {
		c.sink.SetError(def.ID, errdef.Message(err))
		c.record(def, actual, nil, err)
		return nil, err
	}
	c.sink.SetActualRequest(def.ID, actual)

	result, err := c.exec.Do(ctx, actual)
	if err != nil {
		c.sink.SetError(def.ID, errdef.Message(err))
		c.record(def, actual, nil, err)
		return nil, err
	}

	state := c.reconcile(def, actual, result)
	c.sink.SetResponse(def.ID, state)
	c.record(def, actual, state, nil)
	return state, nil
}

// Compose builds the ActualRequest without dispatching it. Exposed so a
// preview surface can show what would go on the wire.
func (c *Composer) Compose(def *reqdef.Definition, env vars.Env) (*ActualRequest, error) {
	rawURL := vars.Substitute(def.URL, env)
	target, err := url.Parse(rawURL)
	if err != nil || target.Scheme == "" || target.Host == "" {
		return nil, errdef.New(errdef.CodeURL, "invalid request url %q", rawURL)
	}

	query := target.Query()
	for _, param := range reqdef.ActiveEntries(def.Parameters) {
		query.Add(vars.Substitute(param.Key, env), vars.Substitute(param.Value, env))
	}
	target.RawQuery = query.Encode()

	headers := c.defaultHeaders()
	for _, header := range reqdef.ActiveEntries(def.Headers) {
		headers.Set(vars.Substitute(header.Key, env), vars.Substitute(header.Value, env))
	}

	var workspaceDefault *reqdef.AuthConfig
	if c.workspace != nil {
		workspaceDefault = c.workspace.DefaultAuth()
	}
	resolved := auth.Resolve(def.Auth, workspaceDefault, env)
	auth.Apply(resolved, headers, target)

	encoded, err := body.Encode(def.Body, env, c.fs, c.log)
	if err != nil {
		return nil, err
	}
	if encoded.Warnings != nil {
		c.log.Warn().Err(encoded.Warnings).Str("request", def.ID).
			Msg("body encoded with skipped fields")
	}
	if encoded.Present {
		if encoded.ContentType != "" && headers.Get("Content-Type") == "" {
			headers.Set("Content-Type", encoded.ContentType)
		}
		if !encoded.Multipart && headers.Get("Content-Length") == "" {
			headers.Set("Content-Length", strconv.Itoa(len(encoded.Data)))
		}
	}

	method := string(def.Method)
	if method == "" {
		method = string(reqdef.MethodGet)
	}

	return &ActualRequest{
		URL:         target.String(),
		Method:      method,
		Headers:     headers,
		Body:        encoded.Data,
		BodyPresent: encoded.Present,
		Multipart:   encoded.Multipart,
		Cookies:     c.jar.ForDomain(target.Hostname()),
		Auth:        resolved,
	}, nil
}

func (c *Composer) defaultHeaders() http.Header {
	headers := make(http.Header)
	headers.Set("User-Agent", c.userAgent)
	headers.Set("Accept", "*/*")
	headers.Set("Accept-Encoding", "gzip, deflate, br")
	headers.Set("Connection", "keep-alive")
	headers.Set("X-Request-Token", uuid.NewString())
	return headers
}

func (c *Composer) reconcile(
	def *reqdef.Definition,
	actual *ActualRequest,
	result *Result,
) *ResponseState {
	if len(result.SetCookies) > 0 {
		domain := hostnameOf(actual.URL)
		c.jar.MergeSetCookies(result.SetCookies, domain, c.log)
	}

	// Overlay the headers the boundary reports it actually sent so the
	// display matches the wire; this never re-triggers the request.
	if result.SentHeaders != nil {
		actual.Headers = result.SentHeaders.Clone()
		c.sink.SetActualRequest(def.ID, actual)
	}

	if c.captures != nil && len(def.Captures) > 0 {
		capture.Run(def.Captures, result.Body, c.captures, c.log)
	}

	size := result.Size
	if size == 0 {
		size = int64(len(result.Body))
	}
	return &ResponseState{
		Status:     result.Status,
		StatusCode: result.StatusCode,
		Headers:    result.Headers,
		Body:       result.Body,
		Duration:   result.Duration,
		Size:       size,
	}
}

func (c *Composer) record(
	def *reqdef.Definition,
	actual *ActualRequest,
	state *ResponseState,
	sendErr error,
) {
	if c.recorder == nil {
		return
	}
	entry := RecordEntry{
		RequestID:  def.ID,
		Name:       def.Name,
		Method:     string(def.Method),
		URL:        def.URL,
		ExecutedAt: time.Now(),
	}
	if actual != nil {
		entry.URL = actual.URL
	}
	if state != nil {
		entry.Status = state.Status
		entry.StatusCode = state.StatusCode
		entry.Duration = state.Duration
		entry.BodySnippet = snippet(state.Body, 256)
	}
	if sendErr != nil {
		entry.Error = errdef.Message(sendErr)
	}
	c.recorder.Record(entry)
}

func (c *Composer) acquire(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, busy := c.inflight[id]; busy {
		return false
	}
	c.inflight[id] = struct{}{}
	return true
}

func (c *Composer) release(id string) {
	c.mu.Lock()
	delete(c.inflight, id)
	c.mu.Unlock()
}

func hostnameOf(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return parsed.Hostname()
}

func snippet(data []byte, limit int) string {
	if len(data) <= limit {
		return string(data)
	}
	return string(data[:limit])
}
