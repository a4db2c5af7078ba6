package httpexec

import (
	"bytes"
	"context"
	"crypto/tls"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/net/http2"

	"github.com/unkn0wn-root/reqforge/internal/compose"
	"github.com/unkn0wn-root/reqforge/internal/cookies"
	"github.com/unkn0wn-root/reqforge/internal/errdef"
)

// Options configure the default execution boundary. Digest and OAuth
// challenge flows belong at this layer; the composer only supplies the
// resolved descriptors.
type Options struct {
	Timeout            time.Duration
	FollowRedirects    bool
	InsecureSkipVerify bool
	ProxyURL           string
}

// Executor is the default compose.Executor over net/http.
type Executor struct {
	opts    Options
	factory func(Options) (*http.Client, error)
}

func New(opts Options) *Executor {
	e := &Executor{opts: opts}
	e.factory = buildHTTPClient
	return e
}

// SetClientFactory overrides how http.Client instances are created. Passing
// nil restores the default factory.
func (e *Executor) SetClientFactory(factory func(Options) (*http.Client, error)) {
	if factory == nil {
		factory = buildHTTPClient
	}
	e.factory = factory
}

func (e *Executor) Do(ctx context.Context, req *compose.ActualRequest) (*compose.Result, error) {
	if req == nil {
		return nil, errdef.New(errdef.CodeTransport, "request is nil")
	}

	var bodyReader io.Reader
	if req.BodyPresent {
		bodyReader = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, bodyReader)
	if err != nil {
		return nil, errdef.Wrap(errdef.CodeTransport, err, "build request")
	}
	for name, values := range req.Headers {
		for _, value := range values {
			httpReq.Header.Add(name, value)
		}
	}
	if value := cookies.HeaderValue(req.Cookies); value != "" {
		httpReq.Header.Set("Cookie", value)
	}

	client, err := e.factory(e.opts)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	httpResp, err := client.Do(httpReq)
	if err != nil {
		return nil, errdef.Wrap(errdef.CodeTransport, err, "perform request")
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, errdef.Wrap(errdef.CodeTransport, err, "read response body")
	}
	duration := time.Since(start)

	return &compose.Result{
		Status:      httpResp.Status,
		StatusCode:  httpResp.StatusCode,
		Headers:     httpResp.Header.Clone(),
		Body:        body,
		Duration:    duration,
		Size:        int64(len(body)),
		SetCookies:  httpResp.Header.Values("Set-Cookie"),
		SentHeaders: sentHeaders(httpReq, httpResp),
	}, nil
}

// Redirects and the transport can mutate the outbound request, so prefer
// the final request attached to the response when reporting what was sent.
func sentHeaders(sent *http.Request, resp *http.Response) http.Header {
	final := sent
	if resp != nil && resp.Request != nil {
		final = resp.Request
	}
	if final == nil || final.Header == nil {
		return nil
	}
	return final.Header.Clone()
}

func buildHTTPClient(opts Options) (*http.Client, error) {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ForceAttemptHTTP2:     true,
	}

	if opts.ProxyURL != "" {
		proxyURL, err := url.Parse(opts.ProxyURL)
		if err != nil {
			return nil, errdef.Wrap(errdef.CodeTransport, err, "parse proxy url")
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}

	if opts.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
		if err := http2.ConfigureTransport(transport); err != nil {
			return nil, errdef.Wrap(errdef.CodeTransport, err, "enable http2")
		}
	}

	client := &http.Client{Transport: transport}
	if opts.Timeout > 0 {
		client.Timeout = opts.Timeout
	}
	if !opts.FollowRedirects {
		client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		}
	}
	return client, nil
}
