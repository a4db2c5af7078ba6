package main

import (
	"fmt"
	"sort"
	"time"

	"github.com/fatih/color"

	"github.com/unkn0wn-root/reqforge/internal/compose"
	"github.com/unkn0wn-root/reqforge/internal/stream"
)

var (
	successColor   = color.New(color.FgGreen, color.Bold)
	redirectColor  = color.New(color.FgYellow, color.Bold)
	clientErrColor = color.New(color.FgRed, color.Bold)
	serverErrColor = color.New(color.FgRed, color.Bold, color.BgWhite)
	headerKeyColor = color.New(color.FgCyan)
	methodColor    = color.New(color.FgMagenta, color.Bold)
	urlColor       = color.New(color.FgBlue)
	dimColor       = color.New(color.Faint)
	errColor       = color.New(color.FgRed)
	eventColor     = color.New(color.FgCyan, color.Bold)
)

// consoleSink renders composer result-state updates for a terminal.
type consoleSink struct {
	verbose bool
}

func (s *consoleSink) SetLoading(requestID string, loading bool) {
	if loading {
		dimColor.Printf("sending %s ...\n", requestID)
	}
}

func (s *consoleSink) SetActualRequest(requestID string, req *compose.ActualRequest) {
	methodColor.Printf("%s ", req.Method)
	urlColor.Println(req.URL)
	if !s.verbose {
		return
	}
	printHeaders(reqHeaders(req))
}

func (s *consoleSink) SetResponse(requestID string, state *compose.ResponseState) {
	statusColor(state.StatusCode).Printf("%s\n", state.Status)
	dimColor.Printf("  time: %s  size: %d bytes\n", state.Duration.Round(time.Millisecond), state.Size)
	if s.verbose {
		pairs := make([][2]string, 0, len(state.Headers))
		for key, values := range state.Headers {
			for _, value := range values {
				pairs = append(pairs, [2]string{key, value})
			}
		}
		sort.Slice(pairs, func(i, j int) bool { return pairs[i][0] < pairs[j][0] })
		printPairs(pairs)
	}
	if len(state.Body) > 0 {
		body, _ := stream.Render(string(state.Body))
		fmt.Println(body)
	}
}

func (s *consoleSink) SetError(requestID string, message string) {
	errColor.Printf("request failed: %s\n", message)
}

func statusColor(code int) *color.Color {
	switch {
	case code >= 500:
		return serverErrColor
	case code >= 400:
		return clientErrColor
	case code >= 300:
		return redirectColor
	default:
		return successColor
	}
}

func reqHeaders(req *compose.ActualRequest) [][2]string {
	pairs := make([][2]string, 0, len(req.Headers))
	for key, values := range req.Headers {
		for _, value := range values {
			pairs = append(pairs, [2]string{key, value})
		}
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i][0] < pairs[j][0] })
	return pairs
}

func printHeaders(pairs [][2]string) {
	printPairs(pairs)
}

func printPairs(pairs [][2]string) {
	for _, pair := range pairs {
		headerKeyColor.Printf("  %s: ", pair[0])
		fmt.Println(pair[1])
	}
}

// printMessage renders one session log entry.
func printMessage(msg *stream.Message) {
	stamp := dimColor.Sprintf("%s", msg.Timestamp.Format("15:04:05.000"))
	label := ""
	if msg.EventName != "" {
		label = eventColor.Sprintf(" [%s]", msg.EventName)
	}
	switch msg.Direction {
	case stream.DirSent:
		fmt.Printf("%s %s%s %s\n", stamp, successColor.Sprint("→"), label, msg.Content)
	case stream.DirReceived:
		fmt.Printf("%s %s%s %s\n", stamp, urlColor.Sprint("←"), label, msg.Content)
	case stream.DirError:
		fmt.Printf("%s %s %s\n", stamp, errColor.Sprint("✗"), msg.Content)
	default:
		fmt.Printf("%s %s %s\n", stamp, dimColor.Sprint("•"), msg.Content)
	}
}
