package registry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"net/url"
	"strings"
	"syscall"
	"time"

	"github.com/agentflow-go/internal/domain/tool"
	"github.com/casbin/govaluate"
	"github.com/google/uuid"
)

const maxFetchBytes = 64 << 10

var ErrForbiddenAddress = errors.New("address not allowed")

// NewDefaultRegistry returns a registry holding the built-in tools. A nil
// client means NewPublicHTTPClient with a 15s timeout.
func NewDefaultRegistry(client *http.Client) (*Registry, error) {
	if client == nil {
		client = NewPublicHTTPClient(15 * time.Second)
	}

	r := NewRegistry()
	for _, t := range builtinTools(client) {
		if err := r.Register(t); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func builtinTools(client *http.Client) []Tool {
	return []Tool{
		{
			Definition: tool.Definition{
				Name:        "get_current_time",
				Description: "Get the current date and time, optionally in a given IANA timezone",
				Parameters: tool.Parameters{
					Type: "object",
					Properties: map[string]tool.Property{
						"timezone": {Type: "string", Description: "IANA timezone name, e.g. Europe/Berlin"},
					},
				},
			},
			Handler: currentTime,
		},
		{
			Definition: tool.Definition{
				Name:        "calculate",
				Description: "Evaluate an arithmetic expression",
				Parameters: tool.Parameters{
					Type: "object",
					Properties: map[string]tool.Property{
						"expression": {Type: "string", Description: "Arithmetic expression, e.g. (2 + 3) * 4"},
					},
					Required: []string{"expression"},
				},
			},
			Handler:  calculate,
			CacheTTL: 10 * time.Minute,
		},
		{
			Definition: tool.Definition{
				Name:        "fetch_url",
				Description: "Fetch the contents of a web page over HTTP GET",
				Parameters: tool.Parameters{
					Type: "object",
					Properties: map[string]tool.Property{
						"url": {Type: "string", Description: "Absolute http or https URL"},
					},
					Required: []string{"url"},
				},
			},
			Handler:  fetchURL(client),
			CacheTTL: time.Minute,
		},
		{
			Definition: tool.Definition{
				Name:        "send_email",
				Description: "Send an email message",
				Parameters: tool.Parameters{
					Type: "object",
					Properties: map[string]tool.Property{
						"to":      {Type: "string", Description: "Recipient address"},
						"subject": {Type: "string"},
						"body":    {Type: "string"},
					},
					Required: []string{"to", "subject", "body"},
				},
			},
			Handler: sendEmail,
		},
		{
			Definition: tool.Definition{
				Name:        "send_slack_message",
				Description: "Post a message to a Slack channel",
				Parameters: tool.Parameters{
					Type: "object",
					Properties: map[string]tool.Property{
						"channel": {Type: "string", Description: "Channel name, e.g. #alerts"},
						"text":    {Type: "string"},
					},
					Required: []string{"channel", "text"},
				},
			},
			Handler: sendSlackMessage,
		},
	}
}

func currentTime(_ context.Context, args map[string]interface{}) (interface{}, error) {
	loc := time.UTC
	if tz, _ := args["timezone"].(string); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return nil, fmt.Errorf("unknown timezone %q", tz)
		}
		loc = l
	}

	now := time.Now().In(loc)
	return map[string]interface{}{
		"time":     now.Format(time.RFC3339),
		"timezone": loc.String(),
		"unix":     now.Unix(),
	}, nil
}

func calculate(_ context.Context, args map[string]interface{}) (interface{}, error) {
	expr, err := stringArg(args, "expression")
	if err != nil {
		return nil, err
	}

	evaluable, err := govaluate.NewEvaluableExpression(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid expression: %w", err)
	}
	if len(evaluable.Vars()) > 0 {
		return nil, errors.New("expression must not reference variables")
	}

	value, err := evaluable.Evaluate(nil)
	if err != nil {
		return nil, fmt.Errorf("evaluation failed: %w", err)
	}
	n, ok := value.(float64)
	if !ok {
		return nil, errors.New("expression did not produce a number")
	}
	if math.IsInf(n, 0) || math.IsNaN(n) {
		return nil, errors.New("expression did not produce a finite number")
	}

	return map[string]interface{}{
		"expression": expr,
		"result":     n,
	}, nil
}

func fetchURL(client *http.Client) Handler {
	return func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
		raw, err := stringArg(args, "url")
		if err != nil {
			return nil, err
		}
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return nil, fmt.Errorf("url must be an absolute http or https URL")
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
		if err != nil {
			return nil, err
		}
		resp, err := client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("request failed: %w", err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes))
		if err != nil {
			return nil, fmt.Errorf("failed to read response: %w", err)
		}

		return map[string]interface{}{
			"url":         u.String(),
			"status":      resp.StatusCode,
			"contentType": resp.Header.Get("Content-Type"),
			"body":        string(body),
		}, nil
	}
}

// Delivery is out of scope for the engine; these acknowledge the request.
func sendEmail(_ context.Context, args map[string]interface{}) (interface{}, error) {
	to, err := stringArg(args, "to")
	if err != nil {
		return nil, err
	}
	if !strings.Contains(to, "@") {
		return nil, fmt.Errorf("invalid recipient %q", to)
	}
	subject, _ := args["subject"].(string)

	return map[string]interface{}{
		"status":    "queued",
		"messageId": uuid.New().String(),
		"to":        to,
		"subject":   subject,
	}, nil
}

func sendSlackMessage(_ context.Context, args map[string]interface{}) (interface{}, error) {
	channel, err := stringArg(args, "channel")
	if err != nil {
		return nil, err
	}
	text, err := stringArg(args, "text")
	if err != nil {
		return nil, err
	}

	return map[string]interface{}{
		"status":  "queued",
		"channel": channel,
		"length":  len(text),
		"ts":      fmt.Sprintf("%d", time.Now().UnixNano()),
	}, nil
}

func stringArg(args map[string]interface{}, name string) (string, error) {
	s, ok := args[name].(string)
	if !ok || strings.TrimSpace(s) == "" {
		return "", fmt.Errorf("argument %s must be a non-empty string", name)
	}
	return s, nil
}

// NewPublicHTTPClient returns a client that refuses to connect to loopback,
// private, link-local and unspecified addresses. The check runs on the
// resolved address of every dial, redirects included.
func NewPublicHTTPClient(timeout time.Duration) *http.Client {
	dialer := &net.Dialer{
		Timeout: 10 * time.Second,
		Control: denyInternalAddress,
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.Proxy = nil
	transport.DialContext = dialer.DialContext
	return &http.Client{Timeout: timeout, Transport: transport}
}

func denyInternalAddress(_, address string, _ syscall.RawConn) error {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return err
	}
	ip := net.ParseIP(host)
	if ip == nil ||
		ip.IsLoopback() ||
		ip.IsPrivate() ||
		ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() ||
		ip.IsInterfaceLocalMulticast() ||
		ip.IsMulticast() ||
		ip.IsUnspecified() {
		return fmt.Errorf("%w: %s", ErrForbiddenAddress, host)
	}
	return nil
}
