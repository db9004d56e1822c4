package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"strings"
	"syscall"
	"time"

	"github.com/xraph/courier/endpoint"
	"github.com/xraph/courier/event"
	"github.com/xraph/courier/signature"
)

const (
	// MaxResponseBody caps how much of a response body is read.
	MaxResponseBody = 1 << 20

	// MaxRedirects is the number of redirect hops followed.
	MaxRedirects = 5

	// DefaultRequestTimeout bounds one attempt, connect included.
	DefaultRequestTimeout = 30 * time.Second
)

var (
	errInsecureRedirect = errors.New("redirect to non-https URL")
	errBlockedAddress   = errors.New("address is not publicly routable")
)

// Sender performs exactly one signed HTTP POST per Deliver call.
type Sender struct {
	client *http.Client
	now    func() time.Time
}

// SenderOption configures a Sender.
type SenderOption func(*Sender)

// WithHTTPClient uses c for requests. Its timeout is kept when set; the
// redirect policy is always replaced. c's transport is used as is, so the
// dial-time address check of the default transport does not apply.
func WithHTTPClient(c *http.Client) SenderOption {
	return func(s *Sender) {
		clone := *c
		s.client = &clone
	}
}

// WithClock overrides the clock used for the timestamp header.
func WithClock(now func() time.Time) SenderOption {
	return func(s *Sender) { s.now = now }
}

// NewSender creates a sender with the given HTTP timeout.
func NewSender(timeout time.Duration, opts ...SenderOption) *Sender {
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	s := &Sender{
		client: &http.Client{Transport: guardedTransport()},
		now:    time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	if s.client.Timeout == 0 {
		s.client.Timeout = timeout
	}
	s.client.CheckRedirect = checkRedirect
	return s
}

// guardedTransport vets the address of every connection it opens, after DNS
// resolution, so a host that re-resolves to a private network after
// registration is refused. Proxies are not used.
func guardedTransport() *http.Transport {
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.Proxy = nil
	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
		Control:   dialControl,
	}
	t.DialContext = dialer.DialContext
	return t
}

func dialControl(_, address string, _ syscall.RawConn) error {
	ap, err := netip.ParseAddrPort(address)
	if err != nil {
		return fmt.Errorf("dial %s: %w", address, err)
	}
	if endpoint.CheckAddr(ap.Addr()) != nil {
		return fmt.Errorf("dial %s: %w", address, errBlockedAddress)
	}
	return nil
}

func checkRedirect(req *http.Request, via []*http.Request) error {
	if len(via) > MaxRedirects {
		return fmt.Errorf("stopped after %d redirects", MaxRedirects)
	}
	if req.URL.Scheme != "https" {
		return errInsecureRedirect
	}
	host := req.URL.Hostname()
	if endpoint.IsLocalName(host) {
		return fmt.Errorf("redirect to %s: %w", host, errBlockedAddress)
	}
	if addr, err := netip.ParseAddr(host); err == nil && endpoint.CheckAddr(addr) != nil {
		return fmt.Errorf("redirect to %s: %w", host, errBlockedAddress)
	}
	return nil
}

// Deliver POSTs payload to ep and classifies the outcome. It never returns
// an error: failures are reported in the Result.
func (s *Sender) Deliver(ctx context.Context, ep *endpoint.Endpoint, p *event.Payload) Result {
	u, err := url.Parse(ep.URL)
	if err != nil || !strings.EqualFold(u.Scheme, "https") {
		return Result{Error: "endpoint URL must use https", Permanent: true}
	}

	body, err := json.Marshal(p)
	if err != nil {
		return Result{Error: fmt.Sprintf("marshal payload: %v", err), Permanent: true}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(body))
	if err != nil {
		return Result{Error: fmt.Sprintf("create request: %v", err), Permanent: true}
	}

	signed := signature.SignWithTimestamp(body, ep.Secret, s.now().Unix())
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Courier/1.0")
	req.Header.Set("X-Webhook-ID", p.ID.String())
	req.Header.Set(signature.HeaderSignature, signed.Signature)
	req.Header.Set(signature.HeaderTimestamp, signed.TimestampHeader())

	start := time.Now()
	resp, err := s.client.Do(req) //nolint:gosec // URL was vetted at registration.
	latency := int(time.Since(start).Milliseconds())

	if err != nil {
		return Result{
			Error:     err.Error(),
			LatencyMs: latency,
		}
	}
	defer resp.Body.Close()

	respBody, readErr := io.ReadAll(io.LimitReader(resp.Body, MaxResponseBody))
	res := Result{
		Success:      resp.StatusCode >= 200 && resp.StatusCode < 300,
		StatusCode:   resp.StatusCode,
		ResponseBody: string(respBody),
		LatencyMs:    latency,
	}
	if readErr != nil && !res.Success {
		res.Error = fmt.Sprintf("read response: %v", readErr)
	}
	return res
}
