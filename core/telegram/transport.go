package telegram

import (
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	coreconfig "github.com/m3rciful/cbtbot/core/config"
	"github.com/m3rciful/cbtbot/core/telegram/netutil"

	tele "gopkg.in/telebot.v4"
)

const (
	defaultDialTimeout     = 5 * time.Second
	defaultTLSHandshake    = 5 * time.Second
	defaultIdleConnTimeout = 30 * time.Second
	// Long polling holds the response open for the poll timeout, so the
	// client timeout has to leave room for it.
	defaultClientTimeout = 30 * time.Second
	defaultKeepAlive     = 30 * time.Second
	defaultDialRetries   = 3
	defaultDialBackoff   = 2 * time.Second
	defaultPollTimeout   = 10 * time.Second
)

// allowedUpdates lists the update kinds the bot handles; Telegram drops the
// rest before they reach the poller.
var allowedUpdates = []string{"message", "callback_query"}

// BuildHTTPClient returns an HTTP client tuned for Telegram API calls.
func BuildHTTPClient() *http.Client {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: defaultDialTimeout, KeepAlive: defaultKeepAlive}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       defaultIdleConnTimeout,
		TLSHandshakeTimeout:   defaultTLSHandshake,
		ExpectContinueTimeout: time.Second,
	}
	return &http.Client{
		Timeout:   defaultClientTimeout,
		Transport: &dialRetryTransport{base: transport, retries: defaultDialRetries, backoff: defaultDialBackoff},
	}
}

// dialRetryTransport repeats a request only when it never left the machine.
// A sendMessage that timed out after being written may already have been
// delivered, so it is not sent again.
type dialRetryTransport struct {
	base    http.RoundTripper
	retries int
	backoff time.Duration
}

func (t *dialRetryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	for attempt := 0; ; attempt++ {
		curr := req
		if attempt > 0 {
			curr = req.Clone(req.Context())
			if req.Body != nil {
				if req.GetBody == nil {
					return nil, fmt.Errorf("telegram: cannot replay request body")
				}
				body, err := req.GetBody()
				if err != nil {
					return nil, err
				}
				curr.Body = body
			}
		}

		resp, err := t.base.RoundTrip(curr)
		if err == nil || attempt >= t.retries || !neverSent(err) {
			return resp, err
		}

		timer := time.NewTimer(t.backoff * time.Duration(attempt+1))
		select {
		case <-req.Context().Done():
			timer.Stop()
			return nil, req.Context().Err()
		case <-timer.C:
		}
	}
}

func neverSent(err error) bool {
	switch netutil.Kind(err) {
	case "dial", "dns":
		return true
	}
	return false
}

// BuildPoller returns a webhook or long poller for the configured run mode.
func BuildPoller(cfg *coreconfig.Config) tele.Poller {
	if strings.EqualFold(cfg.Telegram.RunMode, coreconfig.RunModeWebhook) {
		return &tele.Webhook{
			Listen:         fmt.Sprintf("%s:%d", cfg.Webhook.Listen, cfg.Webhook.Port),
			AllowedUpdates: allowedUpdates,
			Endpoint:       &tele.WebhookEndpoint{PublicURL: cfg.Webhook.URL},
		}
	}
	timeout := defaultPollTimeout
	if s := cfg.Telegram.LongPollTimeoutSeconds; s > 0 {
		timeout = time.Duration(s) * time.Second
	}
	return &tele.LongPoller{Timeout: timeout, AllowedUpdates: allowedUpdates}
}
