package charai

import (
	"context"
	"fmt"
	"time"

	"tokenmill/internal/config"
)

// ProgressFunc receives ordered human-readable status updates while a
// handshake runs. It may be nil.
type ProgressFunc func(message string)

// Handshake sequences the login flow: edge rollout, login initiate,
// the magic-link poll loop, then the two token exchanges. One
// Handshake is safe for concurrent Run calls; per-login state lives on
// the stack.
type Handshake struct {
	client      *Client
	interval    time.Duration
	maxAttempts int
}

// NewHandshake builds a Handshake around the given client using the
// configured poll interval and attempt ceiling.
func NewHandshake(client *Client, cfg config.CharacterAIConfig) *Handshake {
	return &Handshake{
		client:      client,
		interval:    time.Duration(cfg.PollIntervalMs) * time.Millisecond,
		maxAttempts: cfg.PollMaxAttempts,
	}
}

// Run drives the whole flow for one email and returns the acquired
// token. Failures are terminal for the run; only the poll loop
// retries. Every failure is reported through progress before being
// returned, so the last message a watcher sees explains the outcome.
func (h *Handshake) Run(ctx context.Context, email string, progress func(string)) (string, error) {
	notify := func(message string) {
		if progress != nil {
			progress(message)
		}
	}

	notify("Starting authentication for: " + email)

	notify("Getting edge rollout configuration...")
	edgeRollout := h.client.FetchEdgeRollout(ctx)
	if edgeRollout != "" {
		notify("Edge rollout: " + edgeRollout)
	} else {
		notify("Edge rollout: none")
	}

	notify("Sending login request...")
	pollingUUID, err := h.client.InitiateLogin(ctx, email)
	if err != nil {
		notify("Token generation failed: " + err.Error())
		return "", err
	}

	notify("Login request sent! Polling UUID: " + pollingUUID)
	notify("Please check your email and click the magic link!")

	magicLink, err := h.pollForLogin(ctx, pollingUUID, edgeRollout, notify)
	if err != nil {
		notify("Token generation failed: " + err.Error())
		return "", err
	}

	notify("Magic link clicked! Processing authentication...")

	notify("Exchanging magic link for tokens...")
	idToken, err := h.client.ExchangeMagicLink(ctx, magicLink, email)
	if err != nil {
		notify("Token exchange failed: " + err.Error())
		return "", err
	}

	notify("Getting Character.AI auth token...")
	token, err := h.client.ExchangeForToken(ctx, idToken)
	if err != nil {
		notify("Token exchange failed: " + err.Error())
		return "", err
	}

	notify("Authentication successful!")
	return token, nil
}

// pollForLogin waits for the magic link click, retrying up to the
// attempt ceiling with a fixed interval between attempts.
func (h *Handshake) pollForLogin(ctx context.Context, pollingUUID, edgeRollout string, notify func(string)) (string, error) {
	notify("Waiting for magic link click...")

	for attempt := 1; attempt <= h.maxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(h.interval):
		}

		if link, done := h.client.PollOnce(ctx, pollingUUID, edgeRollout); done {
			return link, nil
		}

		if attempt%10 == 0 {
			notify(fmt.Sprintf("Still waiting... (%d/%d attempts)", attempt, h.maxAttempts))
		}
	}

	return "", ErrTimeout
}
