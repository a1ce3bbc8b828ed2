package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// slowDownIncrement is the amount RFC 8628 requires adding to the polling
// interval after a slow_down response.
const slowDownIncrement = 5 * time.Second

// deviceGrantDecision is the outcome of evaluating one device token response.
type deviceGrantDecision struct {
	// token is set when the grant succeeded.
	token *Token

	// err is set for terminal failures (access_denied, expired_token,
	// malformed responses) and for the internal pending/slow_down signals.
	err error

	// intervalIncrease is the amount to add to the polling interval,
	// nonzero only for slow_down.
	intervalIncrease time.Duration
}

// evaluateDeviceTokenResponse maps a single token-endpoint response during
// device polling to a decision. It is pure: no I/O, no clock.
func evaluateDeviceTokenResponse(status int, body []byte) deviceGrantDecision {
	if status == http.StatusOK {
		var token Token
		if err := json.Unmarshal(body, &token); err != nil {
			return deviceGrantDecision{err: fmt.Errorf("failed to parse device token response: %w", err)}
		}
		if token.AccessToken == "" {
			return deviceGrantDecision{err: fmt.Errorf("device token response is missing access_token")}
		}
		return deviceGrantDecision{token: &token}
	}

	serverErr := parseServerError(status, body)
	if serverErr == nil {
		return deviceGrantDecision{err: fmt.Errorf("device token request failed with status %d", status)}
	}

	switch serverErr.Code {
	case ErrorCodeAuthorizationPending:
		return deviceGrantDecision{err: errAuthorizationPending}
	case ErrorCodeSlowDown:
		return deviceGrantDecision{err: errSlowDown, intervalIncrease: slowDownIncrement}
	case ErrorCodeAccessDenied:
		return deviceGrantDecision{err: fmt.Errorf("%w: %v", ErrDeviceAuthDenied, serverErr)}
	case ErrorCodeExpiredToken:
		return deviceGrantDecision{err: fmt.Errorf("%w: %v", ErrDeviceAuthExpired, serverErr)}
	default:
		return deviceGrantDecision{err: serverErr}
	}
}

// PollDeviceToken polls the token endpoint for the result of a device
// authorization grant. The first poll is issued immediately; subsequent polls
// wait the server-provided interval, plus 5 seconds per slow_down response.
// Polling stops before the device code's expires_in budget elapses, so no
// request ever carries an already-expired device code.
func (c *Client) PollDeviceToken(ctx context.Context, tokenEndpoint, clientID string, auth *DeviceAuthorization) (*Token, error) {
	interval := auth.PollInterval()
	deadline := auth.ExpiresAt()

	data := url.Values{
		"grant_type":  {GrantTypeDeviceCode},
		"device_code": {auth.DeviceCode},
		"client_id":   {clientID},
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		resp, body, err := c.doWithRetry(ctx, func() (*http.Request, error) {
			return newFormRequest(ctx, tokenEndpoint, data)
		})
		if err != nil {
			return nil, fmt.Errorf("device token poll failed: %w", err)
		}

		decision := evaluateDeviceTokenResponse(resp.StatusCode, body)
		switch {
		case decision.token != nil:
			decision.token.IssuedAt = c.now()
			decision.token.SetExpiresAtFromExpiresIn()
			return decision.token, nil

		case decision.err == errAuthorizationPending:
			// keep polling

		case decision.err == errSlowDown:
			interval += decision.intervalIncrease
			c.logger.Debug("Device poll told to slow down",
				"new_interval", interval)

		default:
			return nil, decision.err
		}

		if err := c.sleep(ctx, interval); err != nil {
			return nil, err
		}

		if !deadline.IsZero() && !c.now().Before(deadline) {
			return nil, ErrDeviceAuthExpired
		}
	}
}
