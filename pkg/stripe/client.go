// Package stripe adapts stripe-go to the ledger: checkout sessions, payment
// intents and refunds in minor units, plus the webhook signing secret.
package stripe

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v84"

	"github.com/angelmondragon/gridpay-backend/pkg/config"
	"github.com/angelmondragon/gridpay-backend/pkg/logger"
)

// keyPrefixes lists the secret and restricted key prefixes accepted per
// environment, so a live key never runs against a test deployment.
var keyPrefixes = map[string][]string{
	"test": {"sk_test_", "rk_test_"},
	"live": {"sk_live_", "rk_live_"},
}

type Client struct {
	env           string
	signingSecret string
}

// NewClient validates cfg and configures stripe-go's global key.
func NewClient(ctx context.Context, cfg config.StripeConfig, logg *logger.Logger) (*Client, error) {
	env := cfg.Environment()
	apiKey := strings.TrimSpace(cfg.APIKey)
	secret := strings.TrimSpace(cfg.Secret)
	if err := checkCredentials(env, apiKey, secret); err != nil {
		return nil, fmt.Errorf("stripe config: %w", err)
	}

	stripe.Key = apiKey
	stripe.SetAppInfo(&stripe.AppInfo{Name: "gridpay-backend"})

	if logg != nil {
		logg.Info(logg.WithField(ctx, "stripe_env", env), "stripe configured")
	}
	return &Client{env: env, signingSecret: secret}, nil
}

func checkCredentials(env, apiKey, secret string) error {
	prefixes, known := keyPrefixes[env]
	if !known {
		return fmt.Errorf("unknown environment %q (want test or live)", env)
	}
	var errs []error
	switch {
	case apiKey == "":
		errs = append(errs, errors.New("api key is required"))
	case !hasAnyPrefix(apiKey, prefixes):
		errs = append(errs, fmt.Errorf("api key does not belong to the %s environment", env))
	}
	if secret == "" {
		errs = append(errs, errors.New("webhook signing secret is required"))
	}
	return errors.Join(errs...)
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

// Environment is "test" or "live".
func (c *Client) Environment() string {
	if c == nil {
		return ""
	}
	return c.env
}

// SigningSecret verifies inbound webhook signatures.
func (c *Client) SigningSecret() string {
	if c == nil {
		return ""
	}
	return c.signingSecret
}
