// Package quickbooks is the QuickBooks Online v3 accounting API adapter.
package quickbooks

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/qbsync/backend/internal/domain/integration"
	appconfig "github.com/qbsync/backend/internal/infrastructure/config"
)

const (
	// ProductionAPIURL is the production API host
	ProductionAPIURL = "https://quickbooks.api.intuit.com"
	// SandboxAPIURL is the sandbox API host
	SandboxAPIURL = "https://sandbox-quickbooks.api.intuit.com"
	// DefaultTokenURL is the Intuit OAuth2 bearer token endpoint
	DefaultTokenURL = "https://oauth.platform.intuit.com/oauth2/v1/tokens/bearer"
	// DefaultAuthURL is the Intuit OAuth2 authorization endpoint
	DefaultAuthURL = "https://appcenter.intuit.com/connect/oauth2"
	// AccountingScope grants access to the accounting API
	AccountingScope = "com.intuit.quickbooks.accounting"

	// DefaultMinorVersion pins the API minor version
	DefaultMinorVersion = 75
	// DefaultIncomeAccountID is used for new items when none is configured
	DefaultIncomeAccountID = "1"

	EnvironmentSandbox    = "sandbox"
	EnvironmentProduction = "production"
)

// Errors for QuickBooks configuration
var (
	ErrConfigMissingClientID     = errors.New("quickbooks: client ID is required")
	ErrConfigMissingClientSecret = errors.New("quickbooks: client secret is required")
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Config holds configuration for the QuickBooks Online API
type Config struct {
	// ClientID is the Intuit app client ID
	ClientID string `validate:"required"`
	// ClientSecret is the Intuit app client secret
	ClientSecret string `validate:"required"`
	// RedirectURI receives the authorization code
	RedirectURI string `validate:"omitempty,url"`
	// Environment is sandbox or production
	Environment string `validate:"oneof=sandbox production"`
	// RealmID is the company ID; the token store value wins when present
	RealmID string `validate:"omitempty,numeric"`
	// RefreshToken seeds the token source when no token file exists
	RefreshToken string
	// AccessToken seeds the token source when no token file exists
	AccessToken string
	// BaseURL overrides the environment API host
	BaseURL string `validate:"omitempty,url"`
	// TokenURL overrides the OAuth2 token endpoint
	TokenURL string `validate:"omitempty,url"`
	// AuthURL overrides the OAuth2 authorization endpoint
	AuthURL string `validate:"omitempty,url"`
	// MinorVersion is sent as ?minorversion
	MinorVersion int `validate:"gte=0"`
	// Timeout is the HTTP request timeout
	Timeout time.Duration `validate:"gte=0"`
	// IncomeAccountID is the default income account for new service items
	IncomeAccountID string `validate:"omitempty,numeric"`
}

// NewConfig builds the adapter configuration from the application config
func NewConfig(c appconfig.QuickBooksConfig) *Config {
	return &Config{
		ClientID:        c.ClientID,
		ClientSecret:    c.ClientSecret,
		RedirectURI:     c.RedirectURI,
		Environment:     c.Environment,
		RealmID:         c.RealmID,
		RefreshToken:    c.RefreshToken,
		AccessToken:     c.AccessToken,
		BaseURL:         c.BaseURL,
		TokenURL:        c.TokenURL,
		AuthURL:         c.AuthURL,
		MinorVersion:    c.MinorVersion,
		Timeout:         c.Timeout,
		IncomeAccountID: c.IncomeAccountID,
	}
}

// Validate applies defaults and validates the configuration
func (c *Config) Validate() error {
	if c.ClientID == "" {
		return ErrConfigMissingClientID
	}
	if c.ClientSecret == "" {
		return ErrConfigMissingClientSecret
	}
	c.Environment = strings.ToLower(strings.TrimSpace(c.Environment))
	if c.Environment == "" {
		c.Environment = EnvironmentSandbox
	}
	if c.TokenURL == "" {
		c.TokenURL = DefaultTokenURL
	}
	if c.AuthURL == "" {
		c.AuthURL = DefaultAuthURL
	}
	if c.MinorVersion == 0 {
		c.MinorVersion = DefaultMinorVersion
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.IncomeAccountID == "" {
		c.IncomeAccountID = DefaultIncomeAccountID
	}
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: quickbooks: %v", integration.ErrPlatformNotConfigured, err)
	}
	return nil
}

// APIBaseURL returns the API host for the configured environment
func (c *Config) APIBaseURL() string {
	if c.BaseURL != "" {
		return strings.TrimRight(c.BaseURL, "/")
	}
	if c.Environment == EnvironmentProduction {
		return ProductionAPIURL
	}
	return SandboxAPIURL
}
