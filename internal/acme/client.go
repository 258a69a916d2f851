// Package acme obtains the classify API's TLS certificate from an ACME CA.
package acme

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-acme/lego/v4/certcrypto"
	"github.com/go-acme/lego/v4/certificate"
	"github.com/go-acme/lego/v4/challenge"
	"github.com/go-acme/lego/v4/challenge/http01"
	"github.com/go-acme/lego/v4/lego"
	"github.com/go-acme/lego/v4/providers/dns"
	"github.com/go-acme/lego/v4/registration"
	"github.com/rs/zerolog"
)

// RenewBefore is how close to expiry an existing certificate is replaced.
const RenewBefore = 30 * 24 * time.Hour

// Config holds ACME client configuration
type Config struct {
	Email       string // Email for the ACME account
	DNSProvider string // lego DNS provider name; empty uses HTTP-01
	HTTPPort    string // HTTP-01 challenge port, default 80
	CertPath    string
	KeyPath     string
	CADirURL    string
	Domain      string
}

// User implements the ACME user interface
type User struct {
	Email        string
	Registration *registration.Resource
	key          crypto.PrivateKey
}

func (u *User) GetEmail() string {
	return u.Email
}

func (u *User) GetRegistration() *registration.Resource {
	return u.Registration
}

func (u *User) GetPrivateKey() crypto.PrivateKey {
	return u.key
}

// Client manages ACME certificate acquisition
type Client struct {
	config Config
	now    func() time.Time
	logger zerolog.Logger
}

// NewClient creates a new ACME client
func NewClient(config Config, logger zerolog.Logger) *Client {
	if config.CADirURL == "" {
		config.CADirURL = lego.LEDirectoryProduction
	}
	if config.HTTPPort == "" {
		config.HTTPPort = "80"
	}
	return &Client{
		config: config,
		now:    time.Now,
		logger: logger.With().Str("component", "acme").Logger(),
	}
}

// EnsureCertificate obtains a certificate unless a valid one for the
// domain is already on disk.
func (c *Client) EnsureCertificate() error {
	valid, err := c.existingCertificateValid()
	if err != nil {
		c.logger.Warn().Err(err).Str("cert_path", c.config.CertPath).Msg("Ignoring unreadable certificate")
	}
	if valid {
		c.logger.Info().Str("domain", c.config.Domain).Msg("Existing certificate is valid")
		return nil
	}
	return c.ObtainCertificate()
}

// existingCertificateValid reports whether CertPath holds a certificate for
// the domain that does not expire within RenewBefore.
func (c *Client) existingCertificateValid() (bool, error) {
	data, err := os.ReadFile(c.config.CertPath)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(c.config.KeyPath); err != nil {
		return false, nil
	}

	cert, err := certcrypto.ParsePEMCertificate(data)
	if err != nil {
		return false, fmt.Errorf("parse certificate: %w", err)
	}
	if err := cert.VerifyHostname(c.config.Domain); err != nil {
		return false, nil
	}
	return cert.NotAfter.Sub(c.now()) > RenewBefore, nil
}

// ObtainCertificate obtains a certificate using DNS-01 when a provider is
// configured and HTTP-01 otherwise.
func (c *Client) ObtainCertificate() error {
	// lego logs through the standard log package
	log.SetOutput(c.createLegoLogWriter())
	log.SetFlags(0)

	c.logger.Info().
		Str("domain", c.config.Domain).
		Str("dns_provider", c.config.DNSProvider).
		Str("ca_url", c.config.CADirURL).
		Msg("Starting ACME certificate acquisition")

	privateKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return fmt.Errorf("failed to generate private key: %w", err)
	}

	user := &User{
		Email: c.config.Email,
		key:   privateKey,
	}

	legoConfig := lego.NewConfig(user)
	legoConfig.CADirURL = c.config.CADirURL
	legoConfig.Certificate.KeyType = certcrypto.EC256

	client, err := lego.NewClient(legoConfig)
	if err != nil {
		return fmt.Errorf("failed to create ACME client: %w", err)
	}

	if err := c.configureChallenge(client); err != nil {
		return err
	}

	reg, err := client.Registration.Register(registration.RegisterOptions{TermsOfServiceAgreed: true})
	if err != nil {
		return fmt.Errorf("failed to register ACME account: %w", err)
	}
	user.Registration = reg

	c.logger.Info().Str("uri", reg.URI).Msg("ACME account registered")

	certificates, err := client.Certificate.Obtain(certificate.ObtainRequest{
		Domains: []string{c.config.Domain},
		Bundle:  true,
	})
	if err != nil {
		return fmt.Errorf("failed to obtain certificate: %w", err)
	}

	if err := c.saveCertificates(certificates); err != nil {
		return fmt.Errorf("failed to save certificates: %w", err)
	}

	c.logger.Info().
		Str("domain", certificates.Domain).
		Str("cert_path", c.config.CertPath).
		Str("key_path", c.config.KeyPath).
		Msg("Certificate obtained")

	return nil
}

func (c *Client) configureChallenge(client *lego.Client) error {
	if c.config.DNSProvider == "" {
		c.logger.Info().Str("port", c.config.HTTPPort).Msg("Using HTTP-01 challenge")
		if err := client.Challenge.SetHTTP01Provider(http01.NewProviderServer("", c.config.HTTPPort)); err != nil {
			return fmt.Errorf("failed to set HTTP-01 provider: %w", err)
		}
		return nil
	}

	provider, err := c.getDNSProvider()
	if err != nil {
		return err
	}
	if err := client.Challenge.SetDNS01Provider(provider); err != nil {
		return fmt.Errorf("failed to set DNS provider: %w", err)
	}
	return nil
}

// getDNSProvider creates a DNS provider from environment variables
func (c *Client) getDNSProvider() (challenge.Provider, error) {
	provider, err := dns.NewDNSChallengeProviderByName(c.config.DNSProvider)
	if err != nil {
		c.logger.Error().
			Err(err).
			Str("provider", c.config.DNSProvider).
			Strs("expected_env_vars", getExpectedEnvVars(c.config.DNSProvider)).
			Msg("Failed to create DNS provider - ensure environment variables are set")
		return nil, fmt.Errorf("failed to create DNS provider %q (check environment variables): %w", c.config.DNSProvider, err)
	}

	c.logger.Info().
		Str("provider", c.config.DNSProvider).
		Str("provider_type", fmt.Sprintf("%T", provider)).
		Msg("DNS-01 challenge provider configured")

	return provider, nil
}

// getExpectedEnvVars returns the expected environment variables for common DNS providers
func getExpectedEnvVars(provider string) []string {
	envVars := map[string][]string{
		"digitalocean": {"DO_AUTH_TOKEN"},
		"cloudflare":   {"CLOUDFLARE_EMAIL", "CLOUDFLARE_API_KEY", "CLOUDFLARE_DNS_API_TOKEN"},
		"route53":      {"AWS_ACCESS_KEY_ID", "AWS_SECRET_ACCESS_KEY", "AWS_REGION"},
		"gcloud":       {"GCE_PROJECT", "GCE_SERVICE_ACCOUNT_FILE"},
	}

	if vars, ok := envVars[provider]; ok {
		return vars
	}
	return []string{"(provider-specific - see lego docs)"}
}

// createLegoLogWriter creates an io.Writer that redirects lego's log output to zerolog
func (c *Client) createLegoLogWriter() io.Writer {
	return &legoLogWriter{logger: c.logger}
}

// legoLogWriter implements io.Writer to redirect lego's standard log output to zerolog
type legoLogWriter struct {
	logger zerolog.Logger
}

func (w *legoLogWriter) Write(p []byte) (n int, err error) {
	w.logger.Info().Str("source", "lego").Msg(strings.TrimRight(string(p), "\n"))
	return len(p), nil
}

// saveCertificates saves the obtained certificates to disk
func (c *Client) saveCertificates(certs *certificate.Resource) error {
	certDir := filepath.Dir(c.config.CertPath)
	keyDir := filepath.Dir(c.config.KeyPath)

	if err := os.MkdirAll(certDir, 0755); err != nil {
		return fmt.Errorf("failed to create cert directory: %w", err)
	}
	if certDir != keyDir {
		if err := os.MkdirAll(keyDir, 0700); err != nil {
			return fmt.Errorf("failed to create key directory: %w", err)
		}
	}

	// Certificate includes the full chain
	if err := os.WriteFile(c.config.CertPath, certs.Certificate, 0644); err != nil {
		return fmt.Errorf("failed to write certificate: %w", err)
	}
	if err := os.WriteFile(c.config.KeyPath, certs.PrivateKey, 0600); err != nil {
		return fmt.Errorf("failed to write private key: %w", err)
	}

	return nil
}
