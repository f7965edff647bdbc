// Package token mints and tracks the credentials Session uses to
// authenticate, covering both Zello Free (self-signed JWT) and Zello
// Work (username/password against the work API) schemes.
package token

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/golang-jwt/jwt/v5"
	"github.com/mattmelling/asl-zello-bridge/shared"
)

// Mode selects which Zello authentication scheme a Service uses.
type Mode int

const (
	// ModeFree mints a self-signed RS256 JWT (Zello Channels / Zello Free).
	ModeFree Mode = iota
	// ModeWork fetches a token from a Zello Work workspace API.
	ModeWork
)

const (
	authTokenExpiry  = time.Hour
	refreshThreshold = 600 * time.Second
)

// Service mints and tracks auth tokens for a single Zello connection.
type Service struct {
	mode Mode

	// ModeFree fields.
	privateKeyPath string
	issuer         string

	keyMu     sync.Mutex
	cachedKey []byte

	expiryMu sync.Mutex
	expiry   time.Time

	// ModeWork fields.
	apiEndpoint string
	username    string
	password    string

	httpClient *http.Client
}

// NewFree returns a Service that self-signs RS256 JWTs from the
// private key at privateKeyPath, with the given iss claim.
func NewFree(privateKeyPath, issuer string) *Service {
	return &Service{
		mode:           ModeFree,
		privateKeyPath: privateKeyPath,
		issuer:         issuer,
	}
}

// NewWork returns a Service that fetches tokens from a Zello Work
// workspace API using username/password credentials.
func NewWork(apiEndpoint, username, password string) *Service {
	return &Service{
		mode:        ModeWork,
		apiEndpoint: apiEndpoint,
		username:    username,
		password:    password,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
	}
}

// Mode reports which authentication scheme this Service uses.
func (s *Service) Mode() Mode {
	return s.mode
}

// Mint produces a fresh auth token: a self-signed RS256 JWT in
// ModeFree, or a workspace API token in ModeWork.
func (s *Service) Mint() (string, error) {
	switch s.mode {
	case ModeFree:
		return s.mintFree()
	case ModeWork:
		return s.mintWork()
	default:
		return "", fmt.Errorf("token: unknown mode %d", s.mode)
	}
}

func (s *Service) mintFree() (string, error) {
	key, err := s.privateKey()
	if err != nil {
		return "", fmt.Errorf("loading private key: %w", err)
	}
	exp := time.Now().Add(authTokenExpiry)
	claims := jwt.MapClaims{
		"iss": s.issuer,
		"exp": exp.Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
	if err != nil {
		return "", fmt.Errorf("signing JWT: %w", err)
	}
	s.expiryMu.Lock()
	s.expiry = exp
	s.expiryMu.Unlock()
	return signed, nil
}

func (s *Service) privateKey() (any, error) {
	s.keyMu.Lock()
	defer s.keyMu.Unlock()
	if s.cachedKey == nil {
		raw, err := os.ReadFile(s.privateKeyPath)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", shared.ErrMissingPrivateKey, err)
		}
		s.cachedKey = raw
	}
	return jwt.ParseRSAPrivateKeyFromPEM(s.cachedKey)
}

// NeedsRefresh reports whether the last-minted ModeFree token's expiry
// is within refreshThreshold of now. Always false in ModeWork, which
// mints a fresh token on every logon and tracks no expiry.
func (s *Service) NeedsRefresh(now time.Time) bool {
	if s.mode != ModeFree {
		return false
	}
	s.expiryMu.Lock()
	defer s.expiryMu.Unlock()
	if s.expiry.IsZero() {
		return false
	}
	return s.expiry.Sub(now) <= refreshThreshold
}

// zelloWorkTokenResponse is the JSON body returned by the Zello Work
// "gettoken" endpoint.
type zelloWorkTokenResponse struct {
	Token string `json:"token"`
}

func (s *Service) mintWork() (string, error) {
	form := url.Values{
		"username": {s.username},
		"password": {s.password},
	}
	endpoint := s.apiEndpoint + "/user/gettoken"
	resp, err := s.httpClient.PostForm(endpoint, form)
	if err != nil {
		return "", fmt.Errorf("requesting Zello Work token: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading Zello Work token response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("Zello Work token request failed: %d %s", resp.StatusCode, string(body))
	}
	var parsed zelloWorkTokenResponse
	if err := sonic.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("parsing Zello Work token response: %w", err)
	}
	if parsed.Token == "" {
		return "", fmt.Errorf("Zello Work token response had no token field")
	}
	return parsed.Token, nil
}
