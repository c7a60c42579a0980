package identity

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// GoogleCertsURL publishes the x509 certificates that sign Firebase ID tokens
const GoogleCertsURL = "https://www.googleapis.com/robot/v1/metadata/x509/securetoken@system.gserviceaccount.com"

// StaticKeySource serves a fixed kid to key map
type StaticKeySource map[string]*rsa.PublicKey

// PublicKey implements KeySource
func (s StaticKeySource) PublicKey(_ context.Context, kid string) (*rsa.PublicKey, error) {
	if k, ok := s[kid]; ok {
		return k, nil
	}
	return nil, fmt.Errorf("unknown kid %q", kid)
}

// forcedRefreshInterval bounds how often an unknown kid may trigger a download
const forcedRefreshInterval = time.Minute

// GoogleKeySource downloads signing certificates and caches them until their max-age runs out
type GoogleKeySource struct {
	url    string
	client *http.Client
	now    func() time.Time
	group  singleflight.Group

	mu         sync.Mutex
	keys       map[string]*rsa.PublicKey
	expires    time.Time
	lastForced time.Time
}

// NewGoogleKeySource reads certificates from url (GoogleCertsURL when empty)
func NewGoogleKeySource(url string, client *http.Client) *GoogleKeySource {
	if url == "" {
		url = GoogleCertsURL
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &GoogleKeySource{url: url, client: client, now: time.Now}
}

// PublicKey implements KeySource. An unknown kid forces a refresh to pick up rotated
// keys, at most once per forcedRefreshInterval.
func (s *GoogleKeySource) PublicKey(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	keys, fresh := s.cached()
	if !fresh {
		if err := s.refresh(ctx); err != nil {
			return nil, err
		}
		keys, _ = s.cached()
	}
	if k, ok := keys[kid]; ok {
		return k, nil
	}
	if !s.claimForcedRefresh() {
		return nil, fmt.Errorf("unknown kid %q", kid)
	}
	if err := s.refresh(ctx); err != nil {
		return nil, err
	}
	keys, _ = s.cached()
	if k, ok := keys[kid]; ok {
		return k, nil
	}
	return nil, fmt.Errorf("unknown kid %q", kid)
}

func (s *GoogleKeySource) cached() (map[string]*rsa.PublicKey, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.keys, s.keys != nil && !s.now().After(s.expires)
}

func (s *GoogleKeySource) claimForcedRefresh() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if !s.lastForced.IsZero() && now.Sub(s.lastForced) < forcedRefreshInterval {
		return false
	}
	s.lastForced = now
	return true
}

// refresh downloads the certificates; concurrent callers share one request
func (s *GoogleKeySource) refresh(ctx context.Context) error {
	_, err, _ := s.group.Do("certs", func() (any, error) {
		return nil, s.fetch(ctx)
	})
	return err
}

func (s *GoogleKeySource) fetch(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch signing certificates: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch signing certificates: status %d", resp.StatusCode)
	}

	var certs map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&certs); err != nil {
		return fmt.Errorf("decode signing certificates: %w", err)
	}
	keys := make(map[string]*rsa.PublicKey, len(certs))
	for kid, pem := range certs {
		key, err := jwt.ParseRSAPublicKeyFromPEM([]byte(pem))
		if err != nil {
			logrus.WithFields(logrus.Fields{"kid": kid, "error": err.Error()}).Warn("skipping unparsable signing certificate")
			continue
		}
		keys[kid] = key
	}
	ttl := maxAge(resp.Header.Get("Cache-Control"))

	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys = keys
	s.expires = s.now().Add(ttl)
	return nil
}

// maxAge reads max-age from a Cache-Control header, defaulting to one hour
func maxAge(header string) time.Duration {
	for _, directive := range strings.Split(header, ",") {
		name, value, ok := strings.Cut(strings.TrimSpace(directive), "=")
		if !ok || !strings.EqualFold(name, "max-age") {
			continue
		}
		if secs, err := strconv.Atoi(value); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return time.Hour
}
