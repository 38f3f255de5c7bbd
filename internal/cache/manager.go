package cache

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	apperrors "github.com/kimhsiao/ridelink/backend/internal/errors"
	"github.com/kimhsiao/ridelink/backend/internal/logging"
	"github.com/kimhsiao/ridelink/backend/internal/models"
)

// Response headers set on responses the manager produces itself.
const (
	HeaderCache  = "X-Cache"
	CacheHit     = "hit"
	CacheOffline = "offline"
)

// DefaultNetworkTimeout bounds the network attempt of NetworkFirst.
const DefaultNetworkTimeout = 3 * time.Second

var offlineBody = []byte(`{"error":"offline"}`)

// Config configures a Manager.
type Config struct {
	// Origin is the application origin. Requests to other hosts pass
	// through unless their host is in AllowedHosts. Nil treats every host as same-origin.
	Origin       *url.URL
	AllowedHosts []string

	Prefix         string
	Version        string
	NetworkTimeout time.Duration
	Groups         map[string]GroupConfig
	Rules          []Rule

	// Manifest lists the URLs precached into the shell group by Install.
	Manifest []string
}

// Manager intercepts outgoing requests and applies the matched caching strategy.
// A Manager passes everything through until it has been activated.
type Manager struct {
	next   http.RoundTripper
	store  Store
	config Config
	logger *logging.Logger
	now    func() time.Time

	active     atomic.Bool
	installed  atomic.Bool
	revalidate singleflight.Group

	// bgMu orders background.Add against Close.
	bgMu       sync.Mutex
	closed     bool
	background sync.WaitGroup

	mu    sync.Mutex
	queue JobQueue
}

// NewManager creates a Manager in front of next. A nil next means http.DefaultTransport.
func NewManager(next http.RoundTripper, store Store, config Config, logger *logging.Logger) *Manager {
	if next == nil {
		next = http.DefaultTransport
	}
	if store == nil {
		store = NewMemoryStore()
	}
	if logger == nil {
		logger = logging.Discard()
	}
	if config.Prefix == "" {
		config.Prefix = "ridelink"
	}
	if config.Version == "" {
		config.Version = "v1"
	}
	if config.NetworkTimeout <= 0 {
		config.NetworkTimeout = DefaultNetworkTimeout
	}
	if config.Groups == nil {
		config.Groups = DefaultGroups()
	}
	if config.Rules == nil {
		config.Rules = DefaultRules()
	}

	return &Manager{
		next:   next,
		store:  store,
		config: config,
		logger: logger.With("cache"),
		now:    time.Now,
	}
}

// GroupName returns the versioned store name of a logical group.
func (m *Manager) GroupName(name string) string {
	return GroupName(m.config.Prefix, name, m.config.Version)
}

// Store returns the backing store.
func (m *Manager) Store() Store {
	return m.store
}

// Installed reports whether Install has completed.
func (m *Manager) Installed() bool {
	return m.installed.Load()
}

// Active reports whether the manager is intercepting requests.
func (m *Manager) Active() bool {
	return m.active.Load()
}

// RoundTrip implements http.RoundTripper.
func (m *Manager) RoundTrip(req *http.Request) (*http.Response, error) {
	if !m.active.Load() || req.Method != http.MethodGet || !m.sameOrigin(req.URL) {
		return m.next.RoundTrip(req)
	}

	rule, ok := MatchRule(m.config.Rules, req)
	if !ok {
		return m.next.RoundTrip(req)
	}

	group := m.GroupName(rule.Group)
	switch rule.Strategy {
	case CacheFirst:
		return m.cacheFirst(req, group)
	case NetworkFirst:
		return m.networkFirst(req, group)
	case StaleWhileRevalidate:
		return m.staleWhileRevalidate(req, group)
	default:
		return m.next.RoundTrip(req)
	}
}

func (m *Manager) sameOrigin(u *url.URL) bool {
	if m.config.Origin == nil {
		return true
	}
	if strings.EqualFold(u.Host, m.config.Origin.Host) && u.Scheme == m.config.Origin.Scheme {
		return true
	}
	for _, h := range m.config.AllowedHosts {
		if strings.EqualFold(u.Hostname(), h) {
			return true
		}
	}
	return false
}

// cacheKey is the method plus the absolute URL.
func cacheKey(req *http.Request) string {
	return req.Method + " " + req.URL.String()
}

// =====================================================
// Strategies
// =====================================================

func (m *Manager) cacheFirst(req *http.Request, group string) (*http.Response, error) {
	if entry := m.lookup(req, group); entry != nil {
		return entryResponse(req, entry), nil
	}

	resp, body, err := m.fetch(req, 0)
	if err != nil {
		return nil, err
	}
	m.storeAsync(req, group, resp, body)
	return resp, nil
}

func (m *Manager) networkFirst(req *http.Request, group string) (*http.Response, error) {
	resp, body, err := m.fetch(req, m.config.NetworkTimeout)
	if err == nil {
		m.storeAsync(req, group, resp, body)
		return resp, nil
	}

	m.logger.Debug("network failed, falling back to cache", map[string]interface{}{
		"url":   req.URL.String(),
		"error": err.Error(),
	})

	if entry := m.lookup(req, group); entry != nil {
		return entryResponse(req, entry), nil
	}
	return offlineResponse(req), nil
}

func (m *Manager) staleWhileRevalidate(req *http.Request, group string) (*http.Response, error) {
	entry := m.lookup(req, group)
	if entry == nil {
		resp, body, err := m.fetch(req, 0)
		if err != nil {
			return nil, err
		}
		m.storeAsync(req, group, resp, body)
		return resp, nil
	}

	key := cacheKey(req)
	bg := req.Clone(context.Background())
	m.goBackground(func() {
		m.revalidate.Do(group+"|"+key, func() (interface{}, error) {
			resp, body, err := m.fetch(bg, m.config.NetworkTimeout)
			if err != nil {
				m.logger.Debug("revalidation failed", map[string]interface{}{"url": bg.URL.String(), "error": err.Error()})
				return nil, err
			}
			m.put(bg, group, resp, body)
			return nil, nil
		})
	})

	return entryResponse(req, entry), nil
}

// =====================================================
// Fetch and Store
// =====================================================

// fetch performs the network request and buffers the body.
// A zero timeout leaves the request context as is.
func (m *Manager) fetch(req *http.Request, timeout time.Duration) (*http.Response, []byte, error) {
	ctx := req.Context()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	resp, err := m.next.RoundTrip(req.Clone(ctx))
	if err != nil {
		return nil, nil, apperrors.Wrap(apperrors.ErrNetwork, "fetch "+req.URL.String(), err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, apperrors.Wrap(apperrors.ErrNetwork, "read "+req.URL.String(), err)
	}

	resp.Body = io.NopCloser(bytes.NewReader(body))
	resp.ContentLength = int64(len(body))
	resp.Request = req
	return resp, body, nil
}

func (m *Manager) lookup(req *http.Request, group string) *models.CacheEntry {
	entry, err := m.store.Get(req.Context(), group, cacheKey(req))
	if err != nil {
		m.logger.Warn("cache read failed", map[string]interface{}{"group": group, "error": err.Error()})
		return nil
	}
	return entry
}

// storeAsync writes a 2xx response in the background; Wait and Close flush it.
func (m *Manager) storeAsync(req *http.Request, group string, resp *http.Response, body []byte) {
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return
	}
	header := resp.Header.Clone()
	status := resp.StatusCode
	key := cacheKey(req)
	m.goBackground(func() {
		m.putEntry(group, key, status, header, body)
	})
}

// goBackground runs fn as tracked background work. After Close it drops fn
// and returns false.
func (m *Manager) goBackground(fn func()) bool {
	m.bgMu.Lock()
	defer m.bgMu.Unlock()
	if m.closed {
		return false
	}
	m.background.Add(1)
	go func() {
		defer m.background.Done()
		fn()
	}()
	return true
}

func (m *Manager) put(req *http.Request, group string, resp *http.Response, body []byte) {
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return
	}
	m.putEntry(group, cacheKey(req), resp.StatusCode, resp.Header.Clone(), body)
}

func (m *Manager) putEntry(group, key string, status int, header http.Header, body []byte) {
	entry := &models.CacheEntry{
		Group:    group,
		Key:      key,
		Status:   status,
		Header:   header,
		Body:     body,
		StoredAt: m.now().UnixMilli(),
	}
	if err := m.store.Put(context.Background(), entry); err != nil {
		m.logger.Warn("cache write failed", map[string]interface{}{"group": group, "key": key, "error": err.Error()})
	}
}

// Wait blocks until background revalidations and cache writes finish.
func (m *Manager) Wait() {
	m.background.Wait()
}

// Close stops intercepting and waits for background work. Responses still in
// flight when Close is called are returned but no longer stored.
func (m *Manager) Close() error {
	m.active.Store(false)
	m.bgMu.Lock()
	m.closed = true
	m.bgMu.Unlock()
	m.background.Wait()
	return nil
}

// =====================================================
// Synthesized Responses
// =====================================================

func entryResponse(req *http.Request, entry *models.CacheEntry) *http.Response {
	header := entry.Header.Clone()
	if header == nil {
		header = make(http.Header)
	}
	header.Set(HeaderCache, CacheHit)
	return newResponse(req, entry.Status, header, entry.Body)
}

func offlineResponse(req *http.Request) *http.Response {
	header := make(http.Header)
	header.Set("Content-Type", "application/json")
	header.Set(HeaderCache, CacheOffline)
	return newResponse(req, http.StatusServiceUnavailable, header, offlineBody)
}

func newResponse(req *http.Request, status int, header http.Header, body []byte) *http.Response {
	return &http.Response{
		Status:        fmt.Sprintf("%d %s", status, http.StatusText(status)),
		StatusCode:    status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: int64(len(body)),
		Request:       req,
	}
}
