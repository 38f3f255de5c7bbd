// Package session assembles the client-side services from configuration and
// owns their lifetime. Nothing in here is global; every collaborator hangs off
// the Session value returned by New.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/kimhsiao/ridelink/backend/internal/apiclient"
	"github.com/kimhsiao/ridelink/backend/internal/cache"
	"github.com/kimhsiao/ridelink/backend/internal/config"
	"github.com/kimhsiao/ridelink/backend/internal/db"
	apperrors "github.com/kimhsiao/ridelink/backend/internal/errors"
	"github.com/kimhsiao/ridelink/backend/internal/logging"
	"github.com/kimhsiao/ridelink/backend/internal/models"
	"github.com/kimhsiao/ridelink/backend/internal/push"
	syncpkg "github.com/kimhsiao/ridelink/backend/internal/sync"
	"github.com/kimhsiao/ridelink/backend/internal/sync/queue"
	"github.com/kimhsiao/ridelink/backend/internal/sync/scheduler"
)

// Window message types handled by the session in addition to the hub's own.
const (
	MessageControl = "control"
	MessageSyncNow = "sync_now"
)

const probeTimeout = 5 * time.Second

// Option customises New.
type Option func(*options)

type options struct {
	transport http.RoundTripper
	redis     *redis.Client
}

// WithTransport sets the transport underneath the cache manager and the prober.
func WithTransport(rt http.RoundTripper) Option {
	return func(o *options) { o.transport = rt }
}

// WithRedis stores cache groups in client instead of dialing Cache.RedisAddr.
// The session does not close a client passed this way.
func WithRedis(client *redis.Client) Option {
	return func(o *options) { o.redis = client }
}

// Session is the explicit context object of the client agent.
type Session struct {
	Config      config.Config
	Store       *db.Store
	Queue       *queue.TaskQueue
	Cache       *cache.Manager
	Proxy       http.Handler // window GETs to the cache origin, via Cache
	API         *apiclient.Client
	Coordinator *syncpkg.Coordinator
	Scheduler   *scheduler.Scheduler
	Hub         *push.Hub
	Bridge      *push.Bridge
	Consumer    *push.Consumer // nil unless Push.ConsumerEnabled

	database  *db.DB
	redis     *redis.Client
	logger    *logging.Logger
	closeOnce sync.Once
	closeErr  error
}

// New opens the local store and wires every client service. Nothing runs
// until Start.
func New(cfg config.Config, logger *logging.Logger, opts ...Option) (*Session, error) {
	if err := cfg.ValidateClient(); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrValidation, "client config", err)
	}
	if logger == nil {
		logger = logging.Discard()
	}
	o := options{transport: http.DefaultTransport}
	for _, opt := range opts {
		opt(&o)
	}

	store, database, err := db.OpenStore(cfg.Client.DataDir)
	if err != nil {
		return nil, err
	}

	s := &Session{
		Config:   cfg,
		Store:    store,
		database: database,
		logger:   logger.With("session"),
	}

	s.Queue = queue.NewTaskQueue(logger)
	s.Queue.OnFailure(func(job models.Job, err error) {
		s.logger.Error("job dropped", err, map[string]interface{}{
			"job_id":   job.ID,
			"type":     job.Type,
			"attempts": job.Attempts,
		})
	})

	cacheStore := cache.Store(cache.NewMemoryStore())
	switch {
	case o.redis != nil:
		cacheStore = cache.NewRedisStore(o.redis, cfg.Cache.RedisNamespace)
	case cfg.Cache.RedisAddr != "":
		s.redis = redis.NewClient(&redis.Options{Addr: cfg.Cache.RedisAddr})
		cacheStore = cache.NewRedisStore(s.redis, cfg.Cache.RedisNamespace)
	}

	cacheConfig, err := cacheConfigFrom(cfg)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.Cache = cache.NewManager(o.transport, cacheStore, cacheConfig, logger)
	s.Cache.UseQueue(s.Queue)
	s.Queue.RegisterHandler(cache.JobPopulate, s.Cache.PopulateJob)
	s.Proxy = cache.NewProxy(cacheConfig.Origin, s.Cache, logger)

	token := cfg.Client.Token
	s.API = apiclient.New(cfg.Client.APIBaseURL,
		apiclient.WithHTTPClient(&http.Client{Transport: s.Cache, Timeout: apiclient.DefaultTimeout}),
		apiclient.WithToken(func() string { return token }),
	)

	s.Hub = push.NewHub(push.HubConfig{AllowedOrigins: cfg.Client.AllowedOrigins}, logger)
	s.Bridge = push.NewBridge(s.Hub, s.Hub, logger)

	s.Coordinator = syncpkg.NewCoordinator(store, s.API, logger)
	s.Coordinator.SetEventHandler(hubEvents{hub: s.Hub, logger: s.logger})

	// The prober bypasses the cache so a cached health answer never reads as online.
	s.Scheduler = scheduler.NewScheduler(s.Coordinator, s.Queue, store, &scheduler.SchedulerConfig{
		UserID:          cfg.Client.UserID,
		ProbeInterval:   cfg.Client.ProbeInterval,
		SweepInterval:   cfg.Client.SweepInterval,
		RetentionMaxAge: cfg.Client.RetentionMaxAge,
		SyncTimeout:     cfg.Client.SyncTimeout,
		Prober: &scheduler.HTTPProber{
			Client: &http.Client{Transport: o.transport, Timeout: probeTimeout},
			URL:    strings.TrimRight(cfg.Client.APIBaseURL, "/") + "/api/health",
		},
	}, logger)

	s.Hub.Handle(push.MessageNotificationClick, s.Bridge.ClickHandler)
	s.Hub.Handle(MessageControl, s.handleControl)
	s.Hub.Handle(MessageSyncNow, s.handleSyncNow)

	if cfg.Push.ConsumerEnabled {
		s.Consumer, err = push.NewConsumer(push.ConsumerConfig{
			Topic:            cfg.Push.Topic,
			Channel:          cfg.Push.Channel,
			UserID:           cfg.Client.UserID,
			NsqdAddresses:    cfg.Push.NsqdTCPAddrs,
			LookupdAddresses: cfg.Push.LookupdHTTPAddrs,
			MaxInFlight:      cfg.Push.MaxInFlight,
		}, s.Bridge, logger)
		if err != nil {
			s.Close()
			return nil, err
		}
	}

	return s, nil
}

// cacheConfigFrom maps the cache section onto the manager's config. Group
// bounds in the file override the defaults one group at a time.
func cacheConfigFrom(cfg config.Config) (cache.Config, error) {
	rawOrigin := cfg.Cache.Origin
	if rawOrigin == "" {
		rawOrigin = cfg.Client.APIBaseURL
	}
	origin, err := url.Parse(rawOrigin)
	if err != nil {
		return cache.Config{}, apperrors.Wrap(apperrors.ErrValidation, "cache origin", err)
	}

	groups := cache.DefaultGroups()
	for name, g := range cfg.Cache.Groups {
		groups[name] = cache.GroupConfig{MaxEntries: g.MaxEntries, MaxAge: g.MaxAge}
	}

	return cache.Config{
		Origin:         origin,
		AllowedHosts:   cfg.Cache.AllowedHosts,
		Prefix:         cfg.Cache.Prefix,
		Version:        cfg.Cache.Version,
		NetworkTimeout: cfg.Cache.NetworkTimeout,
		Groups:         groups,
		Manifest:       cfg.Cache.Manifest,
	}, nil
}

// Start installs and activates the cache, then starts the scheduler and the
// push consumer. A failed install is logged and the agent keeps running
// without precached shell entries, since it may be starting offline.
func (s *Session) Start(ctx context.Context) error {
	if err := s.Cache.Install(ctx); err != nil {
		s.logger.Warn("cache install failed, continuing without precache", map[string]interface{}{
			"error": err.Error(),
		})
	}
	if err := s.Cache.Activate(ctx); err != nil {
		return err
	}

	s.Scheduler.Start(ctx)

	if s.Consumer != nil {
		if err := s.Consumer.Start(); err != nil {
			return err
		}
	}

	s.logger.Info("session started", map[string]interface{}{
		"user_id":  s.Config.Client.UserID,
		"api":      s.Config.Client.APIBaseURL,
		"consumer": s.Consumer != nil,
	})
	return nil
}

// Close stops every service in reverse start order and closes the store.
// It is safe to call more than once.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		if s.Scheduler != nil {
			s.Scheduler.Stop()
		}
		if s.Consumer != nil {
			s.Consumer.Stop()
		}
		if s.Hub != nil {
			s.Hub.Close()
		}
		if s.Queue != nil {
			s.Queue.Close()
		}

		var errs []error
		if s.Cache != nil {
			errs = append(errs, s.Cache.Close())
		}
		if s.redis != nil {
			errs = append(errs, s.redis.Close())
		}
		if s.database != nil {
			errs = append(errs, s.database.Close())
		}
		s.closeErr = errors.Join(errs...)
	})
	return s.closeErr
}

// =====================================================
// Window Messages
// =====================================================

func (s *Session) handleControl(ctx context.Context, _ string, data json.RawMessage) (interface{}, error) {
	var msg cache.ControlMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInvalid, "decode control message", err)
	}
	return s.Cache.HandleControl(ctx, msg)
}

func (s *Session) handleSyncNow(_ context.Context, _ string, _ json.RawMessage) (interface{}, error) {
	return map[string]interface{}{"queued": s.Scheduler.TriggerNow()}, nil
}

// hubEvents forwards coordinator events to every open window.
type hubEvents struct {
	hub    *push.Hub
	logger *logging.Logger
}

func (e hubEvents) OnSyncEvent(event syncpkg.SyncEvent) {
	if err := e.hub.Broadcast(string(event.Type), event); err != nil {
		e.logger.Debug("sync event not forwarded", map[string]interface{}{
			"event": string(event.Type),
			"error": err.Error(),
		})
	}
}
