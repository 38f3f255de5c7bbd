package push

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"sync/atomic"
	"time"

	"github.com/nsqio/go-nsq"

	apperrors "github.com/kimhsiao/ridelink/backend/internal/errors"
	"github.com/kimhsiao/ridelink/backend/internal/logging"
)

// Topic defaults shared by the API publisher and the client consumer.
const (
	DefaultTopic   = "ridelink.push"
	DefaultChannel = "client"

	defaultHandleTimeout = 30 * time.Second
	userAgent            = "ridelink-client"
)

// Delivery is the envelope published on the push topic.
// An empty UserID addresses every user.
type Delivery struct {
	UserID  string          `json:"userId,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

// PushHandler receives push payloads addressed to this client.
type PushHandler interface {
	HandlePush(ctx context.Context, raw []byte) (*Notification, error)
}

// ConsumerConfig configures a Consumer.
type ConsumerConfig struct {
	Topic            string
	Channel          string
	UserID           string
	NsqdAddresses    []string
	LookupdAddresses []string
	MaxInFlight      int
	Concurrency      int
	HandleTimeout    time.Duration
}

func (c *ConsumerConfig) validate() error {
	if c.Topic == "" {
		c.Topic = DefaultTopic
	}
	if c.Channel == "" {
		c.Channel = DefaultChannel
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 1
	}
	if c.HandleTimeout <= 0 {
		c.HandleTimeout = defaultHandleTimeout
	}
	if len(c.NsqdAddresses) == 0 && len(c.LookupdAddresses) == 0 {
		return apperrors.New(apperrors.ErrValidation, "no nsqd address or lookupd configured")
	}
	return nil
}

// Consumer receives deliveries from NSQ and hands the ones addressed to
// this client to a PushHandler.
type Consumer struct {
	config   ConsumerConfig
	consumer *nsq.Consumer
	handler  PushHandler
	logger   *logging.Logger
	started  atomic.Bool

	// nsqLog feeds go-nsq's logger into ours; Stop closes it.
	nsqLog *io.PipeWriter
}

// NewConsumer creates a Consumer. It does not connect until Start.
func NewConsumer(config ConsumerConfig, handler PushHandler, logger *logging.Logger) (*Consumer, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}
	if handler == nil {
		return nil, apperrors.New(apperrors.ErrValidation, "push handler is required")
	}
	if logger == nil {
		logger = logging.Discard()
	}

	nsqConfig := nsq.NewConfig()
	if config.MaxInFlight > 0 {
		nsqConfig.MaxInFlight = config.MaxInFlight
	}
	nsqConfig.UserAgent = userAgent

	consumer, err := nsq.NewConsumer(config.Topic, config.Channel, nsqConfig)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrValidation, "create nsq consumer", err)
	}

	c := &Consumer{
		config:   config,
		consumer: consumer,
		handler:  handler,
		logger:   logger.With("push_consumer"),
	}
	c.nsqLog = c.logger.Writer()
	consumer.SetLogger(log.New(c.nsqLog, "[nsq] ", 0), nsq.LogLevelWarning)
	return c, nil
}

// Start registers the handler and connects to nsqd or lookupd.
func (c *Consumer) Start() error {
	c.consumer.AddConcurrentHandlers(c, c.config.Concurrency)
	c.started.Store(true)

	if len(c.config.LookupdAddresses) > 0 {
		if err := c.consumer.ConnectToNSQLookupds(c.config.LookupdAddresses); err != nil {
			return apperrors.Wrap(apperrors.ErrNetwork, "connect to nsqlookupd", err)
		}
	} else if err := c.consumer.ConnectToNSQDs(c.config.NsqdAddresses); err != nil {
		return apperrors.Wrap(apperrors.ErrNetwork, "connect to nsqd", err)
	}

	c.logger.Info("push consumer started", map[string]interface{}{
		"topic":   c.config.Topic,
		"channel": c.config.Channel,
	})
	return nil
}

// Stop disconnects and waits for in-flight messages. A consumer that was
// never started has no handlers to wait for.
func (c *Consumer) Stop() {
	c.consumer.Stop()
	if c.started.Load() {
		<-c.consumer.StopChan
	}
	c.nsqLog.Close()
}

// HandleMessage implements nsq.Handler. Malformed or foreign deliveries are
// finished; a handler error requeues the message.
func (c *Consumer) HandleMessage(m *nsq.Message) error {
	var d Delivery
	if err := json.Unmarshal(m.Body, &d); err != nil || len(d.Payload) == 0 {
		c.logger.Warn("malformed push delivery dropped", map[string]interface{}{"attempts": m.Attempts})
		return nil
	}
	if d.UserID != "" && d.UserID != c.config.UserID {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.config.HandleTimeout)
	defer cancel()

	if _, err := c.handler.HandlePush(ctx, d.Payload); err != nil {
		c.logger.Error("push delivery failed", err, map[string]interface{}{"attempts": m.Attempts})
		return err
	}
	return nil
}
