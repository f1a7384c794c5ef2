// Package injector turns failed backend calls into state on the live
// replica, so every collaborator on a document sees validation failures.
package injector

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"newsroom/api/internal/auth"
	"newsroom/api/internal/metrics"
	"newsroom/api/internal/notify"
	"newsroom/api/internal/rpc"
	"newsroom/api/internal/transform"
	"newsroom/api/internal/ydoc"
)

// KeyValidation is the field set on ele.root.
const KeyValidation = transform.KeyValidation

// OriginValidation is the transaction origin of injected records.
const OriginValidation = "validation"

const defaultOpenTimeout = 5 * time.Second

// Context identifies the document and caller an error belongs to.
type Context struct {
	ID          string
	AccessToken string
	User        *auth.Claims
}

// Connection is a direct connection to a live replica.
type Connection interface {
	Transact(origin string, fn func(root *ydoc.Map) error) error
	Disconnect()
}

// Opener opens direct connections to live replicas.
type Opener interface {
	OpenDirectConnection(ctx context.Context, id, accessToken string) (Connection, error)
}

type Config struct {
	OpenTimeout time.Duration
	Notifier    notify.Notifier
	Metrics     *metrics.Collector
}

type Injector struct {
	logger      zerolog.Logger
	openTimeout time.Duration
	notifier    notify.Notifier
	metrics     *metrics.Collector

	mu     sync.RWMutex
	server Opener
}

func New(logger zerolog.Logger, cfg Config) *Injector {
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = defaultOpenTimeout
	}
	if cfg.Notifier == nil {
		cfg.Notifier = notify.Discard
	}
	return &Injector{
		logger:      logger.With().Str("component", "injector").Logger(),
		openTimeout: cfg.OpenTimeout,
		notifier:    cfg.Notifier,
		metrics:     cfg.Metrics,
	}
}

// Attach sets the server used to reach live replicas. Until a server is
// attached, validation failures are only logged.
func (i *Injector) Attach(server Opener) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.server = server
}

func (i *Injector) opener() Opener {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.server
}

// Handle classifies err and reacts to it. It never fails and never
// panics on behalf of the caller.
func (i *Injector) Handle(ctx context.Context, err error, hc Context) {
	if err == nil {
		return
	}
	rpcErr, ok := rpc.Find(err)
	if ok {
		switch rpcErr.Code {
		case rpc.CodeInvalidArgument:
			i.injectValidation(ctx, rpcErr, hc)
		case rpc.CodeUnauthenticated:
			i.logger.Warn().
				Str("document", hc.ID).
				Str("service", rpcErr.Service).
				Str("method", rpcErr.Method).
				Msg("backend rejected credentials")
		}
	}
	i.forward(ctx, err, rpcErr, hc)
}

func (i *Injector) injectValidation(ctx context.Context, rpcErr *rpc.Error, hc Context) {
	server := i.opener()
	if hc.ID == "" || hc.AccessToken == "" || server == nil {
		i.logger.Warn().
			Str("document", hc.ID).
			Bool("has_token", hc.AccessToken != "").
			Bool("has_server", server != nil).
			Msg("cannot inject validation: missing document, token or server")
		i.metrics.Injection(metrics.ResultSkipped)
		return
	}

	openCtx, cancel := context.WithTimeout(ctx, i.openTimeout)
	defer cancel()
	conn, err := server.OpenDirectConnection(openCtx, hc.ID, hc.AccessToken)
	if err != nil {
		i.logger.Error().Err(err).Str("document", hc.ID).Msg("open direct connection for validation")
		i.metrics.Injection(metrics.ResultError)
		return
	}
	defer conn.Disconnect()

	err = conn.Transact(OriginValidation, func(top *ydoc.Map) error {
		root, err := documentRoot(top)
		if err != nil {
			return err
		}
		root.Set(KeyValidation, validationRecord(rpcErr))
		return nil
	})
	if err != nil {
		i.logger.Error().Err(err).Str("document", hc.ID).Msg("write validation record")
		i.metrics.Injection(metrics.ResultError)
		return
	}
	i.logger.Info().
		Str("document", hc.ID).
		Str("service", rpcErr.Service).
		Str("method", rpcErr.Method).
		Msg("validation failure injected")
	i.metrics.Injection(metrics.ResultInjected)
}

func (i *Injector) forward(ctx context.Context, err error, rpcErr *rpc.Error, hc Context) {
	if hc.User == nil || hc.User.Sub == "" {
		return
	}
	note := notify.Notification{
		Kind:       notify.KindError,
		DocumentID: hc.ID,
		Message:    err.Error(),
	}
	if rpcErr != nil {
		note.Code = rpcErr.Code
		note.Message = rpcErr.Message
		note.Meta = rpcErr.Meta
		if rpcErr.Code == rpc.CodeInvalidArgument {
			note.Kind = notify.KindValidation
		}
	}
	if err := i.notifier.Notify(ctx, hc.User.Sub, note); err != nil {
		i.logger.Warn().Err(err).Str("user", hc.User.Sub).Msg("forward notification")
	}
}

var errNoRoot = errors.New("replica has no document root")

func documentRoot(top *ydoc.Map) (*ydoc.Map, error) {
	value, ok := top.Get(transform.KeyEle)
	if !ok {
		return nil, errNoRoot
	}
	ele, ok := value.(*ydoc.Map)
	if !ok {
		return nil, errNoRoot
	}
	value, ok = ele.Get(transform.KeyRoot)
	if !ok {
		return nil, errNoRoot
	}
	root, ok := value.(*ydoc.Map)
	if !ok {
		return nil, errNoRoot
	}
	return root, nil
}

// validationRecord builds {code, meta, operationName, serviceName}.
func validationRecord(rpcErr *rpc.Error) *ydoc.Map {
	meta := ydoc.NewMap()
	keys := make([]string, 0, len(rpcErr.Meta))
	for key := range rpcErr.Meta {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		meta.Set(key, rpcErr.Meta[key])
	}

	record := ydoc.NewMap()
	record.Set("code", rpcErr.Code)
	record.Set("meta", meta)
	record.Set("operationName", rpcErr.Method)
	record.Set("serviceName", rpcErr.Service)
	return record
}
