package compile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"

	"github.com/flowplane/flowplane/pkg/dsl"
	"github.com/flowplane/flowplane/pkg/stores"
	"github.com/flowplane/flowplane/pkg/telemetry"
)

// Compiler dispatches documents to registered backends and caches
// artifacts by content hash. A document compiles to the same artifact
// forever, so cached entries never need invalidation; the in-memory
// cache just bounds how long they stay resident. When a store is
// attached artifacts are also persisted so restarts keep warm.
type Compiler struct {
	mu       sync.RWMutex
	backends map[string]Backend
	cache    *gocache.Cache
	store    stores.Store
	logger   zerolog.Logger
	metrics  *telemetry.Metrics
	tracer   *telemetry.Tracer
}

const (
	cacheExpiration = 1 * time.Hour
	cacheSweep      = 10 * time.Minute
)

// NewCompiler creates a compiler with the sql, flink, and rego
// backends registered. Pass a nil store to run cache-only.
func NewCompiler(store stores.Store, logger zerolog.Logger) *Compiler {
	c := &Compiler{
		backends: make(map[string]Backend),
		cache:    gocache.New(cacheExpiration, cacheSweep),
		store:    store,
		logger:   logger.With().Str("component", "compiler").Logger(),
	}
	c.Register(NewSQLBackend())
	c.Register(NewFlinkBackend())
	c.Register(NewRegoBackend())
	return c
}

// WithMetrics enables cache hit/miss metrics.
func (c *Compiler) WithMetrics(m *telemetry.Metrics) *Compiler {
	c.metrics = m
	return c
}

// WithTracer enables compile spans.
func (c *Compiler) WithTracer(t *telemetry.Tracer) *Compiler {
	c.tracer = t
	return c
}

// Register adds or replaces a backend.
func (c *Compiler) Register(b Backend) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.backends[b.Name()] = b
}

// Backends lists the registered backend names.
func (c *Compiler) Backends() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.backends))
	for name := range c.backends {
		names = append(names, name)
	}
	return names
}

func (c *Compiler) backend(name string) (Backend, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	b, ok := c.backends[name]
	if !ok {
		return nil, fmt.Errorf("unknown backend: %s", name)
	}
	return b, nil
}

// CompileExpr compiles an expression document for the named backend.
// The document must carry an expression kind; action lists go through
// CompileActions.
func (c *Compiler) CompileExpr(ctx context.Context, doc *dsl.Document, backendName string) (*stores.CompiledArtifact, error) {
	if doc.Kind == dsl.KindActions {
		return nil, fmt.Errorf("document kind %s is not an expression", doc.Kind)
	}
	return c.compile(ctx, doc, backendName, func(b Backend) (string, error) {
		return b.CompileExpr(doc)
	})
}

// CompileActions compiles an action-list document for the named
// backend.
func (c *Compiler) CompileActions(ctx context.Context, doc *dsl.Document, backendName string) (*stores.CompiledArtifact, error) {
	if doc.Kind != dsl.KindActions {
		return nil, fmt.Errorf("document kind %s is not an action list", doc.Kind)
	}
	return c.compile(ctx, doc, backendName, func(b Backend) (string, error) {
		return b.CompileActions(doc)
	})
}

func (c *Compiler) compile(ctx context.Context, doc *dsl.Document, backendName string, emit func(Backend) (string, error)) (*stores.CompiledArtifact, error) {
	b, err := c.backend(backendName)
	if err != nil {
		return nil, err
	}

	hash := doc.Hash()
	if c.tracer != nil {
		var span trace.Span
		ctx, span = c.tracer.StartCompileSpan(ctx, backendName, hash)
		defer span.End()
	}

	key := hash + "|" + backendName
	if cached, ok := c.cache.Get(key); ok {
		c.recordCompilation(backendName, true)
		return cached.(*stores.CompiledArtifact), nil
	}

	if c.store != nil {
		artifact, err := c.store.GetArtifact(ctx, hash, backendName)
		if err == nil {
			c.cache.SetDefault(key, artifact)
			c.recordCompilation(backendName, true)
			return artifact, nil
		}
		if !errors.Is(err, stores.ErrNotFound) {
			return nil, fmt.Errorf("failed to read artifact: %w", err)
		}
	}

	content, err := emit(b)
	if err != nil {
		return nil, err
	}
	c.recordCompilation(backendName, false)
	artifact := &stores.CompiledArtifact{
		ExpressionHash: hash,
		Backend:        backendName,
		Kind:           string(doc.Kind),
		Content:        content,
		CreatedAt:      time.Now().UTC(),
	}

	c.cache.SetDefault(key, artifact)
	if c.store != nil {
		if err := c.store.PutArtifact(ctx, artifact); err != nil {
			// Derived data; losing the persisted copy only costs a
			// recompile on the next cold start.
			c.logger.Warn().Err(err).
				Str("hash", hash).
				Str("backend", backendName).
				Msg("Failed to persist compiled artifact")
		}
	}

	c.logger.Debug().
		Str("hash", hash).
		Str("backend", backendName).
		Str("kind", string(doc.Kind)).
		Msg("Document compiled")

	return artifact, nil
}

func (c *Compiler) recordCompilation(backend string, cacheHit bool) {
	if c.metrics != nil {
		c.metrics.RecordCompilation(backend, cacheHit)
	}
}
