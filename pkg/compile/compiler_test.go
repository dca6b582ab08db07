package compile

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/flowplane/flowplane/pkg/stores"
	"github.com/flowplane/flowplane/pkg/telemetry"
)

func setupCompiler(t *testing.T) (*Compiler, *stores.SQLiteStore) {
	t.Helper()
	store, err := stores.NewSQLiteStore(stores.Config{Path: ":memory:"})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to init store: %v", err)
	}
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return NewCompiler(store, zerolog.Nop()), store
}

func TestCompilerPersistsArtifact(t *testing.T) {
	c, store := setupCompiler(t)
	ctx := context.Background()
	doc := mustDoc(t, guardDoc)

	artifact, err := c.CompileExpr(ctx, doc, "sql")
	if err != nil {
		t.Fatalf("compile failed: %v", err)
	}
	if artifact.ExpressionHash != doc.Hash() {
		t.Errorf("artifact hash %q does not match document hash %q", artifact.ExpressionHash, doc.Hash())
	}

	stored, err := store.GetArtifact(ctx, doc.Hash(), "sql")
	if err != nil {
		t.Fatalf("artifact not persisted: %v", err)
	}
	if stored.Content != artifact.Content {
		t.Errorf("persisted content %q differs from returned %q", stored.Content, artifact.Content)
	}
}

func TestCompilerCacheHit(t *testing.T) {
	c, _ := setupCompiler(t)
	ctx := context.Background()
	doc := mustDoc(t, guardDoc)

	first, err := c.CompileExpr(ctx, doc, "sql")
	if err != nil {
		t.Fatalf("compile failed: %v", err)
	}
	second, err := c.CompileExpr(ctx, doc, "sql")
	if err != nil {
		t.Fatalf("cached compile failed: %v", err)
	}
	if first != second {
		t.Error("expected the cached artifact instance on the second call")
	}
}

func TestCompilerWarmStartFromStore(t *testing.T) {
	c, store := setupCompiler(t)
	ctx := context.Background()
	doc := mustDoc(t, guardDoc)

	if _, err := c.CompileExpr(ctx, doc, "flink"); err != nil {
		t.Fatalf("compile failed: %v", err)
	}

	// A fresh compiler over the same store serves the persisted copy.
	fresh := NewCompiler(store, zerolog.Nop())
	artifact, err := fresh.CompileExpr(ctx, doc, "flink")
	if err != nil {
		t.Fatalf("warm compile failed: %v", err)
	}
	if artifact.ExpressionHash != doc.Hash() {
		t.Errorf("unexpected artifact hash %q", artifact.ExpressionHash)
	}
}

func TestCompilerRecordsCacheMetrics(t *testing.T) {
	c, _ := setupCompiler(t)
	metrics, err := telemetry.NewMetrics(telemetry.MetricsConfig{Enabled: true, Namespace: "flowplane"})
	if err != nil {
		t.Fatalf("metrics init failed: %v", err)
	}
	c.WithMetrics(metrics)
	ctx := context.Background()
	doc := mustDoc(t, guardDoc)

	if _, err := c.CompileExpr(ctx, doc, "sql"); err != nil {
		t.Fatalf("compile failed: %v", err)
	}
	if _, err := c.CompileExpr(ctx, doc, "sql"); err != nil {
		t.Fatalf("cached compile failed: %v", err)
	}

	rec := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()

	for _, want := range []string{
		`flowplane_compilations_total{backend="sql",cache="miss"} 1`,
		`flowplane_compilations_total{backend="sql",cache="hit"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

func TestCompilerCacheOnlyWithoutStore(t *testing.T) {
	c := NewCompiler(nil, zerolog.Nop())
	if _, err := c.CompileExpr(context.Background(), mustDoc(t, guardDoc), "rego"); err != nil {
		t.Fatalf("compile failed: %v", err)
	}
}

func TestCompilerUnknownBackend(t *testing.T) {
	c := NewCompiler(nil, zerolog.Nop())
	if _, err := c.CompileExpr(context.Background(), mustDoc(t, guardDoc), "spark"); err == nil {
		t.Fatal("expected an error for an unregistered backend")
	}
}

func TestCompilerKindDispatch(t *testing.T) {
	c := NewCompiler(nil, zerolog.Nop())
	ctx := context.Background()

	if _, err := c.CompileExpr(ctx, mustDoc(t, actionsDoc), "flink"); err == nil {
		t.Error("expected CompileExpr to reject an actions document")
	}
	if _, err := c.CompileActions(ctx, mustDoc(t, guardDoc), "flink"); err == nil {
		t.Error("expected CompileActions to reject an expression document")
	}
	if _, err := c.CompileActions(ctx, mustDoc(t, actionsDoc), "flink"); err != nil {
		t.Errorf("actions compile failed: %v", err)
	}
}
