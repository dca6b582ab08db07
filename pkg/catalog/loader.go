package catalog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/flowplane/flowplane/pkg/dsl"
)

// Catalog holds the loaded workflow definitions and reloads them on
// file change.
type Catalog struct {
	logger   zerolog.Logger
	validate *validator.Validate

	mu      sync.RWMutex
	defs    map[string]*Definition
	watcher *fsnotify.Watcher
}

// New creates an empty catalog.
func New(logger zerolog.Logger) *Catalog {
	return &Catalog{
		logger:   logger.With().Str("component", "catalog").Logger(),
		validate: validator.New(),
		defs:     make(map[string]*Definition),
	}
}

// LoadFromPaths loads definitions from a list of file or directory
// paths, replacing the current set on success. A validation failure
// in any file aborts the whole load so the catalog never serves a
// half-updated set.
func (c *Catalog) LoadFromPaths(ctx context.Context, paths []string) error {
	loaded := make(map[string]*Definition)

	for _, path := range paths {
		if err := c.loadFromPath(ctx, path, loaded); err != nil {
			return fmt.Errorf("failed to load from path %s: %w", path, err)
		}
	}

	c.mu.Lock()
	c.defs = loaded
	c.mu.Unlock()

	c.logger.Info().
		Int("definitions", len(loaded)).
		Int("sources", len(paths)).
		Msg("Workflow definitions loaded")

	return nil
}

func (c *Catalog) loadFromPath(ctx context.Context, path string, into map[string]*Definition) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("failed to stat path: %w", err)
	}

	if info.IsDir() {
		return filepath.WalkDir(path, func(p string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() || !isDefinitionFile(p) {
				return nil
			}
			return c.loadFromFile(ctx, p, into)
		})
	}
	return c.loadFromFile(ctx, path, into)
}

func isDefinitionFile(path string) bool {
	return strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml")
}

// loadFromFile parses one YAML file, which may hold multiple
// definitions as a document stream.
func (c *Catalog) loadFromFile(_ context.Context, path string, into map[string]*Definition) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	for {
		var wd WorkflowDefinition
		if err := dec.Decode(&wd); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("failed to parse %s: %w", path, err)
		}

		def, err := c.build(&wd)
		if err != nil {
			return fmt.Errorf("invalid definition in %s: %w", path, err)
		}
		if _, dup := into[def.Code]; dup {
			return fmt.Errorf("duplicate workflow definition %q in %s", def.Code, path)
		}
		into[def.Code] = def

		c.logger.Debug().
			Str("workflow", def.Code).
			Int("states", len(def.States)).
			Int("transitions", len(def.Transitions)).
			Msg("Definition loaded")
	}
}

// build validates a raw definition and resolves its lookup indexes
// and embedded rule documents.
func (c *Catalog) build(wd *WorkflowDefinition) (*Definition, error) {
	if err := c.validate.Struct(wd); err != nil {
		return nil, err
	}

	def := &Definition{
		WorkflowDefinition: *wd,
		states:             make(map[string]*State, len(wd.States)),
		transitions:        make(map[transitionKey]*Transition, len(wd.Transitions)),
		entries:            make(map[string]*Transition),
	}

	for i := range def.States {
		s := &def.States[i]
		if _, dup := def.states[s.Code]; dup {
			return nil, fmt.Errorf("duplicate state %q", s.Code)
		}
		def.states[s.Code] = s
		if s.IsStart {
			if def.startState != "" {
				return nil, fmt.Errorf("states %q and %q both flagged is_start", def.startState, s.Code)
			}
			def.startState = s.Code
		}
	}
	if def.startState == "" {
		return nil, fmt.Errorf("workflow %q has no start state", def.Code)
	}

	for i := range def.Transitions {
		t := &def.Transitions[i]
		if err := c.buildTransition(def, t); err != nil {
			return nil, fmt.Errorf("transition %q: %w", t.Code, err)
		}
	}

	for i := range def.SlaPolicies {
		p := &def.SlaPolicies[i]
		if err := c.buildPolicy(def, p); err != nil {
			return nil, fmt.Errorf("sla policy %q: %w", p.Code, err)
		}
	}

	return def, nil
}

func (c *Catalog) buildTransition(def *Definition, t *Transition) error {
	if _, ok := def.states[t.To]; !ok {
		return fmt.Errorf("unknown target state %q", t.To)
	}

	from := t.From
	if t.IsEntry() {
		// Entry transitions create the instance in the start state and
		// immediately move it along this edge.
		if _, dup := def.entries[t.Code]; dup {
			return fmt.Errorf("duplicate entry transition code")
		}
		def.entries[t.Code] = t
		from = def.startState
	} else if s, ok := def.states[t.From]; !ok {
		return fmt.Errorf("unknown source state %q", t.From)
	} else if s.IsTerminal {
		return fmt.Errorf("terminal state %q cannot have outgoing transitions", s.Code)
	}

	key := transitionKey{from: from, code: t.Code}
	if _, dup := def.transitions[key]; dup {
		return fmt.Errorf("duplicate transition code from state %q", from)
	}
	def.transitions[key] = t

	var err error
	if t.guardDoc, err = parseRule(t.Guard, dsl.KindGuard); err != nil {
		return fmt.Errorf("guard: %w", err)
	}
	if t.actionDoc, err = parseRule(t.Actions, dsl.KindActions); err != nil {
		return fmt.Errorf("actions: %w", err)
	}
	return nil
}

func (c *Catalog) buildPolicy(def *Definition, p *SlaPolicy) error {
	if p.WarnMinutes >= p.TargetMinutes {
		return fmt.Errorf("warn_minutes %d must be below target_minutes %d", p.WarnMinutes, p.TargetMinutes)
	}
	if p.Transition != "" {
		found := false
		for i := range def.Transitions {
			if def.Transitions[i].Code == p.Transition {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("unknown transition %q", p.Transition)
		}
	}

	var err error
	if p.startDoc, err = parseRule(p.StartRule, dsl.KindTimerRule); err != nil {
		return fmt.Errorf("start rule: %w", err)
	}
	if p.stopDoc, err = parseRule(p.StopRule, dsl.KindTimerRule); err != nil {
		return fmt.Errorf("stop rule: %w", err)
	}
	if p.escalationDoc, err = parseRule(p.Escalation, dsl.KindActions); err != nil {
		return fmt.Errorf("escalation: %w", err)
	}
	return nil
}

// parseRule parses and statically checks one embedded rule document.
func parseRule(raw string, kind dsl.Kind) (*dsl.Document, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	doc, err := dsl.ParseDocument([]byte(raw))
	if err != nil {
		return nil, err
	}
	if doc.Kind != kind {
		return nil, fmt.Errorf("expected a %s document, got %s", kind, doc.Kind)
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return doc, nil
}

// Definition looks up a loaded definition by code.
func (c *Catalog) Definition(code string) (*Definition, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	def, ok := c.defs[code]
	return def, ok
}

// Definitions returns all loaded definitions.
func (c *Catalog) Definitions() []*Definition {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Definition, 0, len(c.defs))
	for _, d := range c.defs {
		out = append(out, d)
	}
	return out
}

// Watch starts watching the given paths and reloads the catalog on
// change. Reloads are debounced; a failed reload keeps the previous
// definitions in place.
func (c *Catalog) Watch(ctx context.Context, paths []string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	c.watcher = watcher

	for _, path := range paths {
		if err := watcher.Add(path); err != nil {
			c.logger.Warn().Err(err).Str("path", path).Msg("Failed to watch path")
		}
	}

	go c.processEvents(ctx, paths)

	c.logger.Info().Int("paths", len(paths)).Msg("Started watching definition paths")
	return nil
}

func (c *Catalog) processEvents(ctx context.Context, paths []string) {
	var reloadTimer *time.Timer
	const reloadDelay = 500 * time.Millisecond

	for {
		select {
		case <-ctx.Done():
			_ = c.watcher.Close()
			return

		case event, ok := <-c.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove) == 0 || !isDefinitionFile(event.Name) {
				continue
			}
			c.logger.Debug().
				Str("file", event.Name).
				Str("op", event.Op.String()).
				Msg("Definition file changed")

			if reloadTimer != nil {
				reloadTimer.Stop()
			}
			reloadTimer = time.AfterFunc(reloadDelay, func() {
				if err := c.LoadFromPaths(ctx, paths); err != nil {
					c.logger.Error().Err(err).Msg("Definition reload failed, keeping previous set")
				}
			})

		case err, ok := <-c.watcher.Errors:
			if !ok {
				return
			}
			c.logger.Warn().Err(err).Msg("Watcher error")
		}
	}
}
