// Package loader reads type documents and configuration values from disk,
// builds sealed registries from them and watches the sources for changes.
package loader

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/openfroyo/tplcheck/pkg/registry"
	"github.com/openfroyo/tplcheck/pkg/types"
)

// documentExtensions lists the formats DecodeDocument understands.
var documentExtensions = map[string]bool{
	".yaml": true,
	".yml":  true,
	".json": true,
	".cue":  true,
}

// IsDocumentFile reports whether path has a type document extension.
func IsDocumentFile(path string) bool {
	return documentExtensions[strings.ToLower(filepath.Ext(path))]
}

// Loader loads type documents and values.
type Loader struct {
	logger        zerolog.Logger
	starlark      *StarlarkEvaluator
	starlarkInput map[string]any
	watchExtra    func(path string) bool

	mu      sync.Mutex
	watcher *fsnotify.Watcher
}

// Option configures a Loader.
type Option func(*Loader)

// WithStarlarkTimeout bounds the run time of Starlark value files.
func WithStarlarkTimeout(d time.Duration) Option {
	return func(l *Loader) { l.starlark = NewStarlarkEvaluator(d) }
}

// WithStarlarkInput predeclares vars in every Starlark value file.
func WithStarlarkInput(vars map[string]any) Option {
	return func(l *Loader) { l.starlarkInput = vars }
}

// WithWatchMatcher makes Watch react to files accepted by match in addition
// to type documents and value files.
func WithWatchMatcher(match func(path string) bool) Option {
	return func(l *Loader) { l.watchExtra = match }
}

// NewLoader creates a new loader.
func NewLoader(logger zerolog.Logger, opts ...Option) *Loader {
	l := &Loader{
		logger:   logger.With().Str("component", "loader").Logger(),
		starlark: NewStarlarkEvaluator(0),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// LoadDocument reads and parses one type document.
func (l *Loader) LoadDocument(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read type document: %w", err)
	}
	return DecodeDocument(path, data)
}

// LoadValue reads and parses one configuration value.
func (l *Loader) LoadValue(ctx context.Context, path string) (any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read value: %w", err)
	}
	val, err := l.DecodeValue(ctx, path, data)
	if err != nil {
		return nil, err
	}
	l.logger.Debug().Str("path", path).Str("kind", types.ValueKind(val)).Msg("Value loaded")
	return val, nil
}

// LoadRegistries loads every type document under paths and builds one
// sealed registry per namespace. Documents sharing a namespace register
// into the same registry in file order.
func (l *Loader) LoadRegistries(ctx context.Context, paths []string) (*Set, error) {
	files, err := collectFiles(paths, IsDocumentFile)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no type documents found in %s", strings.Join(paths, ", "))
	}

	var docs []*Document
	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		doc, err := l.LoadDocument(file)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}

	set, err := BuildSet(docs...)
	if err != nil {
		return nil, err
	}

	l.logger.Info().
		Int("documents", len(docs)).
		Strs("namespaces", set.Namespaces()).
		Msg("Type registries loaded")

	return set, nil
}

// BuildSet registers the definitions of docs and seals the resulting
// registries. Every import must name a namespace present in docs.
func BuildSet(docs ...*Document) (*Set, error) {
	set := newSet()
	for _, doc := range docs {
		reg := set.registries[doc.Namespace]
		if reg == nil {
			reg = registry.New(doc.Namespace)
			set.add(reg)
		}
		set.sources = append(set.sources, doc.Source)
		for _, spec := range doc.Definitions() {
			if err := reg.Register(spec.Name, spec.Def); err != nil {
				return nil, fmt.Errorf("%s: %w", doc.Source, err)
			}
		}
	}

	for _, doc := range docs {
		for _, imp := range doc.Imports {
			src := set.registries[imp.From]
			if src == nil || !src.Has(imp.Type) {
				return nil, fmt.Errorf("%s: %w", doc.Source, types.NewUnresolvedImportError(imp.From, imp.Type))
			}
		}
	}

	for _, ns := range set.order {
		if err := set.registries[ns].Seal(); err != nil {
			return nil, fmt.Errorf("namespace %s: %w", ns, err)
		}
	}
	return set, nil
}

// collectFiles expands directories in paths into the files accepted by
// match, sorted per directory. Explicit file paths are kept as given.
func collectFiles(paths []string, match func(string) bool) ([]string, error) {
	var files []string
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("failed to stat path: %w", err)
		}
		if !info.IsDir() {
			files = append(files, path)
			continue
		}
		var found []string
		err = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() && match(p) {
				found = append(found, p)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to walk directory %s: %w", path, err)
		}
		sort.Strings(found)
		files = append(files, found...)
	}
	return files, nil
}
