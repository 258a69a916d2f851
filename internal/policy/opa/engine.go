package opa

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/ast"
	"github.com/open-policy-agent/opa/rego"
	"github.com/rs/zerolog"
)

//go:embed policies/*.rego
var builtinPolicies embed.FS

const bypassQuery = "data.lockedin.bypass.allow"

// Engine wraps OPA rego engine for bypass evaluation
type Engine struct {
	policyDir string
	logger    zerolog.Logger

	mu          sync.RWMutex
	bypassQuery rego.PreparedEvalQuery
}

// NewEngine creates a new OPA engine from the built-in policies plus any
// .rego files in policyDir. An empty policyDir uses the built-ins only.
func NewEngine(policyDir string, logger zerolog.Logger) (*Engine, error) {
	e := &Engine{
		policyDir: policyDir,
		logger:    logger.With().Str("component", "opa").Logger(),
	}

	if err := e.Reload(); err != nil {
		return nil, err
	}

	e.logger.Info().Str("policy_dir", policyDir).Msg("OPA engine initialized")

	return e, nil
}

// loadPolicies parses the built-in and directory policy modules
func (e *Engine) loadPolicies() (map[string]*ast.Module, error) {
	modules := make(map[string]*ast.Module)

	err := fs.WalkDir(builtinPolicies, "policies", func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		content, err := builtinPolicies.ReadFile(path)
		if err != nil {
			return err
		}
		return e.addModule(modules, "builtin/"+path, content)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load built-in policies: %w", err)
	}

	if e.policyDir == "" {
		return modules, nil
	}

	if _, err := os.Stat(e.policyDir); err != nil {
		return nil, fmt.Errorf("policy directory: %w", err)
	}

	files, err := filepath.Glob(filepath.Join(e.policyDir, "*.rego"))
	if err != nil {
		return nil, fmt.Errorf("failed to glob policy files: %w", err)
	}
	sort.Strings(files)

	e.logger.Info().Int("count", len(files)).Msg("Loading policy files")

	for _, file := range files {
		content, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("failed to read policy file %s: %w", file, err)
		}
		if err := e.addModule(modules, file, content); err != nil {
			return nil, err
		}
	}

	return modules, nil
}

func (e *Engine) addModule(modules map[string]*ast.Module, name string, content []byte) error {
	module, err := ast.ParseModule(name, string(content))
	if err != nil {
		return fmt.Errorf("failed to parse policy file %s: %w", name, err)
	}
	modules[name] = module
	e.logger.Debug().Str("file", name).Str("package", module.Package.Path.String()).Msg("Loaded policy module")
	return nil
}

// prepareBypassQuery compiles the bypass query against the loaded modules
func prepareBypassQuery(modules map[string]*ast.Module) (rego.PreparedEvalQuery, error) {
	opts := []func(*rego.Rego){rego.Query(bypassQuery)}
	for _, module := range modules {
		opts = append(opts, rego.ParsedModule(module))
	}

	query, err := rego.New(opts...).PrepareForEval(context.Background())
	if err != nil {
		return rego.PreparedEvalQuery{}, fmt.Errorf("failed to prepare bypass query: %w", err)
	}
	return query, nil
}

// EvaluateBypass returns the reasons the page may skip classification.
// An empty result means no bypass applies.
func (e *Engine) EvaluateBypass(ctx context.Context, input map[string]interface{}) ([]string, error) {
	startTime := time.Now()

	e.mu.RLock()
	query := e.bypassQuery
	e.mu.RUnlock()

	results, err := query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, fmt.Errorf("bypass query evaluation failed: %w", err)
	}

	e.logger.Debug().Dur("duration_ms", time.Since(startTime)).Msg("Bypass query evaluated")

	// An undefined set means no policy defined the rule
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return nil, nil
	}

	values, ok := results[0].Expressions[0].Value.([]interface{})
	if !ok {
		return nil, fmt.Errorf("bypass result is not a set: %T", results[0].Expressions[0].Value)
	}

	reasons := make([]string, 0, len(values))
	for _, v := range values {
		reason, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("bypass reason is not a string: %T", v)
		}
		reasons = append(reasons, reason)
	}
	sort.Strings(reasons)
	return reasons, nil
}

// Reload reloads all policies and swaps in the new query
func (e *Engine) Reload() error {
	modules, err := e.loadPolicies()
	if err != nil {
		return fmt.Errorf("failed to load policies: %w", err)
	}

	query, err := prepareBypassQuery(modules)
	if err != nil {
		return err
	}

	e.mu.Lock()
	e.bypassQuery = query
	e.mu.Unlock()

	e.logger.Info().Int("modules", len(modules)).Msg("OPA policies loaded")

	return nil
}
