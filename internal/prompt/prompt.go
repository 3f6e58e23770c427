// Package prompt implements C5: a named, versioned template store with
// typed variable substitution and per-user overrides (spec.md §4.5).
//
// Grounded on the teacher's internal/service/promptloader.go (file-based
// loading, sync.RWMutex cache, HotReload), extended with strict named
// placeholders (teacher's text/template-free string substitution) and a
// user-override resolution order. Substitution is hand-rolled rather than
// text/template because text/template silently zero-fills missing keys
// unless wrapped in extra machinery — spec.md §4.5 requires a fail-loud
// missing-variable error, so stdlib text/template is not a fit here either.
package prompt

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sync"
)

// Name identifies a system template (spec.md §4.5).
type Name string

const (
	NameRAGGeneration     Name = "rag_generation"
	NameCoTClassify       Name = "cot_classify"
	NameCoTDecompose      Name = "cot_decompose"
	NameCoTSynthesize     Name = "cot_synthesize"
	NameQueryRewrite      Name = "query_rewrite"
	NamePodcastScript     Name = "podcast_script"
	NameQuestionSuggestion Name = "question_suggestion"
)

// ErrMissingVariable is returned (wrapped) when Render is called without a
// value for every placeholder the template declares.
type ErrMissingVariable struct {
	Template string
	Variable string
}

func (e *ErrMissingVariable) Error() string {
	return fmt.Sprintf("prompt: template %q is missing required variable %q", e.Template, e.Variable)
}

// Template is a named prompt body with its declared variable set, computed
// once at load time from the placeholders the body contains.
type Template struct {
	Name      Name
	Body      string
	Variables []string // declared on load, from scanning Body for {{var}}
}

var placeholderRe = regexp.MustCompile(`\{\{\s*([a-zA-Z_][a-zA-Z0-9_]*)\s*\}\}`)

func newTemplate(name Name, body string) Template {
	seen := make(map[string]struct{})
	var vars []string
	for _, m := range placeholderRe.FindAllStringSubmatch(body, -1) {
		if _, ok := seen[m[1]]; !ok {
			seen[m[1]] = struct{}{}
			vars = append(vars, m[1])
		}
	}
	return Template{Name: name, Body: body, Variables: vars}
}

// Render substitutes every declared placeholder with vars[placeholder].
// Missing a declared variable fails with ErrMissingVariable — never a
// silent empty fill (spec.md §4.5).
func (t Template) Render(vars map[string]string) (string, error) {
	for _, v := range t.Variables {
		if _, ok := vars[v]; !ok {
			return "", &ErrMissingVariable{Template: string(t.Name), Variable: v}
		}
	}
	out := placeholderRe.ReplaceAllStringFunc(t.Body, func(m string) string {
		return vars[placeholderRe.FindStringSubmatch(m)[1]]
	})
	return out, nil
}

// Store resolves a template by (name, userID): user-scoped override first,
// system default otherwise (spec.md §4.5 resolution order). Grounded on the
// teacher's PromptLoader: file-based loading, sync.RWMutex cache, HotReload.
type Store struct {
	dir string

	mu        sync.RWMutex
	system    map[Name]Template
	overrides map[string]map[Name]Template // userID -> name -> Template
}

// NewStore creates a Store, loading system defaults from dir. dir must
// contain one "<name>.txt" file per Name in the system set; missing files
// are a fatal load error, matching the teacher's rules_engine.txt/
// mercury_identity.txt fail-fast convention.
func NewStore(dir string) (*Store, error) {
	s := &Store{
		dir:       dir,
		overrides: make(map[string]map[Name]Template),
	}
	if err := s.loadSystem(); err != nil {
		return nil, err
	}
	return s, nil
}

var systemTemplateNames = []Name{
	NameRAGGeneration, NameCoTClassify, NameCoTDecompose, NameCoTSynthesize,
	NameQueryRewrite, NamePodcastScript, NameQuestionSuggestion,
}

func (s *Store) loadSystem() error {
	system := make(map[Name]Template, len(systemTemplateNames))
	for _, name := range systemTemplateNames {
		path := filepath.Join(s.dir, string(name)+".txt")
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("prompt.NewStore: FATAL: system template %q missing at %s: %w", name, path, err)
		}
		system[name] = newTemplate(name, string(data))
	}

	s.mu.Lock()
	s.system = system
	s.mu.Unlock()
	return nil
}

// HotReload re-reads system templates from disk without restarting
// (mirrors the teacher's PromptLoader.HotReload).
func (s *Store) HotReload() error {
	return s.loadSystem()
}

// SetUserOverride installs an in-memory per-user override for name. Callers
// persisting overrides elsewhere (e.g. a future template-editing UI) call
// this after writing to storage; the core itself never mutates these.
func (s *Store) SetUserOverride(userID string, name Name, body string) {
	t := newTemplate(name, body)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.overrides[userID] == nil {
		s.overrides[userID] = make(map[Name]Template)
	}
	s.overrides[userID][name] = t
}

// Get resolves name for userID: user-scoped override first, system default
// otherwise (spec.md §4.5).
func (s *Store) Get(name Name, userID string) (Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if userID != "" {
		if byUser, ok := s.overrides[userID]; ok {
			if t, ok := byUser[name]; ok {
				return t, nil
			}
		}
	}
	t, ok := s.system[name]
	if !ok {
		return Template{}, fmt.Errorf("prompt.Get: unknown template %q", name)
	}
	return t, nil
}

// Render resolves and renders name for userID in one call.
func (s *Store) Render(name Name, userID string, vars map[string]string) (string, error) {
	t, err := s.Get(name, userID)
	if err != nil {
		return "", err
	}
	out, err := t.Render(vars)
	if err != nil {
		slog.Error("[PROMPT] render failed", "template", name, "user_id", userID, "error", err)
		return "", err
	}
	return out, nil
}
