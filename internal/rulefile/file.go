package rulefile

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/djlord-it/easy-automation/internal/domain"
	"github.com/djlord-it/easy-automation/internal/engine"
)

// File is the top-level layout of a rules file:
//
//	project_id: 00000000-0000-0000-0000-000000000001
//	rules:
//	  - name: notify on completion
//	    trigger: {type: event, event: task.completed}
//	    action: {type: webhook, webhook_url: https://example.com/hook}
type File struct {
	ProjectID string         `yaml:"project_id,omitempty"`
	Rules     []RuleDocument `yaml:"rules"`
}

// Store persists imported rules. Upserting by ID keeps a rule's evaluation
// state across imports.
type Store interface {
	UpsertRule(ctx context.Context, rule domain.Rule) error
}

// RuleError attaches the position and name of the offending rule.
type RuleError struct {
	Index int
	Name  string
	Err   error
}

func (e *RuleError) Error() string {
	if e.Name == "" {
		return fmt.Sprintf("rules[%d]: %v", e.Index, e.Err)
	}
	return fmt.Sprintf("rules[%d] (%s): %v", e.Index, e.Name, e.Err)
}

func (e *RuleError) Unwrap() error {
	return e.Err
}

// Parse decodes a rules file. Unknown keys are rejected.
func Parse(r io.Reader) (File, error) {
	var f File
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return File{}, nil
		}
		return File{}, fmt.Errorf("parse: %w", err)
	}
	return f, nil
}

// Load reads and parses the rules file at path.
func Load(path string) (File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return File{}, err
	}
	return Parse(bytes.NewReader(data))
}

// Rules converts every document in f, assigning stable IDs to rules that do
// not set one. All problems are reported together; no rules are returned if
// any document is invalid.
func (f File) Rules(defaultProject uuid.UUID, now time.Time) ([]domain.Rule, error) {
	project := defaultProject
	if f.ProjectID != "" {
		id, err := uuid.Parse(f.ProjectID)
		if err != nil {
			return nil, &domain.ConfigError{Field: "project_id", Message: "invalid uuid"}
		}
		project = id
	}

	var errs []error
	seen := make(map[string]int, len(f.Rules))
	rules := make([]domain.Rule, 0, len(f.Rules))

	for i, doc := range f.Rules {
		if prev, ok := seen[doc.Name]; ok && doc.Name != "" {
			errs = append(errs, &RuleError{Index: i, Name: doc.Name, Err: fmt.Errorf("duplicate name, first defined at rules[%d]", prev)})
			continue
		}
		seen[doc.Name] = i

		rule, err := doc.Rule(project, now)
		if err != nil {
			errs = append(errs, &RuleError{Index: i, Name: doc.Name, Err: err})
			continue
		}
		if rule.ID == uuid.Nil {
			rule.ID = RuleID(rule.ProjectID, rule.Name)
		}
		rules = append(rules, rule)
	}

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return rules, nil
}

// Option adjusts how Lint and Import check a rules file.
type Option func(*options)

type options struct {
	actionTypes []domain.ActionType
}

// WithActionTypes rejects rules whose action type is not in types.
func WithActionTypes(types []domain.ActionType) Option {
	return func(o *options) {
		o.actionTypes = types
	}
}

// Lint loads path and reports every invalid rule.
func Lint(path string, defaultProject uuid.UUID, opts ...Option) ([]domain.Rule, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	f, err := Load(path)
	if err != nil {
		return nil, err
	}
	rules, err := f.Rules(defaultProject, time.Now().UTC())
	if err != nil {
		return nil, err
	}

	var errs []error
	for i, rule := range rules {
		if err := engine.ValidateActionType(rule.Action.Type, o.actionTypes); err != nil {
			errs = append(errs, &RuleError{Index: i, Name: rule.Name, Err: err})
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return rules, nil
}

// Import lints path and upserts its rules. Nothing is written if any rule
// is invalid.
func Import(ctx context.Context, store Store, path string, defaultProject uuid.UUID, opts ...Option) (int, error) {
	rules, err := Lint(path, defaultProject, opts...)
	if err != nil {
		return 0, err
	}

	for i, rule := range rules {
		if err := store.UpsertRule(ctx, rule); err != nil {
			return i, fmt.Errorf("upsert rule %s: %w", rule.Name, err)
		}
	}

	log.Printf("rulefile: imported path=%s rules=%d", path, len(rules))
	return len(rules), nil
}
