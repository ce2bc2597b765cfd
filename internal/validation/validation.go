// Package validation checks staged file content before it can be saved
// upstream. Validators are dispatched by file extension; the bridge reduces
// their findings to per-severity counts that gate saving. Only error-severity
// issues block a save.
package validation

import (
	"path/filepath"
	"strings"

	"dakbench/internal/logging"
	"dakbench/internal/staging"
)

// Severity of a single finding.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// Issue is one finding against a staged file.
type Issue struct {
	Severity Severity
	Message  string
}

// Validator checks one file's content.
type Validator interface {
	Validate(path, content string) []Issue
}

// ValidatorFunc adapts a function to the Validator interface.
type ValidatorFunc func(path, content string) []Issue

// Validate implements Validator.
func (f ValidatorFunc) Validate(path, content string) []Issue {
	return f(path, content)
}

// Registry maps file extensions (with leading dot, lowercase) to validators.
type Registry struct {
	byExt map[string]Validator
}

// NewRegistry returns a registry with the built-in DAK artifact validators
// registered: YAML, JSON, XML, BPMN, DMN, FSH and CQL.
func NewRegistry() *Registry {
	r := &Registry{byExt: make(map[string]Validator)}
	r.Register(".yaml", ValidatorFunc(validateYAML))
	r.Register(".yml", ValidatorFunc(validateYAML))
	r.Register(".json", ValidatorFunc(validateJSON))
	r.Register(".xml", ValidatorFunc(validateXML))
	r.Register(".bpmn", ValidatorFunc(validateBPMN))
	r.Register(".dmn", ValidatorFunc(validateDMN))
	r.Register(".fsh", ValidatorFunc(validateFSH))
	r.Register(".cql", ValidatorFunc(validateCQL))
	return r
}

// Register installs (or replaces) the validator for an extension.
func (r *Registry) Register(ext string, v Validator) {
	r.byExt[strings.ToLower(ext)] = v
}

// Lookup returns the validator for path's extension, if any.
func (r *Registry) Lookup(path string) (Validator, bool) {
	v, ok := r.byExt[strings.ToLower(filepath.Ext(path))]
	return v, ok
}

// Report aggregates validation output for a whole staged session.
type Report struct {
	Errors   int
	Warnings int
	Infos    int
	Files    map[string][]Issue
}

// CanSave reports whether the session may be committed. Warnings and info
// findings never block.
func (r Report) CanSave() bool {
	return r.Errors == 0
}

// Bridge runs full re-validation of a staged session. It is stateless between
// calls; nothing is cached.
type Bridge struct {
	registry *Registry
}

// NewBridge creates a bridge over the given registry. A nil registry gets the
// built-in one.
func NewBridge(registry *Registry) *Bridge {
	if registry == nil {
		registry = NewRegistry()
	}
	return &Bridge{registry: registry}
}

// Validate checks every staged file and aggregates findings by severity.
// Files with no validator for their extension produce no findings.
func (b *Bridge) Validate(session staging.Session) Report {
	timer := logging.StartTimer(logging.CategoryValidation, "Validate")
	defer timer.Stop()

	report := Report{Files: make(map[string][]Issue)}
	for _, f := range session.Files {
		v, ok := b.registry.Lookup(f.Path)
		if !ok {
			continue
		}
		issues := v.Validate(f.Path, f.Content)
		if len(issues) == 0 {
			continue
		}
		report.Files[f.Path] = issues
		for _, issue := range issues {
			switch issue.Severity {
			case SeverityError:
				report.Errors++
			case SeverityWarning:
				report.Warnings++
			default:
				report.Infos++
			}
		}
	}

	logging.ValidationDebug("validated %d files: errors=%d warnings=%d infos=%d",
		len(session.Files), report.Errors, report.Warnings, report.Infos)
	return report
}
