package core

import (
	"errors"
	"fmt"
	"strings"
)

// Stage identifies the pipeline stage that produced a terminal error.
type Stage string

// Pipeline stages.
const (
	StageLoad          Stage = "Load"
	StageCatalogParse  Stage = "CatalogParse"
	StageEvaluate      Stage = "Evaluate"
	StagePatchGenerate Stage = "PatchGenerate"
	StageRecord        Stage = "Record"
)

// Error kinds. Match them with errors.Is.
var (
	ErrDuplicateElement     = errors.New("duplicate element")
	ErrUnresolvedReference  = errors.New("unresolved reference")
	ErrMalformed            = errors.New("malformed document")
	ErrUnknownElementKind   = errors.New("unknown element kind")
	ErrDuplicateRuleID      = errors.New("duplicate rule id")
	ErrUnsupportedCondition = errors.New("unsupported condition kind")
	ErrOverlap              = errors.New("overlapping patch spans")
	ErrUnresolvedSpan       = errors.New("unresolved source span")
	ErrCanceled             = errors.New("canceled")
)

// StageError is the single terminal error a run can return.
type StageError struct {
	Stage  Stage
	Kind   error  // one of the Err* kinds
	Entity string // offending element, rule or file
	File   string
	Line   int
	Err    error // underlying cause, may be nil
}

func (e *StageError) Error() string {
	var b strings.Builder
	b.WriteString(stageLabel(e.Stage))
	if e.Kind != nil {
		b.WriteString(": ")
		b.WriteString(e.Kind.Error())
	}
	if e.Entity != "" {
		b.WriteString(": ")
		b.WriteString(e.Entity)
	}
	if e.File != "" {
		if e.Line > 0 {
			fmt.Fprintf(&b, " (%s:%d)", e.File, e.Line)
		} else {
			fmt.Fprintf(&b, " (%s)", e.File)
		}
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap exposes both the kind and the cause to errors.Is / errors.As.
func (e *StageError) Unwrap() []error {
	var errs []error
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

func stageLabel(s Stage) string {
	switch s {
	case StageLoad:
		return "load error"
	case StageCatalogParse:
		return "catalog error"
	case StageEvaluate:
		return "evaluation error"
	case StagePatchGenerate:
		return "patch error"
	case StageRecord:
		return "record error"
	default:
		return "error"
	}
}

// LoadError reports a malformed or ambiguous source document.
func LoadError(kind error, entity string, cause error) *StageError {
	return &StageError{Stage: StageLoad, Kind: kind, Entity: entity, Err: cause}
}

// CatalogError reports a malformed rule document.
func CatalogError(kind error, entity string, cause error) *StageError {
	return &StageError{Stage: StageCatalogParse, Kind: kind, Entity: entity, Err: cause}
}

// EvaluationError reports a catalog/engine mismatch found during evaluation.
func EvaluationError(kind error, entity string, cause error) *StageError {
	return &StageError{Stage: StageEvaluate, Kind: kind, Entity: entity, Err: cause}
}

// PatchError reports a patch that cannot be generated safely.
func PatchError(kind error, entity string, cause error) *StageError {
	return &StageError{Stage: StagePatchGenerate, Kind: kind, Entity: entity, Err: cause}
}

// RecordError reports a run that could not be persisted.
func RecordError(entity string, cause error) *StageError {
	return &StageError{Stage: StageRecord, Entity: entity, Err: cause}
}

// At attaches a file position to the error and returns it.
func (e *StageError) At(file string, line int) *StageError {
	e.File = file
	e.Line = line
	return e
}

// StageOf returns the stage of a StageError anywhere in err's chain.
func StageOf(err error) (Stage, bool) {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage, true
	}
	return "", false
}
