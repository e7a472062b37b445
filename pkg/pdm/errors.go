package pdm

import (
	"context"
	"errors"
	"fmt"

	"github.com/dd0wney/cluso-reliability/pkg/graph"
	"github.com/dd0wney/cluso-reliability/pkg/parallel"
)

// Kind classifies every error returned by the service.
type Kind uint8

const (
	KindInternal Kind = iota
	KindNodeNotFound
	KindLinkNotFound
	KindLinkAlreadyExists
	KindTooManyNodesThisRole
	KindNodeLocked
	KindInvalidTopology
	KindTimeout
	KindValidationFailed
	KindConflict
)

func (k Kind) String() string {
	switch k {
	case KindNodeNotFound:
		return "NodeNotFound"
	case KindLinkNotFound:
		return "LinkNotFound"
	case KindLinkAlreadyExists:
		return "LinkAlreadyExists"
	case KindTooManyNodesThisRole:
		return "TooManyNodesThisRole"
	case KindNodeLocked:
		return "NodeLocked"
	case KindInvalidTopology:
		return "InvalidTopology"
	case KindTimeout:
		return "Timeout"
	case KindValidationFailed:
		return "ValidationFailed"
	case KindConflict:
		return "Conflict"
	default:
		return "Internal"
	}
}

// Sentinel errors, one per kind. errors.Is(err, ErrNodeLocked) works on any
// service error of that kind.
var (
	ErrInternal             = errors.New("internal error")
	ErrNodeNotFound         = errors.New("node not found")
	ErrLinkNotFound         = errors.New("link not found")
	ErrLinkAlreadyExists    = errors.New("link already exists")
	ErrTooManyNodesThisRole = errors.New("too many nodes with this role")
	ErrNodeLocked           = errors.New("node is locked")
	ErrInvalidTopology      = errors.New("invalid topology")
	ErrTimeout              = errors.New("operation timed out")
	ErrValidationFailed     = errors.New("validation failed")
	ErrConflict             = errors.New("concurrent modification")
)

var sentinels = map[Kind]error{
	KindInternal:             ErrInternal,
	KindNodeNotFound:         ErrNodeNotFound,
	KindLinkNotFound:         ErrLinkNotFound,
	KindLinkAlreadyExists:    ErrLinkAlreadyExists,
	KindTooManyNodesThisRole: ErrTooManyNodesThisRole,
	KindNodeLocked:           ErrNodeLocked,
	KindInvalidTopology:      ErrInvalidTopology,
	KindTimeout:              ErrTimeout,
	KindValidationFailed:     ErrValidationFailed,
	KindConflict:             ErrConflict,
}

// Error is the structured error returned by every service operation.
type Error struct {
	Op       string
	Kind     Kind
	Semantic string
	Detail   string
	Cause    error
}

func (e *Error) Error() string {
	msg := e.Op + ": " + e.Kind.String()
	if e.Semantic != "" {
		msg += " " + e.Semantic
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches the sentinel of the error's kind.
func (e *Error) Is(target error) bool {
	return sentinels[e.Kind] == target
}

type errorBuilder struct {
	err Error
}

func newError(op string) *errorBuilder {
	return &errorBuilder{err: Error{Op: op}}
}

func (b *errorBuilder) Kind(k Kind) *errorBuilder {
	b.err.Kind = k
	return b
}

func (b *errorBuilder) Semantic(s string) *errorBuilder {
	b.err.Semantic = s
	return b
}

func (b *errorBuilder) Detail(format string, args ...any) *errorBuilder {
	b.err.Detail = fmt.Sprintf(format, args...)
	return b
}

func (b *errorBuilder) Cause(err error) *errorBuilder {
	b.err.Cause = err
	return b
}

func (b *errorBuilder) Err() error {
	return &b.err
}

// KindOf returns the kind of err, KindInternal for foreign errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// wrap converts an error from a collaborator into a service error, keeping
// service errors as they are.
func wrap(op, semantic string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	kind := KindInternal
	switch {
	case errors.Is(err, graph.ErrNodeNotFound):
		kind = KindNodeNotFound
	case errors.Is(err, graph.ErrConflict):
		kind = KindConflict
	case errors.Is(err, parallel.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		kind = KindTimeout
	}
	return newError(op).Kind(kind).Semantic(semantic).Cause(err).Err()
}

func notFound(op, semantic string) error {
	return newError(op).Kind(KindNodeNotFound).Semantic(semantic).Err()
}

func invalidTopology(op, semantic, format string, args ...any) error {
	return newError(op).Kind(KindInvalidTopology).Semantic(semantic).Detail(format, args...).Err()
}

func validationFailed(op string, cause error) error {
	return newError(op).Kind(KindValidationFailed).Cause(cause).Err()
}
