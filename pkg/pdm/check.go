package pdm

import (
	"context"
	"errors"

	"github.com/dd0wney/cluso-reliability/pkg/constraints"
	"github.com/dd0wney/cluso-reliability/pkg/graph"
)

var errReadOnly = errors.New("read-only accessor")

// cachedAccessor reads through the service cache and refuses writes.
type cachedAccessor struct {
	s *Service
}

func (a cachedAccessor) Fetch(ctx context.Context, semantic string) (*graph.Node, error) {
	return a.s.fetch(ctx, semantic)
}

func (a cachedAccessor) FetchLayer(ctx context.Context, semantic string) ([]*graph.Node, error) {
	return a.s.fetchLayer(ctx, semantic)
}

func (cachedAccessor) Write(context.Context, ...graph.Edit) error {
	return errReadOnly
}

func (s *Service) reader() graph.Accessor {
	return cachedAccessor{s: s}
}

// CheckProject runs the structural integrity rules over a project.
func (s *Service) CheckProject(ctx context.Context, caller Caller, q SemanticQuery) (*constraints.ValidationResult, error) {
	const op = "checkProject"
	return call(ctx, s, op, caller, nil, func(ctx context.Context) (*constraints.ValidationResult, error) {
		if err := validateQuery(op, q); err != nil {
			return nil, err
		}
		if _, err := s.begin(op, caller, false).getRole(ctx, q.Semantic, graph.RoleProject); err != nil {
			return nil, err
		}
		res, err := constraints.Default().Validate(ctx, s.reader(), q.Semantic)
		if err != nil {
			return nil, wrap(op, q.Semantic, err)
		}
		return res, nil
	})
}
