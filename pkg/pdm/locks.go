package pdm

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/dd0wney/cluso-reliability/pkg/pubsub"
)

// Lock is an advisory lock on one node. A propagating lock covers every
// descendant as well.
type Lock struct {
	Semantic  string    `json:"semantic"`
	Holder    string    `json:"holder"`
	Role      string    `json:"role,omitempty"`
	Propagate bool      `json:"propagate"`
	At        time.Time `json:"at"`
}

// admits reports whether c may mutate under l: the holder always may, and
// a lock taken with a role is shared by every caller acting in that role.
func (l Lock) admits(c Caller) bool {
	return l.Holder == c.Actor || (l.Role != "" && l.Role == c.Role)
}

type lockTable struct {
	mu    sync.RWMutex
	locks map[string]Lock
}

func newLockTable() *lockTable {
	return &lockTable{locks: make(map[string]Lock)}
}

func (lt *lockTable) get(semantic string) (Lock, bool) {
	lt.mu.RLock()
	defer lt.mu.RUnlock()
	l, ok := lt.locks[semantic]
	return l, ok
}

func (lt *lockTable) empty() bool {
	lt.mu.RLock()
	defer lt.mu.RUnlock()
	return len(lt.locks) == 0
}

// check fails with NodeLocked when semantic, or an ancestor holding a
// propagating lock, is locked against the caller.
func (lt *lockTable) check(ctx context.Context, t *tx, semantic string) error {
	if l, ok := lt.get(semantic); ok && !l.admits(t.caller) {
		return lt.locked(t, semantic, l)
	}
	n, err := t.lookup(ctx, semantic)
	if err != nil {
		return err
	}
	for parent := n.Parent; parent != ""; {
		if l, ok := lt.get(parent); ok && l.Propagate && !l.admits(t.caller) {
			return lt.locked(t, semantic, l)
		}
		p, err := t.lookup(ctx, parent)
		if err != nil {
			return err
		}
		parent = p.Parent
	}
	return nil
}

// checkAll checks every node a transaction is about to write. New nodes
// are checked through their parent.
func (lt *lockTable) checkAll(ctx context.Context, t *tx, semantics []string) error {
	if lt.empty() {
		return nil
	}
	for _, sem := range semantics {
		target := sem
		if t.created[sem] {
			target = t.nodes[sem].Parent
		}
		if target == "" {
			continue
		}
		if err := lt.check(ctx, t, target); err != nil {
			return err
		}
	}
	return nil
}

func (lt *lockTable) locked(t *tx, semantic string, l Lock) error {
	if t.s.metrics != nil {
		t.s.metrics.RecordLockConflict(t.op)
	}
	return newError(t.op).Kind(KindNodeLocked).Semantic(semantic).Detail("locked by %s on %s", l.Holder, l.Semantic).Err()
}

// LockQuery locks one node.
type LockQuery struct {
	Semantic  string `json:"semantic" validate:"required,semantic"`
	Role      string `json:"role"`
	Propagate bool   `json:"propagate"`
}

// LockNode takes an advisory lock for the caller. Relocking a node the
// caller already holds replaces the lock.
func (s *Service) LockNode(ctx context.Context, caller Caller, q LockQuery) error {
	const op = "lockNode"
	return s.run(ctx, op, caller, nil, func(ctx context.Context) error {
		if err := validateQuery(op, q); err != nil {
			return err
		}
		if _, err := s.begin(op, caller, false).get(ctx, q.Semantic); err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		s.locks.mu.Lock()
		if l, ok := s.locks.locks[q.Semantic]; ok && l.Holder != caller.Actor {
			s.locks.mu.Unlock()
			return newError(op).Kind(KindNodeLocked).Semantic(q.Semantic).Detail("locked by %s", l.Holder).Err()
		}
		s.locks.locks[q.Semantic] = Lock{
			Semantic:  q.Semantic,
			Holder:    caller.Actor,
			Role:      q.Role,
			Propagate: q.Propagate,
			At:        time.Now(),
		}
		s.locks.mu.Unlock()

		s.publish(pubsub.TopicLock, op, caller.Actor, []string{q.Semantic})
		return nil
	})
}

// UnlockNode releases a lock. Its holder and callers sharing the lock's
// role may release it; releasing an unlocked node is a no-op.
func (s *Service) UnlockNode(ctx context.Context, caller Caller, q SemanticQuery) error {
	const op = "unlockNode"
	return s.run(ctx, op, caller, nil, func(ctx context.Context) error {
		if err := validateQuery(op, q); err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		s.locks.mu.Lock()
		l, ok := s.locks.locks[q.Semantic]
		if ok && !l.admits(caller) {
			s.locks.mu.Unlock()
			return newError(op).Kind(KindNodeLocked).Semantic(q.Semantic).Detail("locked by %s", l.Holder).Err()
		}
		delete(s.locks.locks, q.Semantic)
		s.locks.mu.Unlock()

		if ok {
			s.publish(pubsub.TopicLock, op, caller.Actor, []string{q.Semantic})
		}
		return nil
	})
}

// Locks returns the locks currently held, ordered by semantic.
func (s *Service) Locks() []Lock {
	s.locks.mu.RLock()
	defer s.locks.mu.RUnlock()
	out := make([]Lock, 0, len(s.locks.locks))
	for _, l := range s.locks.locks {
		out = append(out, l)
	}
	slices.SortFunc(out, func(a, b Lock) int { return cmp.Compare(a.Semantic, b.Semantic) })
	return out
}
