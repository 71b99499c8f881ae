package saga

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/storefront/orderedit/pkg/logger"
)

var ErrLogNotFound = errors.New("saga log not found")

// CompensationError reports that one or more compensators failed after a
// forward step already failed. The two inconsistent systems it leaves behind
// require operator attention, so it is surfaced distinctly.
type CompensationError struct {
	Step    string
	Cause   error
	CompErr error
}

func (e *CompensationError) Error() string {
	return fmt.Sprintf("step %s failed: %v; compensation also failed: %v", e.Step, e.Cause, e.CompErr)
}

func (e *CompensationError) Unwrap() error { return e.Cause }

type Executor struct {
	store Store
	log   *logger.Logger
}

func NewExecutor(store Store, log *logger.Logger) *Executor {
	if store == nil {
		store = NewMemoryStore()
	}
	return &Executor{store: store, log: log}
}

// Run 顺序执行各步骤，任一步失败时按逆序补偿已执行的步骤。
// 返回的是第一个失败步骤的原始错误，便于调用方按错误码分类处理。
func (e *Executor) Run(ctx context.Context, name string, steps []Step) error {
	now := time.Now()
	slog := &Log{
		ID:        newID(),
		Name:      name,
		State:     StateRunning,
		Steps:     make([]string, len(steps)),
		CreatedAt: now,
		UpdatedAt: now,
	}
	for i, step := range steps {
		slog.Steps[i] = step.Name()
	}
	if err := e.store.Save(ctx, slog); err != nil {
		return fmt.Errorf("save saga log: %w", err)
	}

	for i, step := range steps {
		slog.CurrentStep = i
		slog.UpdatedAt = time.Now()
		e.update(ctx, slog)

		err := step.Execute(ctx)
		if err == nil {
			continue
		}

		slog.Error = err.Error()
		slog.State = StateCompensating
		slog.UpdatedAt = time.Now()
		e.update(ctx, slog)

		var compErr error
		for j := i - 1; j >= 0; j-- {
			if cerr := steps[j].Compensate(ctx); cerr != nil {
				if compErr == nil {
					compErr = cerr
				}
				if e.log != nil {
					e.log.WithError(cerr).Criticalf("saga compensation failed", map[string]interface{}{
						"saga": name,
						"step": steps[j].Name(),
					})
				}
			}
		}

		slog.State = StateFailed
		slog.UpdatedAt = time.Now()
		e.update(ctx, slog)

		if compErr != nil {
			return &CompensationError{Step: step.Name(), Cause: err, CompErr: compErr}
		}
		return err
	}

	slog.State = StateCompleted
	slog.CurrentStep = len(steps)
	slog.Error = ""
	slog.UpdatedAt = time.Now()
	e.update(ctx, slog)
	return nil
}

// update 日志存储失败不阻断业务流程
func (e *Executor) update(ctx context.Context, slog *Log) {
	if err := e.store.Update(ctx, slog); err != nil && e.log != nil {
		e.log.WithError(err).WithField("saga", slog.Name).Warn("update saga log failed")
	}
}

func newID() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b[:])
}
