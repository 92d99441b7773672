// Package upload owns the scoped upload lifecycle for attachments. Every
// attempt settles exactly once, whether it succeeds, gets rejected, or is
// cancelled. A retry is always a fresh attempt, never a reopened one.
package upload

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cadenzahq/cadenza/internal/backend"
	"github.com/cadenzahq/cadenza/internal/bus"
	"github.com/cadenzahq/cadenza/internal/config"
)

// FileStorer is the slice of the backend contract the uploader needs.
type FileStorer interface {
	StoreFile(ctx context.Context, fh backend.FileHandle) (string, error)
}

// Attempt is one upload in flight. It settles exactly once; Done is closed
// on settlement and Ref/Err are immutable afterwards.
type Attempt struct {
	ID   string
	File backend.FileHandle

	mu      sync.Mutex
	settled bool
	ref     string
	err     error
	done    chan struct{}
}

// Done returns a channel closed when the attempt settles.
func (a *Attempt) Done() <-chan struct{} { return a.done }

// Result returns the storage reference and error after settlement. Before
// settlement it reports not-settled via ok=false.
func (a *Attempt) Result() (ref string, err error, ok bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.ref, a.err, a.settled
}

func (a *Attempt) settle(ref string, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.settled {
		return
	}
	a.settled = true
	a.ref = ref
	a.err = err
	close(a.done)
}

// Uploader acquires an upload channel per file and enforces the local
// size/type limits before touching the network.
type Uploader struct {
	storer FileStorer
	limits config.Upload
	bus    *bus.Bus
	logger *zap.Logger
}

// New creates an uploader bound to the given storer and limits.
func New(storer FileStorer, limits config.Upload, b *bus.Bus, logger *zap.Logger) *Uploader {
	return &Uploader{storer: storer, limits: limits, bus: b, logger: logger}
}

// Upload starts an upload and returns its attempt immediately. The attempt
// settles asynchronously; cancellation of ctx settles it as failed rather
// than leaving it dangling. Identical content uploaded twice yields two
// independent attempts.
func (u *Uploader) Upload(ctx context.Context, fh backend.FileHandle) *Attempt {
	attempt := &Attempt{
		ID:   uuid.New().String(),
		File: fh,
		done: make(chan struct{}),
	}

	if err := u.check(fh); err != nil {
		// Rejected locally; settle synchronously so the caller sees a
		// failed attachment, not a hung one.
		attempt.settle("", err)
		u.publish(attempt)
		return attempt
	}

	go u.run(ctx, attempt)
	return attempt
}

func (u *Uploader) run(ctx context.Context, attempt *Attempt) {
	type result struct {
		ref string
		err error
	}
	ch := make(chan result, 1)
	go func() {
		ref, err := u.storer.StoreFile(ctx, attempt.File)
		ch <- result{ref, err}
	}()

	select {
	case res := <-ch:
		attempt.settle(res.ref, res.err)
	case <-ctx.Done():
		// Owner discarded the upload; finalize instead of leaking.
		attempt.settle("", fmt.Errorf("%w: upload cancelled: %v", backend.ErrTransport, ctx.Err()))
	}

	if _, err, _ := attempt.Result(); err != nil {
		u.logger.Warn("upload failed",
			zap.String("attempt_id", attempt.ID),
			zap.String("filename", attempt.File.Name),
			zap.Error(err))
	}
	u.publish(attempt)
}

func (u *Uploader) publish(attempt *Attempt) {
	if u.bus != nil {
		u.bus.Emit(bus.KindUploadSettled, attempt)
	}
}

func (u *Uploader) check(fh backend.FileHandle) error {
	if u.limits.MaxBytes > 0 && fh.Size > u.limits.MaxBytes {
		return backend.ErrTooLarge
	}
	if len(u.limits.AllowedTypes) > 0 {
		allowed := false
		for _, t := range u.limits.AllowedTypes {
			if t == fh.MimeType {
				allowed = true
				break
			}
		}
		if !allowed {
			return backend.ErrUnsupportedType
		}
	}
	return nil
}
