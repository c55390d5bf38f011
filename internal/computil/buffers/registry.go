// Package buffers is the named-buffer bookkeeping layer sitting above a
// compute.Context: it tracks every buffer a pipeline run has allocated,
// under either a plain string key (the raw upload, the working image, a
// scratch buffer) or a structured per-(octave, level, kind) key (one
// Gaussian or DoG plane per pyramid position), and tears all of them
// down tolerantly at the end of a run: track everything handed out, log
// instead of panicking on a failed release, and expose counts for
// diagnostics.
package buffers

import (
	"fmt"
	"sync"

	"siftgpu/internal/compute"
	"siftgpu/internal/logger"
)

// Kind names the role a pyramid-level buffer plays, used as part of its
// structured key.
type Kind string

const (
	KindGaussian Kind = "gaussian"
	KindDoG      Kind = "dog"
)

// Key addresses one buffer by pyramid position: octave index, level
// index within the octave, and plane kind.
type Key struct {
	Octave int
	Level  int
	Kind   Kind
}

func (k Key) String() string {
	return fmt.Sprintf("o%d/l%d/%s", k.Octave, k.Level, k.Kind)
}

// Registry owns every buffer a single pipeline run allocates from a
// compute.Context, keyed either by a plain name or a structured Key.
// Alloc/AllocKeyed create a buffer on the first request for a name or
// Key and return the same buffer on later requests. Buffers are not
// allocated up front and are not kept across Keypoints calls: each call
// allocates as its stages ask and tears the registry down when it ends.
type Registry struct {
	mu      sync.Mutex
	ctx     compute.Context
	log     logger.Logger
	named   map[string]compute.Buffer
	keyed   map[Key]compute.Buffer
	ordered []compute.Buffer
}

func New(ctx compute.Context, log logger.Logger) *Registry {
	if log == nil {
		log = logger.Nop{}
	}
	return &Registry{
		ctx:   ctx,
		log:   log,
		named: make(map[string]compute.Buffer),
		keyed: make(map[Key]compute.Buffer),
	}
}

// Alloc returns the buffer registered under name, allocating it eagerly
// on first call and returning the existing handle on every subsequent
// call with the same name and shape.
func (r *Registry) Alloc(name string, shape compute.Shape) (compute.Buffer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if buf, ok := r.named[name]; ok {
		if buf.Rows != shape.Rows || buf.Cols != shape.Cols {
			return compute.Buffer{}, fmt.Errorf("buffers: %q already allocated at %dx%d, requested %dx%d",
				name, buf.Rows, buf.Cols, shape.Rows, shape.Cols)
		}
		return buf, nil
	}

	buf, err := r.ctx.Alloc(name, shape)
	if err != nil {
		return compute.Buffer{}, fmt.Errorf("buffers: alloc %q: %w", name, err)
	}
	r.named[name] = buf
	r.ordered = append(r.ordered, buf)
	return buf, nil
}

// AllocKeyed is Alloc's structured-key counterpart, used for pyramid
// level planes.
func (r *Registry) AllocKeyed(key Key, shape compute.Shape) (compute.Buffer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if buf, ok := r.keyed[key]; ok {
		if buf.Rows != shape.Rows || buf.Cols != shape.Cols {
			return compute.Buffer{}, fmt.Errorf("buffers: %s already allocated at %dx%d, requested %dx%d",
				key, buf.Rows, buf.Cols, shape.Rows, shape.Cols)
		}
		return buf, nil
	}

	buf, err := r.ctx.Alloc(key.String(), shape)
	if err != nil {
		return compute.Buffer{}, fmt.Errorf("buffers: alloc %s: %w", key, err)
	}
	r.keyed[key] = buf
	r.ordered = append(r.ordered, buf)
	return buf, nil
}

// Get looks up a previously allocated plain-named buffer.
func (r *Registry) Get(name string) (compute.Buffer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	buf, ok := r.named[name]
	return buf, ok
}

// GetKeyed looks up a previously allocated pyramid-level buffer.
func (r *Registry) GetKeyed(key Key) (compute.Buffer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	buf, ok := r.keyed[key]
	return buf, ok
}

// Count reports how many buffers this registry currently owns.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.ordered)
}

// Teardown releases every buffer this registry owns. A failure
// releasing one buffer is logged and teardown continues through the
// rest rather than aborting, so one bad release can't block cleanup of
// the others.
func (r *Registry) Teardown() {
	r.mu.Lock()
	defer r.mu.Unlock()

	released := 0
	for _, buf := range r.ordered {
		func() {
			defer func() {
				if rec := recover(); rec != nil {
					r.log.Warning("buffers", "panic releasing buffer, continuing teardown", map[string]interface{}{
						"name": buf.Name, "recovered": fmt.Sprintf("%v", rec),
					})
				}
			}()
			r.ctx.Release(buf)
			released++
		}()
	}

	r.named = make(map[string]compute.Buffer)
	r.keyed = make(map[Key]compute.Buffer)
	r.ordered = nil

	r.log.Debug("buffers", "registry teardown complete", map[string]interface{}{
		"released": released,
	})
}
