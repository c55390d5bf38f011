// Package cpu is the one concrete compute.Context shipped with this
// module: a goroutine/workgroup-tiled backend that runs the named kernel
// bundle on the host CPU instead of a GPU. It exists so the core
// (pyramid, extrema, refinement, orientation) is runnable and testable
// without an actual OpenCL/CUDA device; a real GPU backend satisfies the
// same compute.Context interface and is a drop-in swap.
package cpu

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"siftgpu/internal/compute"
	"siftgpu/internal/logger"
)

// KernelFunc is the shape every entry point in the bundle takes: the
// global processing geometry (rows/cols the launch was sized for) plus
// the call's argument list. Kernels read/write through the Backend's
// buffer table resolved from Arg buffer handles.
type KernelFunc func(b *Backend, global compute.Shape, args []compute.Arg) error

type bufferData struct {
	mu   sync.RWMutex
	data []float32
	rows int
	cols int
}

type counter struct {
	v int32
}

func (c *counter) Add(delta int32) int32 { return atomic.AddInt32(&c.v, delta) - delta }
func (c *counter) Load() int32           { return atomic.LoadInt32(&c.v) }
func (c *counter) Reset()                { atomic.StoreInt32(&c.v, 0) }

// Backend implements compute.Context by running each kernel over a tiled
// index space spread across a bounded goroutine pool, the CPU analogue
// of an OpenCL workgroup grid. It also owns the named kernel bundle: see
// kernels_*.go.
type Backend struct {
	mu       sync.Mutex
	buffers  map[uint64]*bufferData
	counters map[uint64]*counter
	nextID   uint64
	workers  int
	log      logger.Logger
	kernels  map[string]KernelFunc
}

// New constructs a Backend with a workgroup pool sized to the host's
// CPU count.
func New(log logger.Logger) *Backend {
	if log == nil {
		log = logger.Nop{}
	}
	b := &Backend{
		buffers:  make(map[uint64]*bufferData),
		counters: make(map[uint64]*counter),
		workers:  runtime.NumCPU(),
		log:      log,
	}
	b.kernels = defaultKernels()
	return b
}

func (b *Backend) allocID() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	return b.nextID
}

func (b *Backend) Alloc(name string, shape compute.Shape) (compute.Buffer, error) {
	if shape.Rows <= 0 || shape.Cols <= 0 {
		return compute.Buffer{}, fmt.Errorf("compute/cpu: invalid buffer shape %dx%d for %q", shape.Rows, shape.Cols, name)
	}
	id := b.allocID()
	b.mu.Lock()
	b.buffers[id] = &bufferData{
		data: make([]float32, shape.Rows*shape.Cols),
		rows: shape.Rows,
		cols: shape.Cols,
	}
	b.mu.Unlock()

	b.log.Debug("compute/cpu", "allocated buffer", map[string]interface{}{
		"name": name, "rows": shape.Rows, "cols": shape.Cols,
	})

	return compute.Buffer{Name: name, Rows: shape.Rows, Cols: shape.Cols}.WithID(id), nil
}

func (b *Backend) bufferFor(buf compute.Buffer) (*bufferData, error) {
	id := buf.ID()
	b.mu.Lock()
	bd, ok := b.buffers[id]
	b.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("compute/cpu: unknown buffer %q", buf.Name)
	}
	return bd, nil
}

func (b *Backend) ReadFloats(buf compute.Buffer) ([]float32, error) {
	bd, err := b.bufferFor(buf)
	if err != nil {
		return nil, err
	}
	bd.mu.RLock()
	defer bd.mu.RUnlock()
	out := make([]float32, len(bd.data))
	copy(out, bd.data)
	return out, nil
}

func (b *Backend) WriteFloats(buf compute.Buffer, data []float32) error {
	bd, err := b.bufferFor(buf)
	if err != nil {
		return err
	}
	bd.mu.Lock()
	defer bd.mu.Unlock()
	if len(data) != len(bd.data) {
		return fmt.Errorf("compute/cpu: write size mismatch for %q: got %d want %d", buf.Name, len(data), len(bd.data))
	}
	copy(bd.data, data)
	return nil
}

func (b *Backend) NewCounter(name string) (compute.Counter, error) {
	id := b.allocID()
	c := &counter{}
	b.mu.Lock()
	b.counters[id] = c
	b.mu.Unlock()
	return c, nil
}

func (b *Backend) Release(buf compute.Buffer) {
	id := buf.ID()
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.buffers[id]; !ok {
		b.log.Warning("compute/cpu", "release of unknown buffer ignored", map[string]interface{}{"name": buf.Name})
		return
	}
	delete(b.buffers, id)
}

func (b *Backend) Teardown() {
	b.mu.Lock()
	defer b.mu.Unlock()
	released := 0
	for id := range b.buffers {
		delete(b.buffers, id)
		released++
	}
	for id := range b.counters {
		delete(b.counters, id)
	}
	b.log.Debug("compute/cpu", "teardown complete", map[string]interface{}{"buffers_released": released})
}

func (b *Backend) Launch(ctx context.Context, kernel string, global compute.Shape, args ...compute.Arg) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	fn, ok := b.kernels[kernel]
	if !ok {
		return fmt.Errorf("compute/cpu: unknown kernel %q", kernel)
	}
	return fn(b, global, args)
}

// parallelRows spreads rows [0, rows) across the backend's workgroup
// pool, calling fn(r) for each row. This stands in for an OpenCL launch
// of row-tiled workgroups over a (rows, cols) NDRange: row-major
// parallelism, no partial overlap, joined before returning so downstream
// kernels observe a fully written buffer.
func parallelRows(rows, workers int, fn func(r int)) {
	if workers < 1 {
		workers = 1
	}
	if rows <= 0 {
		return
	}
	if workers > rows {
		workers = rows
	}

	var wg sync.WaitGroup
	chunk := (rows + workers - 1) / workers
	for start := 0; start < rows; start += chunk {
		end := start + chunk
		if end > rows {
			end = rows
		}
		wg.Add(1)
		go func(start, end int) {
			defer wg.Done()
			for r := start; r < end; r++ {
				fn(r)
			}
		}(start, end)
	}
	wg.Wait()
}
