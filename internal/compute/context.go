// Package compute defines the boundary between the SIFT pipeline and a
// parallel compute device. Device discovery, command-queue construction,
// and kernel source compilation are external collaborators; this
// package only names the contract the core consumes: a context able to
// allocate linear float buffers and launch kernels by name, addressed
// through the Context interface below.
package compute

import "context"

// Shape describes a 2-D processing geometry: the row/column extent a
// kernel launch is dispatched over (an octave's (H, W), or a 1-D keypoint
// list addressed as (1, N)).
type Shape struct {
	Rows int
	Cols int
}

// Buffer is an opaque handle to a device-side linear float32 array of
// shape Rows x Cols (row-major). Buffers are allocated once and reused
// across invocations for the life of a pipeline run.
type Buffer struct {
	id   uint64
	Name string
	Rows int
	Cols int
}

func (b Buffer) IsZero() bool { return b.id == 0 }

// WithID and ID let a concrete Context implementation stamp and recover
// the handle's backing identity; Buffer itself stays an opaque value type
// to every other package.
func (b Buffer) WithID(id uint64) Buffer { b.id = id; return b }
func (b Buffer) ID() uint64              { return b.id }

// Counter is a device-visible atomic 32-bit counter, used by the extremum
// detector and orientation assigner to compact candidate/keypoint
// records into contiguous output slots.
type Counter interface {
	// Add performs an atomic post-increment and returns the slot index
	// claimed by the caller (the value before the add).
	Add(delta int32) int32
	Load() int32
	Reset()
}

type argKind int

const (
	argBuffer argKind = iota
	argFloat
	argInt
	argCounter
)

// Arg is one kernel-call argument: a buffer reference, a scalar, or an
// atomic counter. Kernel bundles type-switch on the accessor that
// succeeds, mirroring how an OpenCL kernel's argument list mixes cl_mem
// and plain scalars.
type Arg struct {
	kind    argKind
	buffer  Buffer
	f       float32
	i       int32
	counter Counter
}

func BufArg(b Buffer) Arg      { return Arg{kind: argBuffer, buffer: b} }
func FArg(v float32) Arg       { return Arg{kind: argFloat, f: v} }
func IArg(v int32) Arg         { return Arg{kind: argInt, i: v} }
func CounterArg(c Counter) Arg { return Arg{kind: argCounter, counter: c} }

func (a Arg) Buffer() (Buffer, bool)      { return a.buffer, a.kind == argBuffer }
func (a Arg) Float() (float32, bool)      { return a.f, a.kind == argFloat }
func (a Arg) Int() (int32, bool)          { return a.i, a.kind == argInt }
func (a Arg) CounterVal() (Counter, bool) { return a.counter, a.kind == argCounter }

// Context is the single collaborator the pipeline needs from a compute
// device: allocate named linear buffers, launch kernels from a
// precompiled bundle addressable by name, and read back results at
// explicit synchronization points. Construction inputs (device type,
// queue, program binaries) live entirely behind a concrete
// implementation; the core never sees them.
type Context interface {
	// Alloc allocates a new named buffer of the given shape on every
	// call; returning an existing buffer for a repeated name is left to
	// buffers.Registry. A pipeline run allocates its buffers through the
	// registry as each stage needs them.
	Alloc(name string, shape Shape) (Buffer, error)

	// Launch enqueues a kernel call. On a single in-order queue this
	// call returns only after the kernel has completed executing; a
	// CPU backend satisfies that ordering trivially by running to
	// completion before returning.
	Launch(ctx context.Context, kernel string, global Shape, args ...Arg) error

	// ReadFloats reads back the full contents of buf. This is a
	// synchronization point: the host blocks until the device's queue
	// has drained up to this call.
	ReadFloats(buf Buffer) ([]float32, error)

	// WriteFloats uploads host data into buf, replacing its contents.
	WriteFloats(buf Buffer, data []float32) error

	// NewCounter allocates a named atomic counter, reset to zero.
	NewCounter(name string) (Counter, error)

	// Release frees a single buffer. Implementations must log and
	// continue rather than panic on a failed release, so one bad
	// buffer can't block teardown of the rest.
	Release(buf Buffer)

	// Teardown releases every buffer and counter owned by this
	// context in one pass.
	Teardown()
}
