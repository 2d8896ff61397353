// Package native is the wazero-backed reclamation backend.
//
// Generated code of a loader is held as wazero compiled modules; releasing
// the handle closes the module and frees its machine code. Metadata tables
// and interned constants are plain memory blocks (Blob).
package native

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/tetratelabs/wazero"
	"go.uber.org/zap"

	"github.com/wippyai/incinerator"
	"github.com/wippyai/incinerator/errors"
	"github.com/wippyai/incinerator/resource"
)

// emptyModule is the smallest valid module: magic and version only.
var emptyModule = []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}

// Probe checks that the backend can compile code on this platform.
// An error means the backend is unavailable.
func Probe(ctx context.Context) error {
	r := wazero.NewRuntime(ctx)
	defer r.Close(ctx)

	mod, err := r.CompileModule(ctx, emptyModule)
	if err != nil {
		return errors.EngineUnavailable(err)
	}
	return mod.Close(ctx)
}

// Attacher binds a releaser to a loader.
type Attacher interface {
	Attach(id incinerator.Identity, kind resource.Kind, r resource.Releaser) (resource.Handle, error)
}

// Config holds backend configuration.
type Config struct {
	// MemoryLimitPages caps guest memory per module in 64KB pages.
	// 0 means the wazero default.
	MemoryLimitPages uint32
}

// CodeCache compiles generated code for loaders.
// Thread-safe.
type CodeCache struct {
	runtime wazero.Runtime
	attach  Attacher
	log     *zap.Logger
	live    atomic.Int64
}

// NewCodeCache creates a code cache attaching modules through attach.
// cfg may be nil.
func NewCodeCache(ctx context.Context, attach Attacher, cfg *Config) *CodeCache {
	runtimeCfg := wazero.NewRuntimeConfig()
	if cfg != nil && cfg.MemoryLimitPages > 0 {
		runtimeCfg = runtimeCfg.WithMemoryLimitPages(cfg.MemoryLimitPages)
	}
	return &CodeCache{
		runtime: wazero.NewRuntimeWithConfig(ctx, runtimeCfg),
		attach:  attach,
		log:     Logger().Named("native"),
	}
}

// Compile compiles wasm and attaches the result to loader as a
// GeneratedCode handle. If attaching fails the module is closed again.
func (c *CodeCache) Compile(ctx context.Context, loader incinerator.Identity, wasm []byte) (resource.Handle, error) {
	code, err := c.compile(ctx, wasm)
	if err != nil {
		return 0, err
	}

	h, err := c.attach.Attach(loader, resource.KindGeneratedCode, code)
	if err != nil {
		_ = code.Release(ctx)
		return 0, err
	}

	c.log.Debug("generated code attached",
		zap.Stringer("loader", loader),
		zap.Uint32("handle", uint32(h)),
		zap.Int("functions", len(code.mod.ExportedFunctions())))
	return h, nil
}

// CompileReleaser compiles wasm without attaching it. The caller owns the
// returned releaser.
func (c *CodeCache) CompileReleaser(ctx context.Context, wasm []byte) (resource.Releaser, error) {
	code, err := c.compile(ctx, wasm)
	if err != nil {
		return nil, err
	}
	return code, nil
}

func (c *CodeCache) compile(ctx context.Context, wasm []byte) (*compiledCode, error) {
	mod, err := c.runtime.CompileModule(ctx, wasm)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseAttach, errors.KindInvalidInput, err, "compile generated code")
	}
	c.live.Add(1)
	return &compiledCode{mod: mod, cache: c}, nil
}

// Live returns the number of compiled modules not yet released.
func (c *CodeCache) Live() int {
	return int(c.live.Load())
}

// Close closes the underlying runtime and every module still compiled in it.
func (c *CodeCache) Close(ctx context.Context) error {
	return c.runtime.Close(ctx)
}

// compiledCode closes its module once. A failed close is retried by the
// next Release.
type compiledCode struct {
	mod    wazero.CompiledModule
	cache  *CodeCache
	mu     sync.Mutex
	closed bool
}

func (c *compiledCode) Release(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	if err := c.mod.Close(ctx); err != nil {
		return err
	}
	c.closed = true
	c.cache.live.Add(-1)
	return nil
}

// Blob is a block of native memory holding a metadata table or interned
// constants.
type Blob struct {
	data     []byte
	mu       sync.Mutex
	released bool
}

// NewBlob allocates a zeroed blob of size bytes.
func NewBlob(size int) *Blob {
	return &Blob{data: make([]byte, size)}
}

// NewBlobFrom creates a blob holding a copy of data.
func NewBlobFrom(data []byte) *Blob {
	b := &Blob{data: make([]byte, len(data))}
	copy(b.data, data)
	return b
}

// Len returns the blob size, 0 once released.
func (b *Blob) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.data)
}

// Released reports whether the blob was released.
func (b *Blob) Released() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.released
}

// Release zeroes and drops the memory. Releasing twice is a no-op.
func (b *Blob) Release(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	clear(b.data)
	b.data = nil
	b.released = true
	return nil
}
