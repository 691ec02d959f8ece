package pageheap

import "fmt"

// Config defines page size, free-list layout and growth granularity.
// Different configurations trade bookkeeping size against how often the heap
// has to go back to the memory source.
type Config struct {
	// Name for this configuration (for reports and benchmarks)
	Name string

	// PageShift is log2 of the page size.
	PageShift uint8

	// FreeListCutoff is the number of exact-size free lists. Free spans of
	// fewer pages live on free[npages]; larger ones on the best-fit list.
	FreeListCutoff int

	// ChunkBytes is the smallest request made to the memory source.
	ChunkBytes uintptr

	// ChunkAlignPages rounds every growth request up to a multiple of this
	// many pages. Must be a power of two.
	ChunkAlignPages uintptr
}

// Predefined configurations.
var (
	// Standard: 4 KiB pages, exact lists up to 1 MiB, 1 MiB chunks.
	ConfigStandard = Config{
		Name:            "Standard",
		PageShift:       12,
		FreeListCutoff:  256,
		ChunkBytes:      1 << 20,
		ChunkAlignPages: 16,
	}

	// Compact: few exact lists and small chunks. Spans reach the best-fit
	// list early, which keeps every code path busy in small heaps.
	ConfigCompact = Config{
		Name:            "Compact",
		PageShift:       12,
		FreeListCutoff:  8,
		ChunkBytes:      16 << 12,
		ChunkAlignPages: 16,
	}

	// LargeChunks: 8 KiB pages and 64 MiB chunks for heaps that grow fast.
	ConfigLargeChunks = Config{
		Name:            "LargeChunks",
		PageShift:       13,
		FreeListCutoff:  128,
		ChunkBytes:      64 << 20,
		ChunkAlignPages: 64,
	}

	// Default configuration (used if none specified).
	DefaultConfig = ConfigStandard
)

// PageSize returns the page size in bytes.
func (c Config) PageSize() uintptr { return 1 << c.PageShift }

// Validate checks that c describes a usable heap.
func (c Config) Validate() error {
	switch {
	case c.PageShift < 9 || c.PageShift > 30:
		return fmt.Errorf("%w: page shift %d out of range [9, 30]", ErrBadConfig, c.PageShift)
	case c.FreeListCutoff < 1:
		return fmt.Errorf("%w: free list cutoff %d must be at least 1", ErrBadConfig, c.FreeListCutoff)
	case c.ChunkAlignPages == 0 || c.ChunkAlignPages&(c.ChunkAlignPages-1) != 0:
		return fmt.Errorf("%w: chunk alignment %d must be a power of two", ErrBadConfig, c.ChunkAlignPages)
	case c.ChunkBytes == 0 || c.ChunkBytes%c.PageSize() != 0:
		return fmt.Errorf("%w: chunk size %d must be a non-zero multiple of the page size", ErrBadConfig, c.ChunkBytes)
	}
	return nil
}
