package cache

import "fmt"

// MaxSectors is the largest number of sectors a line may be split into.
const MaxSectors = 4

// Replacement selects the victim policy.
type Replacement string

// Replacement policies.
const (
	LRU  Replacement = "lru"
	FIFO Replacement = "fifo"
)

// WritePolicy selects how stores are propagated to the next level.
type WritePolicy string

// Write policies. LocalWBGlobalWT writes back requests marked local and
// writes through everything else.
const (
	WriteBack       WritePolicy = "write_back"
	WriteThrough    WritePolicy = "write_through"
	WriteEvict      WritePolicy = "write_evict"
	LocalWBGlobalWT WritePolicy = "local_wb_global_wt"
)

// WriteAllocate selects what a write-back store does on a miss.
type WriteAllocate string

// Write-allocate variants.
const (
	NoWriteAllocate WriteAllocate = "no_write_allocate"
	FetchOnWrite    WriteAllocate = "fetch_on_write"
	LazyFetchOnRead WriteAllocate = "lazy_fetch_on_read"
)

// Config holds cache geometry and policy parameters.
type Config struct {
	// NumSets and Associativity give the tag array shape.
	NumSets       int `json:"num_sets"`
	Associativity int `json:"associativity"`

	// LineSize in bytes. SectorSize equal to LineSize disables sectoring.
	LineSize   int `json:"line_size"`
	SectorSize int `json:"sector_size"`

	// MSHREntries bounds the number of distinct in-flight blocks and
	// MSHRMaxMerge the number of requests waiting on one block.
	MSHREntries  int `json:"mshr_entries"`
	MSHRMaxMerge int `json:"mshr_max_merge"`

	Replacement   Replacement   `json:"replacement"`
	WritePolicy   WritePolicy   `json:"write_policy"`
	WriteAllocate WriteAllocate `json:"write_allocate"`

	// DataPortWidth and FillPortWidth are bytes per cycle. 0 means the
	// port never throttles.
	DataPortWidth int `json:"data_port_width"`
	FillPortWidth int `json:"fill_port_width"`

	// HitLatency is charged by the stage that owns the cache.
	HitLatency uint64 `json:"hit_latency"`
}

// DefaultL1IConfig returns the default instruction cache configuration.
func DefaultL1IConfig() Config {
	return Config{
		NumSets:       16,
		Associativity: 4,
		LineSize:      64,
		SectorSize:    64,
		MSHREntries:   8,
		MSHRMaxMerge:  8,
		Replacement:   LRU,
		WritePolicy:   WriteBack,
		WriteAllocate: NoWriteAllocate,
		DataPortWidth: 64,
		FillPortWidth: 64,
		HitLatency:    1,
	}
}

// DefaultL1DConfig returns the default data cache configuration: a sectored
// write-back cache with 32B sectors.
func DefaultL1DConfig() Config {
	return Config{
		NumSets:       64,
		Associativity: 8,
		LineSize:      128,
		SectorSize:    32,
		MSHREntries:   32,
		MSHRMaxMerge:  8,
		Replacement:   LRU,
		WritePolicy:   WriteBack,
		WriteAllocate: FetchOnWrite,
		DataPortWidth: 128,
		FillPortWidth: 128,
		HitLatency:    2,
	}
}

// NumSectors returns the number of sectors in a line.
func (c Config) NumSectors() int {
	if c.SectorSize <= 0 {
		return 1
	}

	return c.LineSize / c.SectorSize
}

// Validate checks the configuration for consistency.
func (c Config) Validate() error {
	if c.NumSets <= 0 || c.Associativity <= 0 {
		return fmt.Errorf("num_sets and associativity must be > 0")
	}

	if c.LineSize <= 0 || c.LineSize&(c.LineSize-1) != 0 {
		return fmt.Errorf("line_size must be a power of two, got %d",
			c.LineSize)
	}

	if c.SectorSize <= 0 || c.LineSize%c.SectorSize != 0 {
		return fmt.Errorf("sector_size must divide line_size")
	}

	if c.NumSectors() > MaxSectors {
		return fmt.Errorf("at most %d sectors per line, got %d",
			MaxSectors, c.NumSectors())
	}

	if c.MSHREntries <= 0 || c.MSHRMaxMerge <= 0 {
		return fmt.Errorf("mshr_entries and mshr_max_merge must be > 0")
	}

	switch c.Replacement {
	case LRU, FIFO:
	default:
		return fmt.Errorf("unknown replacement policy %q", c.Replacement)
	}

	switch c.WritePolicy {
	case WriteBack, WriteThrough, WriteEvict, LocalWBGlobalWT:
	default:
		return fmt.Errorf("unknown write policy %q", c.WritePolicy)
	}

	switch c.WriteAllocate {
	case NoWriteAllocate, FetchOnWrite, LazyFetchOnRead:
	default:
		return fmt.Errorf("unknown write allocate policy %q", c.WriteAllocate)
	}

	if c.DataPortWidth < 0 || c.FillPortWidth < 0 {
		return fmt.Errorf("port widths must be >= 0")
	}

	return nil
}
