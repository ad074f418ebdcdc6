package wormhole

import (
	"fmt"

	"github.com/CVDpl/go-live-wormhole/internal/common"
	"github.com/CVDpl/go-live-wormhole/pkg/wormhole/kv"
)

// Options configures an index.
type Options struct {
	// LeafCapacity is the maximum number of records per leaf. A leaf that is
	// full when a new key arrives splits first.
	LeafCapacity int

	// LowWater is the occupancy below which a delete attempts a merge with a
	// sibling (0 => LeafCapacity/4).
	LowWater int

	// MergeLimit is the largest combined occupancy two siblings may have to
	// be merged into one leaf (0 => LeafCapacity*3/4).
	MergeLimit int

	// MaxKeySize rejects longer keys on Set (0 => common.MaxKeySize).
	MaxKeySize int

	// Allocator supplies and retires stored records (nil => heap).
	Allocator kv.Allocator

	// Logger provides structured logging (nil => NullLogger).
	Logger common.Logger

	// ReclaimWarnThreshold is the retirement backlog at which a stalled
	// handle is reported (0 => default, <0 disables the warning).
	ReclaimWarnThreshold int64
}

// DefaultOptions returns default index options.
func DefaultOptions() *Options {
	return &Options{
		LeafCapacity:         common.DefaultLeafCapacity,
		LowWater:             common.DefaultLeafCapacity / 4,
		MergeLimit:           common.DefaultLeafCapacity * 3 / 4,
		MaxKeySize:           common.MaxKeySize,
		Allocator:            kv.HeapAllocator{},
		Logger:               common.NewNullLogger(),
		ReclaimWarnThreshold: common.DefaultReclaimWarnThreshold,
	}
}

// withDefaults returns a copy of o with zero fields filled in.
func (o *Options) withDefaults() Options {
	var out Options
	if o != nil {
		out = *o
	}
	if out.LeafCapacity == 0 {
		out.LeafCapacity = common.DefaultLeafCapacity
	}
	if out.LowWater == 0 {
		out.LowWater = out.LeafCapacity / 4
	}
	if out.MergeLimit == 0 {
		out.MergeLimit = out.LeafCapacity * 3 / 4
	}
	if out.MaxKeySize == 0 {
		out.MaxKeySize = common.MaxKeySize
	}
	if out.Allocator == nil {
		out.Allocator = kv.HeapAllocator{}
	}
	if out.Logger == nil {
		out.Logger = common.NewNullLogger()
	}
	if out.ReclaimWarnThreshold == 0 {
		out.ReclaimWarnThreshold = common.DefaultReclaimWarnThreshold
	}
	return out
}

// Validate checks the options after defaults are applied.
func (o *Options) Validate() error {
	v := o.withDefaults()
	if v.LeafCapacity < common.MinLeafCapacity || v.LeafCapacity > common.MaxLeafCapacity {
		return fmt.Errorf("%w: leaf capacity %d outside [%d, %d]", ErrInvalidOptions,
			v.LeafCapacity, common.MinLeafCapacity, common.MaxLeafCapacity)
	}
	if v.LowWater < 0 || v.LowWater > v.LeafCapacity/2 {
		return fmt.Errorf("%w: low-water mark %d outside [0, %d]", ErrInvalidOptions, v.LowWater, v.LeafCapacity/2)
	}
	if v.MergeLimit < v.LowWater || v.MergeLimit > v.LeafCapacity {
		return fmt.Errorf("%w: merge limit %d outside [%d, %d]", ErrInvalidOptions, v.MergeLimit, v.LowWater, v.LeafCapacity)
	}
	if v.MaxKeySize < 0 {
		return fmt.Errorf("%w: negative max key size", ErrInvalidOptions)
	}
	return nil
}
