package wormhole

import "github.com/CVDpl/go-live-wormhole/internal/common"

// Errors returned or wrapped by the index.
var (
	ErrClosed             = common.ErrClosed
	ErrAllocation         = common.ErrAllocation
	ErrInvariantViolation = common.ErrInvariantViolation
	ErrHandleMisuse       = common.ErrHandleMisuse
	ErrKeyTooLarge        = common.ErrKeyTooLarge
	ErrInvalidOptions     = common.ErrInvalidOptions
	ErrCorrupt            = common.ErrCorrupt
	ErrUnsupportedVersion = common.ErrUnsupportedVersion
	ErrInvalidMagic       = common.ErrInvalidMagic
	ErrCRCMismatch        = common.ErrCRCMismatch
)
