package common

import (
	"errors"
)

// Dump file format magic numbers (little-endian)
const (
	MagicDump   uint32 = 0x4D445857 // "WXDM" in little-endian
	MagicLeaf   uint32 = 0x4641454C // "LEAF" in little-endian
	MagicDigest uint32 = 0x33454B42 // "BKE3" in little-endian
)

// File format versions
const (
	VersionDump uint16 = 0x0100
)

// Size limits
const (
	MaxKeySize      = 1024 * 1024 // 1MB max key size
	HeaderAlignment = 64          // Dump headers aligned to 64 bytes
)

// Leaf geometry
const (
	DefaultLeafCapacity = 128
	MinLeafCapacity     = 8
	MaxLeafCapacity     = 65535
)

// Reclamation
const (
	DefaultReclaimWarnThreshold = 64 * 1024 // pending retirements before a stalled-handle warning
)

// Common errors
var (
	ErrClosed             = errors.New("index is closed")
	ErrAllocation         = errors.New("record allocation failed")
	ErrInvariantViolation = errors.New("index invariant violated")
	ErrHandleMisuse       = errors.New("handle misuse")
	ErrKeyTooLarge        = errors.New("key exceeds maximum size")
	ErrInvalidOptions     = errors.New("invalid options")
	ErrCorrupt            = errors.New("data corruption detected")
	ErrUnsupportedVersion = errors.New("unsupported file version")
	ErrInvalidMagic       = errors.New("invalid file magic number")
	ErrCRCMismatch        = errors.New("CRC checksum mismatch")
)

// Logger provides structured logging.
type Logger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
}

// LogLevel represents the severity of a log message.
type LogLevel int

const (
	LogLevelDebug LogLevel = iota
	LogLevelInfo
	LogLevelWarn
	LogLevelError
)
