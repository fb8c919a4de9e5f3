package volume

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// MountOptions is spec.md 6's mount-option table, parsed from a
// repeatable `--option key=value` cobra flag the way cmd/cmd/scan.go
// parses its `--ext` StringSliceP.
type MountOptions struct {
	SectorSize      int    // bs=N
	SessionStart    int64  // session=N
	LastSector      uint64 // lastblock=N
	AnchorLocation  uint32 // anchor=N
	VolumeIndex     int    // volume=N
	PartitionRef    int16  // partition=N, -1 selects the FSD's own reference
	FileSetLocation uint32 // fileset=N
	RootDirBlock    uint32 // rootdir=N

	DefaultUID uint32
	DefaultGID uint32
	Umask      os.FileMode

	Unhide   bool // unhide
	Undelete bool // undelete
	Strict   bool // strict
	UTF8     bool // utf8
	IOCharset string

	NoVRS bool // novrs
}

// DefaultMountOptions returns the option set used when no `--option`
// flags are given: auto-probe everything, PartitionRef -1 (no override).
func DefaultMountOptions() MountOptions {
	return MountOptions{PartitionRef: -1}
}

// ParseMountOptions applies each "key=value" or bare-flag token in
// order over DefaultMountOptions(), matching spec.md 6's option table.
func ParseMountOptions(tokens []string) (MountOptions, error) {
	opts := DefaultMountOptions()
	for _, tok := range tokens {
		if err := applyOption(&opts, tok); err != nil {
			return MountOptions{}, err
		}
	}
	return opts, nil
}

func applyOption(opts *MountOptions, tok string) error {
	key, value, hasValue := strings.Cut(tok, "=")
	switch key {
	case "bs":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("volume: bs=: %w", err)
		}
		opts.SectorSize = n
	case "session":
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return fmt.Errorf("volume: session=: %w", err)
		}
		opts.SessionStart = n
	case "lastblock":
		n, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return fmt.Errorf("volume: lastblock=: %w", err)
		}
		opts.LastSector = n
	case "anchor":
		n, err := strconv.ParseUint(value, 10, 32)
		if err != nil {
			return fmt.Errorf("volume: anchor=: %w", err)
		}
		opts.AnchorLocation = uint32(n)
	case "volume":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("volume: volume=: %w", err)
		}
		opts.VolumeIndex = n
	case "partition":
		n, err := strconv.ParseInt(value, 10, 16)
		if err != nil {
			return fmt.Errorf("volume: partition=: %w", err)
		}
		opts.PartitionRef = int16(n)
	case "fileset":
		n, err := strconv.ParseUint(value, 10, 32)
		if err != nil {
			return fmt.Errorf("volume: fileset=: %w", err)
		}
		opts.FileSetLocation = uint32(n)
	case "rootdir":
		n, err := strconv.ParseUint(value, 10, 32)
		if err != nil {
			return fmt.Errorf("volume: rootdir=: %w", err)
		}
		opts.RootDirBlock = uint32(n)
	case "uid":
		n, err := strconv.ParseUint(value, 10, 32)
		if err != nil {
			return fmt.Errorf("volume: uid=: %w", err)
		}
		opts.DefaultUID = uint32(n)
	case "gid":
		n, err := strconv.ParseUint(value, 10, 32)
		if err != nil {
			return fmt.Errorf("volume: gid=: %w", err)
		}
		opts.DefaultGID = uint32(n)
	case "umask":
		n, err := strconv.ParseUint(value, 8, 32)
		if err != nil {
			return fmt.Errorf("volume: umask=: %w", err)
		}
		opts.Umask = os.FileMode(n)
	case "unhide":
		opts.Unhide = true
	case "undelete":
		opts.Undelete = true
	case "strict":
		opts.Strict = true
	case "utf8":
		opts.UTF8 = true
	case "iocharset":
		opts.IOCharset = value
	case "novrs":
		opts.NoVRS = true
	default:
		if hasValue {
			return fmt.Errorf("volume: unrecognized mount option %q", key)
		}
		return fmt.Errorf("volume: unrecognized mount option %q", key)
	}
	return nil
}
