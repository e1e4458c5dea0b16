//go:build windows

package xbit

import (
	"encoding/binary"
	"io/fs"
	"os"
	"time"
)

// xbitStream is the alternate-data-stream name carrying an empty payload
// that marks a file executable on Windows-like filesystems, per §4.2.
const xbitStream = ":xbit"

// lxmodStream is the WSL-compatible extended-attribute stream storing a
// 32-bit little-endian Unix mode, so files written here remain correctly
// flagged executable when accessed from WSL.
const lxmodStream = ":$LXMOD"

const ownerExecuteBit = 0x40

// IsExecutable reports whether path carries the xbit ADS marker or an
// $LXMOD owner-execute bit. fi is unused here, kept for signature parity
// with xbit_unix.go.
func IsExecutable(path string, fi fs.FileInfo) bool {
	if _, err := os.Stat(path + xbitStream); err == nil {
		return true
	}
	if mode, ok := readLXMOD(path); ok {
		return mode&ownerExecuteBit != 0
	}
	return false
}

// SetExecutable creates the xbit ADS marker (empty payload) and the
// $LXMOD extended attribute (32-bit LE Unix mode with the owner-execute
// bit set) on path, preserving its last-write time.
func SetExecutable(path string) error {
	fi, err := os.Stat(path)
	if err != nil {
		return err
	}
	mtime := fi.ModTime()

	f, err := os.Create(path + xbitStream)
	if err != nil {
		return err
	}
	f.Close()

	mode, ok := readLXMOD(path)
	if !ok {
		mode = 0o100644
	}
	mode |= ownerExecuteBit
	if err := writeLXMOD(path, mode); err != nil {
		return err
	}

	return os.Chtimes(path, time.Now(), mtime)
}

// ClearExecutable removes the xbit ADS marker and clears the
// owner-execute bit in $LXMOD, if present.
func ClearExecutable(path string) error {
	fi, err := os.Stat(path)
	if err != nil {
		return err
	}
	mtime := fi.ModTime()

	os.Remove(path + xbitStream)

	if mode, ok := readLXMOD(path); ok {
		mode &^= ownerExecuteBit
		if err := writeLXMOD(path, mode); err != nil {
			return err
		}
	}
	return os.Chtimes(path, time.Now(), mtime)
}

func readLXMOD(path string) (uint32, bool) {
	b, err := os.ReadFile(path + lxmodStream)
	if err != nil || len(b) < 4 {
		return 0, false
	}
	return binary.LittleEndian.Uint32(b[:4]), true
}

func writeLXMOD(path string, mode uint32) error {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], mode)
	return os.WriteFile(path+lxmodStream, b[:], 0o644)
}

// SupportsNativeSymlink is false: most Windows setups lack the
// SeCreateSymbolicLinkPrivilege needed for os.Symlink to non-admin
// processes. The builder does not read this constant; its Windows
// createSymlink tries os.Symlink and writes the Cygwin-style surrogate
// (see symlink_windows.go) when that fails.
const SupportsNativeSymlink = false
