//go:build windows

package xbit

import (
	"bytes"
	"os"
	"unicode/utf16"

	"golang.org/x/sys/windows"
)

// cygwinMagic is the 12-byte marker ("!<symlink>" plus the UTF-16LE
// byte-order mark) 0install uses (matching Cygwin's convention) to tag a
// regular file as a symlink surrogate, followed by the UTF-16LE target.
var cygwinMagic = []byte("!<symlink>\xFF\xFE")

// WriteSymlinkSurrogate creates path as a system+hidden regular file
// whose content is the Cygwin-style symlink marker followed by the
// UTF-16LE encoding of target, for use when the process lacks
// SeCreateSymbolicLinkPrivilege.
func WriteSymlinkSurrogate(path, target string) error {
	u16 := utf16.Encode([]rune(target))
	buf := make([]byte, 0, len(cygwinMagic)+len(u16)*2)
	buf = append(buf, cygwinMagic...)
	for _, u := range u16 {
		buf = append(buf, byte(u), byte(u>>8))
	}
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		return err
	}
	p, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return err
	}
	attrs, err := windows.GetFileAttributes(p)
	if err != nil {
		return err
	}
	attrs |= windows.FILE_ATTRIBUTE_SYSTEM | windows.FILE_ATTRIBUTE_HIDDEN
	return windows.SetFileAttributes(p, attrs)
}

// ReadSymlinkSurrogate returns the target encoded in a Cygwin-style
// surrogate at path, and false if path does not carry the magic marker.
func ReadSymlinkSurrogate(path string) (string, bool) {
	data, err := os.ReadFile(path)
	if err != nil || !bytes.HasPrefix(data, cygwinMagic) {
		return "", false
	}
	rest := data[len(cygwinMagic):]
	u16 := make([]uint16, 0, len(rest)/2)
	for i := 0; i+1 < len(rest); i += 2 {
		u16 = append(u16, uint16(rest[i])|uint16(rest[i+1])<<8)
	}
	return string(utf16.Decode(u16)), true
}

// IsSymlinkSurrogate reports whether path looks like a Cygwin-style
// symlink surrogate without reading its full target.
func IsSymlinkSurrogate(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()
	head := make([]byte, len(cygwinMagic))
	n, _ := f.Read(head)
	return n == len(cygwinMagic) && bytes.Equal(head, cygwinMagic)
}
