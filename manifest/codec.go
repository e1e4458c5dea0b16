package manifest

import (
	"bufio"
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/zeroinstall/implstore/internal/storeerr"
)

// Serialize renders m as the UTF-8, LF-terminated text format of §3: the
// root's elements first (it has no header line), then every non-root
// directory header in byte-wise ascending path order, each immediately
// followed by its own elements in byte-wise ascending name order.
func Serialize(m *Manifest) []byte {
	var buf bytes.Buffer
	for _, dir := range m.sortedDirPaths() {
		if dir != "" {
			buf.WriteString("D /")
			buf.WriteString(dir)
			buf.WriteByte('\n')
		}
		bucket := m.dirs[dir]
		for _, name := range sortedNames(bucket) {
			writeElementLine(&buf, bucket[name])
		}
	}
	return buf.Bytes()
}

func writeElementLine(buf *bytes.Buffer, e Element) {
	switch e.Kind {
	case KindFile, KindExecutable:
		fmt.Fprintf(buf, "%c %s %d %d %s\n", e.Kind, e.Digest, e.MtimeUnix, e.Size, e.Name)
	case KindSymlink:
		fmt.Fprintf(buf, "S %s %d %s\n", e.Digest, e.Size, e.Name)
	}
}

// DigestOf computes m's canonical digest: Serialize(m) hashed and
// encoded per m.Format.
func DigestOf(m *Manifest) string {
	return m.Format.DigestBytes(Serialize(m))
}

// Parse reconstructs a Manifest from its serialized text form in the
// given format. parse(serialize(m)) == m for any m produced by this
// package.
func Parse(data []byte, f Format) (*Manifest, error) {
	m := New(f)
	currentDir := ""

	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if line == "" {
			continue
		}
		kind := line[0]
		rest := line[1:]
		if len(rest) == 0 || rest[0] != ' ' {
			return nil, &storeerr.InvalidPathError{Path: line, Reason: fmt.Sprintf("malformed manifest line %d", lineNo)}
		}
		rest = rest[1:]

		switch kind {
		case 'D':
			path := strings.TrimPrefix(rest, "/")
			if err := m.AddDirectory(path); err != nil {
				return nil, err
			}
			currentDir = path
		case 'F', 'X':
			fields := strings.SplitN(rest, " ", 4)
			if len(fields) != 4 {
				return nil, &storeerr.InvalidPathError{Path: line, Reason: fmt.Sprintf("malformed file line %d", lineNo)}
			}
			mtime, err := strconv.ParseInt(fields[1], 10, 64)
			if err != nil {
				return nil, &storeerr.InvalidPathError{Path: line, Reason: "bad mtime"}
			}
			size, err := strconv.ParseInt(fields[2], 10, 64)
			if err != nil {
				return nil, &storeerr.InvalidPathError{Path: line, Reason: "bad size"}
			}
			name := fields[3]
			path := name
			if currentDir != "" {
				path = currentDir + "/" + name
			}
			if err := m.AddFile(path, fields[0], mtime, size, kind == 'X'); err != nil {
				return nil, err
			}
		case 'S':
			fields := strings.SplitN(rest, " ", 3)
			if len(fields) != 3 {
				return nil, &storeerr.InvalidPathError{Path: line, Reason: fmt.Sprintf("malformed symlink line %d", lineNo)}
			}
			size, err := strconv.ParseInt(fields[1], 10, 64)
			if err != nil {
				return nil, &storeerr.InvalidPathError{Path: line, Reason: "bad size"}
			}
			name := fields[2]
			path := name
			if currentDir != "" {
				path = currentDir + "/" + name
			}
			if err := m.AddSymlink(path, fields[0], size); err != nil {
				return nil, err
			}
		default:
			return nil, &storeerr.InvalidPathError{Path: line, Reason: fmt.Sprintf("unknown line kind at line %d", lineNo)}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, &storeerr.IoError{Op: "parse manifest", Err: err}
	}
	return m, nil
}
