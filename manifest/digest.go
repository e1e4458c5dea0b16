package manifest

// Digest is a set-of-optional-fields envelope carrying up to one digest
// per known manifest format. It is used throughout the store as a lookup
// key that stays robust across format upgrades: a caller can match an
// implementation by whichever field it happens to know.
//
// Fields hold the encoded digest only (no "<prefix><separator>" part);
// use Identifier to render a full on-disk identifier for a given field.
type Digest struct {
	Sha1      string
	Sha1New   string
	Sha256    string
	Sha256New string
}

// bestOrder is the precedence Best and Format walk, strongest first.
var bestOrder = []string{"sha256new", "sha256", "sha1new", "sha1"}

// field returns the value of the named field ("" if unknown name or
// unset).
func (d Digest) field(name string) string {
	switch name {
	case "sha256new":
		return d.Sha256New
	case "sha256":
		return d.Sha256
	case "sha1new":
		return d.Sha1New
	case "sha1":
		return d.Sha1
	default:
		return ""
	}
}

func (d *Digest) setField(name, value string) {
	switch name {
	case "sha256new":
		d.Sha256New = value
	case "sha256":
		d.Sha256 = value
	case "sha1new":
		d.Sha1New = value
	case "sha1":
		d.Sha1 = value
	}
}

// Best returns the name and value of the first non-empty field in the
// order sha256new, sha256, sha1new, sha1, and false if the envelope is
// entirely empty.
func (d Digest) Best() (name, value string, ok bool) {
	for _, n := range bestOrder {
		if v := d.field(n); v != "" {
			return n, v, true
		}
	}
	return "", "", false
}

// Format resolves the Format corresponding to Best(). It reports false
// if the envelope is empty or its format is unregistered, so callers can
// pick their own error type (store raises storeerr.UnsupportedKindError).
func (d Digest) Format() (Format, bool) {
	name, _, ok := d.Best()
	if !ok {
		return Format{}, false
	}
	return LookupFormat(name)
}

// Identifier renders "<prefix><separator><digest>" for Best(), or "" if
// the envelope is empty or its format is unregistered.
func (d Digest) Identifier() string {
	name, value, ok := d.Best()
	if !ok {
		return ""
	}
	f, ok := LookupFormat(name)
	if !ok {
		return ""
	}
	return f.Name + f.Separator + value
}

// PartiallyEqual reports whether d and other share at least one
// non-empty, matching field.
func (d Digest) PartiallyEqual(other Digest) bool {
	for _, n := range bestOrder {
		v := d.field(n)
		if v != "" && v == other.field(n) {
			return true
		}
	}
	return false
}

// IsEmpty reports whether every field is unset.
func (d Digest) IsEmpty() bool {
	_, _, ok := d.Best()
	return !ok
}

// WithField returns a copy of d with the named format field set to
// value. Unknown format names are ignored (a no-op copy is returned).
func (d Digest) WithField(name, value string) Digest {
	cp := d
	cp.setField(name, value)
	return cp
}

// ParseIdentifier splits an implementation identifier "<prefix><sep><enc>"
// into a Digest carrying exactly that one field, using the registered
// format table to find the matching prefix+separator. Returns
// errUnknownFormat if no registered format matches.
func ParseIdentifier(identifier string) (Digest, error) {
	formatsMu.RLock()
	defer formatsMu.RUnlock()
	for name, f := range formats {
		prefixLen := len(f.Name) + len(f.Separator)
		if len(identifier) > prefixLen &&
			identifier[:len(f.Name)] == f.Name &&
			identifier[len(f.Name):prefixLen] == f.Separator {
			var d Digest
			d.setField(name, identifier[prefixLen:])
			return d, nil
		}
	}
	return Digest{}, errUnknownFormat{identifier: identifier}
}
