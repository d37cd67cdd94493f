package lockmgr

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// DefaultNamespaceURI is used for lock names given without a namespace.
const DefaultNamespaceURI = "urn:dlock:locks"

var (
	ErrInvalidQName = errors.New("invalid lock qname")
	ErrInvalidToken = errors.New("invalid lock token")
	ErrInvalidTTL   = errors.New("invalid lock ttl")
)

const (
	// MaxTokenLength is the longest lock token accepted (the size of a UUID string).
	MaxTokenLength = 36
	// MaxNamespaceURILength and MaxLocalNameLength are the column sizes of
	// the sql store, in characters. Every backend enforces them.
	MaxNamespaceURILength = 100
	MaxLocalNameLength    = 255
)

// QName is a qualified lock name: a namespace URI plus a dotted local name.
type QName struct {
	NamespaceURI string
	LocalName    string
}

// NewQName creates a QName in the given namespace.
func NewQName(namespaceURI, localName string) QName {
	return QName{NamespaceURI: namespaceURI, LocalName: localName}
}

// ParseQName parses "{uri}local" or a bare "local" (which uses DefaultNamespaceURI).
func ParseQName(s string) (QName, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "{") {
		q := NewQName(DefaultNamespaceURI, s)
		return q, q.Validate()
	}
	end := strings.IndexByte(s, '}')
	if end < 0 {
		return QName{}, fmt.Errorf("%w: missing '}' in %q", ErrInvalidQName, s)
	}
	q := NewQName(s[1:end], s[end+1:])
	return q, q.Validate()
}

// Validate checks that the qname is usable as a lock name and survives the
// "{uri}local" form unchanged.
func (q QName) Validate() error {
	if strings.ContainsRune(q.NamespaceURI, '}') {
		return fmt.Errorf("%w: '}' in namespace %q", ErrInvalidQName, q.NamespaceURI)
	}
	if n := utf8.RuneCountInString(q.NamespaceURI); n > MaxNamespaceURILength {
		return fmt.Errorf("%w: namespace has %d characters, at most %d allowed", ErrInvalidQName, n, MaxNamespaceURILength)
	}
	if q.LocalName == "" {
		return fmt.Errorf("%w: empty local name", ErrInvalidQName)
	}
	if n := utf8.RuneCountInString(q.LocalName); n > MaxLocalNameLength {
		return fmt.Errorf("%w: local name has %d characters, at most %d allowed", ErrInvalidQName, n, MaxLocalNameLength)
	}
	for _, part := range strings.Split(q.LocalName, ".") {
		if part == "" {
			return fmt.Errorf("%w: empty segment in %q", ErrInvalidQName, q.LocalName)
		}
	}
	return nil
}

// Normalize returns the qname with its local name folded to lowercase and an
// empty namespace replaced by DefaultNamespaceURI.
func (q QName) Normalize() QName {
	if q.NamespaceURI == "" {
		q.NamespaceURI = DefaultNamespaceURI
	}
	q.LocalName = strings.ToLower(q.LocalName)
	return q
}

// String returns the "{uri}local" form of the qname.
func (q QName) String() string {
	return "{" + q.NamespaceURI + "}" + q.LocalName
}
