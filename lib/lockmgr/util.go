package lockmgr

import (
	"fmt"
	"strings"
	"time"
)

// SplitLockQName decomposes a dotted lock name into its ancestor chain, in order.
// The last element is the full name itself:
//
//	{ns}a.b.c -> [{ns}a, {ns}a.b, {ns}a.b.c]
//
// The namespace is carried over unchanged and no case folding is done here.
func SplitLockQName(qname QName) []QName {
	parts := strings.Split(qname.LocalName, ".")
	result := make([]QName, 0, len(parts))
	for i := range parts {
		result = append(result, NewQName(qname.NamespaceURI, strings.Join(parts[:i+1], ".")))
	}
	return result
}

// localNames returns the local names of the given qnames.
func localNames(qnames []QName) []string {
	names := make([]string, len(qnames))
	for i, q := range qnames {
		names[i] = q.LocalName
	}
	return names
}

// normalizeToken folds the token to lowercase and checks its length.
func normalizeToken(token string) (string, error) {
	if token == "" {
		return "", fmt.Errorf("%w: empty token", ErrInvalidToken)
	}
	if len(token) > MaxTokenLength {
		return "", fmt.Errorf("%w: token is %d chars long, at most %d allowed", ErrInvalidToken, len(token), MaxTokenLength)
	}
	return strings.ToLower(token), nil
}

func validateTTL(ttl time.Duration) error {
	if ttl < 0 {
		return fmt.Errorf("%w: %s is negative", ErrInvalidTTL, ttl)
	}
	return nil
}
