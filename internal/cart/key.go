package cart

import (
	"fmt"
	"strings"
)

// GuestUser stands in for an empty or unauthenticated user so every cart has a valid key.
const GuestUser = "guest"

// Key identifies one isolated cart: a user at a branch.
type Key struct {
	User   string
	Branch string
}

func NewKey(user, branch string) Key {
	user = strings.TrimSpace(user)
	if user == "" {
		user = GuestUser
	}
	return Key{User: user, Branch: strings.TrimSpace(branch)}
}

// ParseKey reads the "{user}:{branch}" form produced by String.
func ParseKey(raw string) (Key, error) {
	user, branch, ok := strings.Cut(strings.TrimSpace(raw), ":")
	if !ok {
		return Key{}, fmt.Errorf("cart key %q: want user:branch", raw)
	}
	return NewKey(user, branch), nil
}

func (k Key) String() string {
	return k.User + ":" + k.Branch
}

// keyPartEscaper keeps "<user>-<branch>" unambiguous when either part
// contains the separator. IDs without '-' or '%' are written unchanged.
var keyPartEscaper = strings.NewReplacer("%", "%25", "-", "%2D")

// storageSuffix is the "<user>-<branch>" tail of the session store key.
func (k Key) storageSuffix() string {
	return keyPartEscaper.Replace(k.User) + "-" + keyPartEscaper.Replace(k.Branch)
}
