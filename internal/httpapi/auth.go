package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"

	"posadmin/backend/internal/cart"
)

const branchHeader = "X-Branch-ID"

// roleAdmin may act on any branch regardless of the token's branch claim.
const roleAdmin = "admin"

var (
	errMissingToken   = errors.New("missing bearer token")
	errInvalidToken   = errors.New("invalid or expired token")
	errBranchOverride = errors.New("token is scoped to another branch")
	errInvalidBranch  = errors.New("branch id must be at most 32 letters or digits")
)

// Identity is who a request acts for. Requests without a token act as the
// guest user and are not Authenticated.
type Identity struct {
	User          string
	Branch        string
	Role          string
	Authenticated bool
}

// IdentityResolver verifies bearer tokens issued by the login service. It
// never issues tokens to end users itself.
type IdentityResolver struct {
	secret []byte
	issuer string
}

type identityClaims struct {
	jwtlib.RegisteredClaims
	Branch string `json:"branch,omitempty"`
	Role   string `json:"role,omitempty"`
}

func NewIdentityResolver(secret string) *IdentityResolver {
	if secret == "" {
		secret = "dev-change-me"
	}
	return &IdentityResolver{secret: []byte(secret), issuer: "posadmin"}
}

// Resolve reads the identity from the Authorization header. The branch header
// picks the branch for guests and for tokens without a branch claim; a token
// scoped to a branch may only name that branch unless it carries the admin
// role. A malformed or unverifiable token is an error rather than a silent
// fallback to guest.
func (a *IdentityResolver) Resolve(r *http.Request) (Identity, error) {
	identity := Identity{User: cart.GuestUser}

	authorization := strings.TrimSpace(r.Header.Get("Authorization"))
	if authorization != "" {
		if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
			return Identity{}, errMissingToken
		}
		parsed, err := a.ParseToken(strings.TrimSpace(authorization[len("Bearer "):]))
		if err != nil {
			return Identity{}, err
		}
		identity = parsed
	}

	if branch := strings.TrimSpace(r.Header.Get(branchHeader)); branch != "" {
		if identity.Branch != "" && branch != identity.Branch && identity.Role != roleAdmin {
			return Identity{}, errBranchOverride
		}
		identity.Branch = branch
	}
	return identity, nil
}

func (a *IdentityResolver) ParseToken(tokenStr string) (Identity, error) {
	claims := &identityClaims{}
	token, err := jwtlib.ParseWithClaims(tokenStr, claims, func(t *jwtlib.Token) (any, error) {
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	}, jwtlib.WithValidMethods([]string{"HS256"}), jwtlib.WithIssuer(a.issuer))
	if err != nil || !token.Valid {
		return Identity{}, errInvalidToken
	}
	sub, err := claims.GetSubject()
	if err != nil || strings.TrimSpace(sub) == "" {
		return Identity{}, errors.New("invalid token subject")
	}
	return Identity{
		User:          strings.TrimSpace(sub),
		Branch:        strings.TrimSpace(claims.Branch),
		Role:          claims.Role,
		Authenticated: true,
	}, nil
}

// Sign issues a token for the given identity. Used by operator tooling and
// tests; the HTTP surface has no login endpoint.
func (a *IdentityResolver) Sign(user, branch, role string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = 8 * time.Hour
	}
	now := time.Now().UTC()
	claims := identityClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   user,
			IssuedAt:  jwtlib.NewNumericDate(now),
			ExpiresAt: jwtlib.NewNumericDate(now.Add(ttl)),
			Issuer:    a.issuer,
		},
		Branch: branch,
		Role:   role,
	}
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

type identityKey struct{}

func withIdentity(ctx context.Context, identity Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, identity)
}

func identityFromContext(ctx context.Context) Identity {
	identity, ok := ctx.Value(identityKey{}).(Identity)
	if !ok {
		return Identity{User: cart.GuestUser}
	}
	return identity
}

func isRoleAllowed(role string, allowed []string) bool {
	for _, allow := range allowed {
		if role == allow {
			return true
		}
	}
	return false
}
