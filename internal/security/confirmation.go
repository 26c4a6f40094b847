package security

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const DefaultLinkMaxAge = 6 * time.Hour

var (
	ErrLinkRejected     = errors.New("invalid or expired link")
	ErrMalformedLink    = fmt.Errorf("%w: malformed", ErrLinkRejected)
	ErrLinkExpired      = fmt.Errorf("%w: expired", ErrLinkRejected)
	ErrInvalidSignature = fmt.Errorf("%w: signature mismatch", ErrLinkRejected)
)

// Link is the transport form of a signed confirmation link. Identity and
// Timestamp hold the encoded path segments.
type Link struct {
	Identity  string
	Timestamp string
	Signature string
}

// Path renders the link under action, e.g. "/confirm/{identity}/{timestamp}/{signature}".
func (l Link) Path(action string) string {
	return "/" + strings.Trim(action, "/") + "/" + l.Identity + "/" + l.Timestamp + "/" + l.Signature
}

// Claims is what a valid link proves.
type Claims struct {
	Identity string
	IssuedAt time.Time
}

// LinkProtocol binds an identity and a scope to a point in time. Nothing is
// stored server side; revocation means rotating the signer key.
type LinkProtocol struct {
	signer Signer
	maxAge time.Duration
}

func NewLinkProtocol(signer Signer, maxAge time.Duration) *LinkProtocol {
	if maxAge <= 0 {
		maxAge = DefaultLinkMaxAge
	}
	return &LinkProtocol{signer: signer, maxAge: maxAge}
}

func (p *LinkProtocol) MaxAge() time.Duration { return p.maxAge }

func (p *LinkProtocol) Issue(ctx context.Context, identity string, scope []string, now time.Time) (Link, error) {
	ts := strconv.FormatInt(now.Unix(), 10)
	sig, err := p.signer.Sign(ctx, canonicalMessage(identity, scope, ts))
	if err != nil {
		return Link{}, fmt.Errorf("sign confirmation link: %w", err)
	}
	return Link{
		Identity:  EncodeSegment(identity),
		Timestamp: EncodeSegment(ts),
		Signature: EncodeBytes(sig),
	}, nil
}

// Validate checks a confirm-intent link, enforcing the max age.
func (p *LinkProtocol) Validate(ctx context.Context, link Link, scope []string, now time.Time) (Claims, error) {
	return p.validate(ctx, link, scope, now, true)
}

// ValidateWithoutExpiry checks signature only. Unsubscribe links never expire.
func (p *LinkProtocol) ValidateWithoutExpiry(ctx context.Context, link Link, scope []string) (Claims, error) {
	return p.validate(ctx, link, scope, time.Time{}, false)
}

func (p *LinkProtocol) validate(ctx context.Context, link Link, scope []string, now time.Time, enforceExpiry bool) (Claims, error) {
	identity, err := DecodeSegment(link.Identity)
	if err != nil {
		return Claims{}, ErrMalformedLink
	}
	ts, err := DecodeSegment(link.Timestamp)
	if err != nil {
		return Claims{}, ErrMalformedLink
	}
	issued, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return Claims{}, ErrMalformedLink
	}
	if enforceExpiry && now.Unix()-issued > int64(p.maxAge/time.Second) {
		return Claims{}, ErrLinkExpired
	}
	sig, err := DecodeBytes(link.Signature)
	if err != nil {
		return Claims{}, ErrInvalidSignature
	}
	ok, err := p.signer.Verify(ctx, canonicalMessage(identity, scope, ts), sig)
	if err != nil {
		return Claims{}, fmt.Errorf("verify confirmation link: %w", err)
	}
	if !ok {
		return Claims{}, ErrInvalidSignature
	}
	return Claims{Identity: identity, IssuedAt: time.Unix(issued, 0).UTC()}, nil
}

func canonicalMessage(identity string, scope []string, ts string) []byte {
	fields := make([]string, 0, len(scope)+2)
	fields = append(fields, identity)
	fields = append(fields, scope...)
	fields = append(fields, ts)
	return []byte(strings.Join(fields, ":"))
}
