// Package cat builds Common Access Tokens: CWT claims with a CATR renewal
// extension, MACed as a tagged COSE_Mac0 with HMAC-SHA256.
package cat

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/technosupport/cta-poller/internal/binding"
)

const (
	// HeaderName carries the token as a request header, a cookie, and in renewals.
	HeaderName = "CTA-Common-Access-Token"

	DefaultKeyID   = "Symmetric256"
	DefaultSubject = "user_id:asset_id:session_id"
)

// COSE / CWT constants.
const (
	tagCOSEMac0 = 17
	tagCWT      = 61

	headerAlg = 1
	headerKID = 4

	algHMAC256 = 5
)

var (
	ErrKeyDecode = errors.New("could not create byte key from hex string")
	ErrSigning   = errors.New("failed to sign token")
)

// DefaultTokenID is the cti used for every token unless overridden.
var DefaultTokenID = []byte{1, 2, 3, 4}

var encMode = func() cbor.EncMode {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("cat: cbor enc mode: %v", err))
	}
	return em
}()

type mac0 struct {
	_           struct{} `cbor:",toarray"`
	Protected   []byte
	Unprotected map[int]any
	Payload     []byte
	Tag         []byte
}

type macStructure struct {
	_           struct{} `cbor:",toarray"`
	Context     string
	Protected   []byte
	ExternalAAD []byte
	Payload     []byte
}

// Manager signs tokens with a single symmetric key.
type Manager struct {
	signingKey []byte
	issuer     string

	Subject string
	TokenID []byte
	KeyID   string

	now func() time.Time
}

// NewManager decodes keyHex into the HMAC key.
func NewManager(keyHex, issuer string) (*Manager, error) {
	key, err := hex.DecodeString(keyHex)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyDecode, err)
	}
	return &Manager{
		signingKey: key,
		issuer:     issuer,
		Subject:    DefaultSubject,
		TokenID:    append([]byte(nil), DefaultTokenID...),
		KeyID:      DefaultKeyID,
		now:        time.Now,
	}, nil
}

// WithClock replaces the time source. Mostly useful in tests.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	return m
}

// Generate returns a tagged CWT valid for 2*ttl seconds with a renewal
// deadline at ttl/2.
func (m *Manager) Generate(ttl uint64, transport binding.Transport, cookieDomain string) ([]byte, error) {
	if len(m.signingKey) == 0 {
		return nil, fmt.Errorf("%w: empty key", ErrSigning)
	}

	now := uint64(m.now().Unix())
	claims := Claims{
		Issuer:     m.issuer,
		Subject:    m.Subject,
		IssuedAt:   int64(now),
		Expiration: int64(now + 2*ttl),
		TokenID:    m.TokenID,
		Renewal:    Renewal(transport, now, ttl, cookieDomain),
	}

	payload, err := encMode.Marshal(claims)
	if err != nil {
		return nil, fmt.Errorf("%w: encode claims: %v", ErrSigning, err)
	}

	protected, err := encMode.Marshal(map[int]any{headerAlg: algHMAC256})
	if err != nil {
		return nil, fmt.Errorf("%w: encode protected header: %v", ErrSigning, err)
	}

	tag, err := m.mac(protected, payload)
	if err != nil {
		return nil, err
	}

	token := cbor.Tag{
		Number: tagCWT,
		Content: cbor.Tag{
			Number: tagCOSEMac0,
			Content: mac0{
				Protected:   protected,
				Unprotected: map[int]any{headerKID: []byte(m.KeyID)},
				Payload:     payload,
				Tag:         tag,
			},
		},
	}

	out, err := encMode.Marshal(token)
	if err != nil {
		return nil, fmt.Errorf("%w: encode token: %v", ErrSigning, err)
	}
	return out, nil
}

func (m *Manager) mac(protected, payload []byte) ([]byte, error) {
	toBeMaced, err := encMode.Marshal(macStructure{
		Context:     "MAC0",
		Protected:   protected,
		ExternalAAD: []byte{},
		Payload:     payload,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: encode MAC_structure: %v", ErrSigning, err)
	}

	h := hmac.New(sha256.New, m.signingKey)
	h.Write(toBeMaced)
	return h.Sum(nil), nil
}

// BuildToken is the one-shot form of NewManager + Generate.
func BuildToken(keyHex string, ttl uint64, transport binding.Transport, cookieDomain, issuer string) ([]byte, error) {
	m, err := NewManager(keyHex, issuer)
	if err != nil {
		return nil, err
	}
	return m.Generate(ttl, transport, cookieDomain)
}

// EncodeText is the form placed in headers, cookies and query strings.
func EncodeText(token []byte) string {
	return base64.RawURLEncoding.EncodeToString(token)
}
