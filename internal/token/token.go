package token

import (
	"errors"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const releaseTTL = 2 * time.Minute

var (
	ErrInvalidToken = errors.New("invalid release token")
	ErrTokenUsed    = errors.New("release token already used")
)

// Claims describe one released download.
type Claims struct {
	jwt.RegisteredClaims
	SessionID string `json:"sid"`
	URL       string `json:"url"`
	Filename  string `json:"filename"`
}

// Manager mints and redeems one-shot release tokens. A token survives the
// redirect from the gate page to /download/{token} and nothing else.
type Manager struct {
	secret   []byte
	mu       sync.Mutex
	redeemed map[string]time.Time
}

func NewManager(secret []byte) *Manager {
	return &Manager{secret: secret, redeemed: make(map[string]time.Time)}
}

func (m *Manager) Issue(sessionID, downloadURL, filename string) (string, error) {
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(releaseTTL)),
		},
		SessionID: sessionID,
		URL:       downloadURL,
		Filename:  filename,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
}

// Redeem validates the token and burns it. The second redeem of the same
// token fails, so a reload of the release URL cannot re-trigger a download.
func (m *Manager) Redeem(tokenString string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return m.secret, nil
	})
	if err != nil {
		return nil, err
	}
	if !parsed.Valid || claims.ID == "" {
		return nil, ErrInvalidToken
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, used := m.redeemed[claims.ID]; used {
		return nil, ErrTokenUsed
	}
	m.redeemed[claims.ID] = time.Now()
	m.gcLocked()
	return claims, nil
}

// gcLocked drops burn records that have outlived their token's validity.
func (m *Manager) gcLocked() {
	cutoff := time.Now().Add(-2 * releaseTTL)
	for id, at := range m.redeemed {
		if at.Before(cutoff) {
			delete(m.redeemed, id)
		}
	}
}
