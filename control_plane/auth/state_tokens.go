package auth

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/go-chi/jwtauth/v5"
	"github.com/google/uuid"
)

const projectIdKey = "project_id"

// StateTokens mints and resolves the opaque state tokens carried through the
// provider's app installation flow. The token is a signed claim holding the
// project id, so a tampered or expired state never resolves to a project.
type StateTokens struct {
	auth *jwtauth.JWTAuth
}

func NewStateTokens(secret []byte) *StateTokens {
	return &StateTokens{auth: jwtauth.New("HS256", secret, nil)}
}

func (m *StateTokens) Mint(projectId uuid.UUID) (string, error) {
	claims := map[string]interface{}{
		projectIdKey: projectId.String(),
		"exp":        time.Now().Add(time.Hour),
	}
	_, token, err := m.auth.Encode(claims)
	if err != nil {
		slog.Error("error generating state token", "error", err)
		return "", fmt.Errorf("error generating state token: %w", err)
	}
	return token, nil
}

func (m *StateTokens) Resolve(state string) (uuid.UUID, error) {
	token, err := jwtauth.VerifyToken(m.auth, state)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid state token: %w", err)
	}

	valueUncasted, ok := token.Get(projectIdKey)
	if !ok {
		return uuid.Nil, fmt.Errorf("invalid state token: missing %v claim", projectIdKey)
	}

	value, ok := valueUncasted.(string)
	if !ok {
		return uuid.Nil, fmt.Errorf("invalid state token: %v claim has invalid type", projectIdKey)
	}

	id, err := uuid.Parse(value)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid project id '%v' in state token: %w", value, err)
	}

	return id, nil
}
