package auth

import (
	"fmt"

	"golang.org/x/oauth2"

	"github.com/canvastodo/card-server-go/internal/config"
	"github.com/canvastodo/card-server-go/internal/util"
)

// PKCE holds the secrets of one login attempt.
type PKCE struct {
	Verifier  string
	Challenge string
	State     string
}

func NewPKCE() (*PKCE, error) {
	verifier, err := util.RandomString(config.CodeVerifierLength, util.UnreservedCharset)
	if err != nil {
		return nil, fmt.Errorf("generate code verifier: %w", err)
	}
	state, err := util.RandomString(config.StateLength, util.UnreservedCharset)
	if err != nil {
		return nil, fmt.Errorf("generate state: %w", err)
	}
	return &PKCE{
		Verifier:  verifier,
		Challenge: oauth2.S256ChallengeFromVerifier(verifier),
		State:     state,
	}, nil
}
