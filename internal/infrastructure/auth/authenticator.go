// Package auth turns an opaque bearer credential into a domain.Identity.
package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/hilthontt/readalong/internal/domain"
	"github.com/hilthontt/readalong/internal/infrastructure/sanitize"
)

// SubprotocolBearer is offered by browser clients that cannot set headers
// on a WebSocket handshake: "Sec-WebSocket-Protocol: bearer, <token>".
const SubprotocolBearer = "bearer"

type Verifier interface {
	Verify(token string) (*domain.Identity, error)
}

type VerifierFunc func(token string) (*domain.Identity, error)

func (f VerifierFunc) Verify(token string) (*domain.Identity, error) {
	return f(token)
}

type Authenticator struct {
	verifier Verifier
}

func NewAuthenticator(verifier Verifier) *Authenticator {
	return &Authenticator{verifier: verifier}
}

func (a *Authenticator) Authenticate(ctx context.Context, credential string) (domain.Identity, error) {
	credential = strings.TrimSpace(credential)
	if scheme, rest, ok := strings.Cut(credential, " "); ok && strings.EqualFold(scheme, "bearer") {
		credential = strings.TrimSpace(rest)
	} else if strings.EqualFold(credential, "bearer") {
		credential = ""
	}
	if credential == "" {
		return domain.Identity{}, domain.ErrAuthenticationRequired
	}

	if err := ctx.Err(); err != nil {
		return domain.Identity{}, err
	}

	id, err := a.verifier.Verify(credential)
	if err != nil {
		return domain.Identity{}, err
	}
	if id == nil || id.UserID == "" {
		return domain.Identity{}, domain.ErrInvalidCredential
	}

	return domain.Identity{
		UserID:      id.UserID,
		DisplayName: sanitize.DisplayName(id.DisplayName, id.UserID),
	}, nil
}

// CredentialFromRequest looks for a token in the Authorization header, then
// the WebSocket subprotocol list, then the token query parameter.
func CredentialFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		return h
	}

	for _, proto := range websocketProtocols(r) {
		if strings.EqualFold(proto, SubprotocolBearer) {
			continue
		}
		return proto
	}

	return r.URL.Query().Get("token")
}

func websocketProtocols(r *http.Request) []string {
	var protocols []string
	offersBearer := false
	for _, h := range r.Header.Values("Sec-WebSocket-Protocol") {
		for _, p := range strings.Split(h, ",") {
			p = strings.TrimSpace(p)
			if p == "" {
				continue
			}
			if strings.EqualFold(p, SubprotocolBearer) {
				offersBearer = true
			}
			protocols = append(protocols, p)
		}
	}
	if !offersBearer {
		return nil
	}
	return protocols
}
