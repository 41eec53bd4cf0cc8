package engine

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"caseline/internal/domain"
	"caseline/internal/engine/auth"
	"caseline/internal/repo"
)

const apiKeyPrefix = "cl_"

type APIKeyCreateOptions struct {
	ActorName string
	ActorRole string
	Name      string
	Actor     domain.Actor
}

// CreateAPIKey issues a key bound to an actor and role. Only the hash is
// stored; the plaintext is returned once.
func (e Engine) CreateAPIKey(ctx context.Context, opts APIKeyCreateOptions) (domain.APIKey, string, error) {
	if err := e.Policy.Require(opts.Actor, auth.PermAPIKeyCreate); err != nil {
		return domain.APIKey{}, "", err
	}
	name := strings.TrimSpace(opts.ActorName)
	role := strings.TrimSpace(opts.ActorRole)
	if name == "" || role == "" {
		return domain.APIKey{}, "", invalidInput("actor name and role are required")
	}
	if e.Config != nil {
		if _, ok := e.Config.RBAC.Roles[role]; !ok {
			return domain.APIKey{}, "", invalidInput("unknown role %q", role)
		}
	}
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return domain.APIKey{}, "", &PersistenceError{Op: "create api key", Err: err}
	}
	plain := apiKeyPrefix + hex.EncodeToString(buf)
	key := domain.APIKey{
		ID:        uuid.NewString(),
		ActorName: name,
		ActorRole: role,
		Name:      strings.TrimSpace(opts.Name),
		KeyHash:   repo.HashAPIKey(plain),
		CreatedAt: domain.FormatTime(e.now()),
	}
	if err := e.Repo.InsertAPIKey(ctx, key); err != nil {
		return domain.APIKey{}, "", classify("create api key", err)
	}
	e.log().Info("api key created", "key_id", key.ID, "actor", name, "role", role, "by", opts.Actor.Name)
	return key, plain, nil
}

func (e Engine) RevokeAPIKey(ctx context.Context, id string, actor domain.Actor) error {
	if err := e.Policy.Require(actor, auth.PermAPIKeyCreate); err != nil {
		return err
	}
	err := e.Repo.DeleteAPIKey(ctx, id)
	if errors.Is(err, repo.ErrNotFound) {
		return fmt.Errorf("api key %w", repo.ErrNotFound)
	}
	return classify("revoke api key", err)
}
