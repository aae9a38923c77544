package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var ErrCredentialNotFound = errors.New("credential not found")

// SetCredential stores the tenant credential under token_{accountId}.
func (s *Store) SetCredential(ctx context.Context, cred Credential) error {
	if strings.TrimSpace(cred.AccountID) == "" {
		return fmt.Errorf("account id is required")
	}
	if strings.TrimSpace(cred.AccessToken) == "" {
		return fmt.Errorf("access token is required")
	}

	value, err := json.Marshal(cred)
	if err != nil {
		return fmt.Errorf("marshal credential: %w", err)
	}
	return s.setRaw(ctx, tokenKey(cred.AccountID), value)
}

// GetCredential loads the tenant credential. Besides the current object
// shape, a bare token string stored under the key is accepted and promoted
// to a Credential.
func (s *Store) GetCredential(ctx context.Context, accountID string) (Credential, error) {
	raw, err := s.getRaw(ctx, tokenKey(accountID))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Credential{}, ErrCredentialNotFound
		}
		return Credential{}, err
	}
	return decodeCredential(unwrapEnvelope(raw), accountID)
}

func (s *Store) DeleteCredential(ctx context.Context, accountID string) error {
	err := s.deleteRaw(ctx, tokenKey(accountID))
	if errors.Is(err, ErrNotFound) {
		return ErrCredentialNotFound
	}
	return err
}

func decodeCredential(raw []byte, accountID string) (Credential, error) {
	var cred Credential
	if err := json.Unmarshal(raw, &cred); err == nil && strings.TrimSpace(cred.AccessToken) != "" {
		if cred.AccountID == "" {
			cred.AccountID = accountID
		}
		return cred, nil
	}

	var token string
	if err := json.Unmarshal(raw, &token); err == nil && strings.TrimSpace(token) != "" {
		return Credential{AccessToken: token, AccountID: accountID}, nil
	}

	return Credential{}, fmt.Errorf("credential for account %s has unrecognized shape", accountID)
}
