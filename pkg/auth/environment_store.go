package auth

import (
	"os"
	"time"
)

// tokenEnvVars are read in order; the last one is the historical name
var tokenEnvVars = []string{"MARKETCRAWL_API_TOKEN", "cs_api_token"}

// EnvironmentStore implements CredentialStore using environment variables.
// It is read-only and serves every account with the same token.
type EnvironmentStore struct{}

// NewEnvironmentStore creates a new environment-based credential store
func NewEnvironmentStore() *EnvironmentStore {
	return &EnvironmentStore{}
}

func envToken() string {
	for _, name := range tokenEnvVars {
		if v := os.Getenv(name); v != "" {
			return v
		}
	}
	return ""
}

// Store is not supported for environment variables
func (e *EnvironmentStore) Store(cred *Credential) error {
	return ErrStoreUnavailable
}

// Retrieve gets the token from the environment
func (e *EnvironmentStore) Retrieve(account string) (*Credential, error) {
	token := envToken()
	if token == "" {
		return nil, ErrCredentialsNotFound
	}
	if account == "" {
		account = DefaultAccount
	}

	return &Credential{
		Account:      account,
		Token:        token,
		LastModified: time.Now(),
	}, nil
}

// List returns a single credential if the environment carries a token
func (e *EnvironmentStore) List() ([]*Credential, error) {
	cred, err := e.Retrieve("")
	if err != nil {
		return []*Credential{}, nil
	}
	return []*Credential{cred}, nil
}

// Delete is not supported for environment variables
func (e *EnvironmentStore) Delete(account string) error {
	return ErrStoreUnavailable
}

// Exists checks if the environment carries a token
func (e *EnvironmentStore) Exists(account string) bool {
	return envToken() != ""
}
