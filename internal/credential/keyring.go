package credential

import (
	"errors"
	"fmt"

	"github.com/99designs/keyring"

	"github.com/nhle/approval-watcher/internal/model"
)

const serviceName = "approval-watcher"

// APITokenKey is the keyring entry holding the workflow API bearer token.
const APITokenKey = "api-token"

// MailboxKey returns the keyring entry holding the IMAP password for user.
func MailboxKey(username string) string {
	return "imap-" + username
}

// opener is swapped in tests.
var opener = openKeyring

// openKeyring returns a configured keyring instance.
func openKeyring() (keyring.Keyring, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: serviceName,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  "~/.config/approval-watcher/credentials",
		FilePasswordFunc:         keyring.FixedStringPrompt("approval-watcher-file-key"),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return ring, nil
}

// Get retrieves a credential value by key from the system keyring.
func Get(key string) (string, error) {
	ring, err := opener()
	if err != nil {
		return "", err
	}

	item, err := ring.Get(key)
	if err != nil {
		return "", fmt.Errorf("getting credential %q: %w", key, err)
	}

	return string(item.Data), nil
}

// Set stores a credential value by key in the system keyring.
func Set(key string, value string) error {
	ring, err := opener()
	if err != nil {
		return err
	}

	err = ring.Set(keyring.Item{
		Key:   key,
		Data:  []byte(value),
		Label: serviceName + " " + key,
	})
	if err != nil {
		return fmt.Errorf("setting credential %q: %w", key, err)
	}

	return nil
}

// Delete removes a credential by key from the system keyring.
func Delete(key string) error {
	ring, err := opener()
	if err != nil {
		return err
	}

	err = ring.Remove(key)
	if err != nil {
		return fmt.Errorf("deleting credential %q: %w", key, err)
	}

	return nil
}

// ResolveSecrets fills empty secrets in cfg from the keyring. Secrets
// already provided by file or environment win. A missing keyring entry is
// not an error; Validate reports what is still unset.
func ResolveSecrets(cfg *model.AppConfig) error {
	if !cfg.IMAP.Password.IsSet() && cfg.IMAP.Username != "" {
		v, err := Get(MailboxKey(cfg.IMAP.Username))
		switch {
		case err == nil:
			cfg.IMAP.Password = model.Secret(v)
		case !errors.Is(err, keyring.ErrKeyNotFound):
			return err
		}
	}

	if !cfg.API.Token.IsSet() {
		v, err := Get(APITokenKey)
		switch {
		case err == nil:
			cfg.API.Token = model.Secret(v)
		case !errors.Is(err, keyring.ErrKeyNotFound):
			return err
		}
	}

	return nil
}
