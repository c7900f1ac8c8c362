// Package keyring provides secure credential storage.
// It uses the system keyring when available, falling back to
// encrypted local file storage when not.
package keyring

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/zalando/go-keyring"

	"github.com/yllada/nm-openvpn/common"
)

const (
	// serviceName is the identifier used in the system keyring.
	serviceName = "nm-openvpn"
	// defaultAccount is the keyring entry holding the VPN credentials.
	defaultAccount = "openvpn-credentials"
	probeAccount   = "nm-openvpn-probe"
)

// PromptFunc asks the user for credentials.
type PromptFunc func(ctx context.Context) (username, password string, err error)

// Options configure a Store.
type Options struct {
	// Account names the entry; empty uses the default.
	Account string
	// FallbackFile is the encrypted file used when no system keyring is
	// reachable. Empty uses the credentials file in the config directory.
	FallbackFile string
	// Prompt is called when nothing is stored. Prompted credentials are
	// saved for next time.
	Prompt PromptFunc
	Logger common.Logger
}

type credential struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Store keeps the OpenVPN username and password.
type Store struct {
	account  string
	fallback string
	prompt   PromptFunc
	logger   common.Logger

	mu          sync.Mutex
	initialized bool
	file        *fileStore
	cached      *credential
}

// New creates a store. The backend is chosen on first use.
func New(opts Options) *Store {
	if opts.Account == "" {
		opts.Account = defaultAccount
	}
	if opts.Logger == nil {
		opts.Logger = common.GetLogger()
	}
	return &Store{
		account:  opts.Account,
		fallback: opts.FallbackFile,
		prompt:   opts.Prompt,
		logger:   opts.Logger,
	}
}

// initBackend picks the system keyring if a test write succeeds.
// Caller must hold s.mu.
func (s *Store) initBackend() error {
	if s.initialized {
		return nil
	}

	if err := keyring.Set(serviceName, probeAccount, "test"); err == nil {
		_ = keyring.Delete(serviceName, probeAccount)
		s.initialized = true
		return nil
	}

	s.logger.Warn("System keyring unavailable, using encrypted file storage")
	path := s.fallback
	if path == "" {
		dir, err := common.GetConfigDir()
		if err != nil {
			return err
		}
		path = filepath.Join(dir, common.CredentialsFileName)
	}
	file, err := newFileStore(path)
	if err != nil {
		return err
	}
	s.file = file
	s.initialized = true
	return nil
}

// UsesFile reports whether credentials live in the encrypted file.
func (s *Store) UsesFile() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.initBackend(); err != nil {
		return false
	}
	return s.file != nil
}

// Save stores the credentials.
func (s *Store) Save(username, password string) error {
	if username == "" {
		return errors.New("username cannot be empty")
	}
	if password == "" {
		return errors.New("password cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.initBackend(); err != nil {
		return fmt.Errorf("%w: %w", common.ErrCredentialStorage, err)
	}

	cred := &credential{Username: username, Password: password}
	data, err := json.Marshal(cred)
	if err != nil {
		return err
	}

	if s.file != nil {
		err = s.file.set(s.account, string(data))
	} else {
		err = keyring.Set(serviceName, s.account, string(data))
	}
	if err != nil {
		return fmt.Errorf("%w: %w", common.ErrCredentialStorage, err)
	}
	s.cached = cred
	return nil
}

// load reads the stored credentials. Caller must hold s.mu.
func (s *Store) load() (*credential, error) {
	if err := s.initBackend(); err != nil {
		return nil, err
	}

	var (
		raw string
		err error
	)
	if s.file != nil {
		raw, err = s.file.get(s.account)
	} else {
		raw, err = keyring.Get(serviceName, s.account)
		if errors.Is(err, keyring.ErrNotFound) {
			err = common.ErrCredentialsNotFound
		}
	}
	if err != nil {
		return nil, err
	}

	var cred credential
	if err := json.Unmarshal([]byte(raw), &cred); err != nil {
		return nil, fmt.Errorf("%w: corrupt keyring entry: %w", common.ErrCredentialsNotFound, err)
	}
	return &cred, nil
}

// UserPass returns the stored credentials. A cached copy is used unless
// forceFetch is set. When nothing is stored and a prompt is configured, the
// user is asked and the answer is saved.
func (s *Store) UserPass(ctx context.Context, forceFetch bool) (string, string, error) {
	if err := ctx.Err(); err != nil {
		return "", "", err
	}

	s.mu.Lock()
	if s.cached != nil && !forceFetch {
		cred := *s.cached
		s.mu.Unlock()
		return cred.Username, cred.Password, nil
	}
	cred, err := s.load()
	if err == nil {
		s.cached = cred
	}
	s.mu.Unlock()

	if err == nil {
		return cred.Username, cred.Password, nil
	}
	if !errors.Is(err, common.ErrCredentialsNotFound) || s.prompt == nil {
		return "", "", err
	}

	username, password, err := s.prompt(ctx)
	if err != nil {
		return "", "", err
	}
	if err := s.Save(username, password); err != nil {
		s.logger.Warn("Could not save prompted credentials: %v", err)
	}
	return username, password, nil
}

// Delete removes the stored credentials.
func (s *Store) Delete() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.initBackend(); err != nil {
		return err
	}

	s.cached = nil
	if s.file != nil {
		return s.file.delete(s.account)
	}
	if err := keyring.Delete(serviceName, s.account); err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return err
	}
	return nil
}

// Exists reports whether credentials are stored.
func (s *Store) Exists() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.load()
	return err == nil
}
