package keyring

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/crypto/hkdf"

	"github.com/yllada/nm-openvpn/common"
)

// fileStore keeps entries in an AES-GCM encrypted JSON file.
type fileStore struct {
	path string
	key  []byte

	mu      sync.Mutex
	entries map[string]string
}

func newFileStore(path string) (*fileStore, error) {
	if err := common.EnsureDir(filepath.Dir(path)); err != nil {
		return nil, err
	}
	key, err := deriveKey(machineSecret())
	if err != nil {
		return nil, err
	}

	fs := &fileStore{path: path, key: key, entries: make(map[string]string)}
	if err := fs.load(); err != nil {
		return nil, err
	}
	return fs, nil
}

// machineSecret is the input keying material for the file key.
func machineSecret() []byte {
	hostname, _ := os.Hostname()
	return fmt.Appendf(nil, "%s-%s-%d", hostname, machineID(), os.Getuid())
}

func machineID() string {
	for _, path := range []string{"/etc/machine-id", "/var/lib/dbus/machine-id"} {
		if data, err := os.ReadFile(path); err == nil {
			return strings.TrimSpace(string(data))
		}
	}
	return "default-machine-id"
}

func deriveKey(secret []byte) ([]byte, error) {
	r := hkdf.New(sha256.New, secret, []byte(serviceName), []byte("credential file key"))
	key := make([]byte, 32)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, err
	}
	return key, nil
}

func (fs *fileStore) load() error {
	data, err := os.ReadFile(fs.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}

	plain, err := fs.decrypt(data)
	if err != nil {
		return fmt.Errorf("%w: %w", common.ErrDecryption, err)
	}
	return json.Unmarshal(plain, &fs.entries)
}

// save writes the entries. Caller must hold fs.mu.
func (fs *fileStore) save() error {
	data, err := json.Marshal(fs.entries)
	if err != nil {
		return err
	}
	encrypted, err := fs.encrypt(data)
	if err != nil {
		return err
	}
	return os.WriteFile(fs.path, encrypted, 0600)
}

func (fs *fileStore) get(account string) (string, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	value, ok := fs.entries[account]
	if !ok {
		return "", common.ErrCredentialsNotFound
	}
	return value, nil
}

func (fs *fileStore) set(account, value string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.entries[account] = value
	return fs.save()
}

func (fs *fileStore) delete(account string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	delete(fs.entries, account)
	return fs.save()
}

func (fs *fileStore) gcm() (cipher.AEAD, error) {
	block, err := aes.NewCipher(fs.key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

func (fs *fileStore) encrypt(plaintext []byte) ([]byte, error) {
	gcm, err := fs.gcm()
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}

	ciphertext := gcm.Seal(nonce, nonce, plaintext, nil)
	return []byte(base64.StdEncoding.EncodeToString(ciphertext)), nil
}

func (fs *fileStore) decrypt(data []byte) ([]byte, error) {
	ciphertext, err := base64.StdEncoding.DecodeString(string(data))
	if err != nil {
		return nil, err
	}

	gcm, err := fs.gcm()
	if err != nil {
		return nil, err
	}
	if len(ciphertext) < gcm.NonceSize() {
		return nil, errors.New("ciphertext too short")
	}

	nonce, ciphertext := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]
	return gcm.Open(nil, nonce, ciphertext, nil)
}
