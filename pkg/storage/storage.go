// Package storage provides the on-disk face template store.
// One record per enrolled name, encrypted at rest using NaCl secretbox.
package storage

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/nacl/secretbox"

	"github.com/facegate/facegate/pkg/logging"
	"github.com/facegate/facegate/pkg/recognition"
)

const (
	// NonceSize is the size of the nonce used for encryption
	NonceSize = 24
	// KeySize is the size of the encryption key
	KeySize = 32
)

// TemplateRecord contains all stored face data for one enrolled name.
type TemplateRecord struct {
	Name       string                  `json:"name"`
	Embeddings []recognition.Embedding `json:"embeddings"`
	EnrolledAt time.Time               `json:"enrolled_at"`
	LastUsed   time.Time               `json:"last_used"`
	Metadata   map[string]string       `json:"metadata"`
}

// ErrUserNotFound is returned when the name is not enrolled.
var ErrUserNotFound = errors.New("user not found")

// ErrDuplicateName is returned when registering an already-enrolled name.
var ErrDuplicateName = errors.New("name already registered")

// ErrEncryption is returned when encryption/decryption fails.
var ErrEncryption = errors.New("encryption error")

// FileStorage is a file-based template store. Lookups run concurrently;
// writes are serialized through a single-writer critical section so two
// registrations can never race on the same name.
type FileStorage struct {
	dataDir           string
	encryptionEnabled bool
	encryptionKey     [KeySize]byte
	mu                sync.RWMutex
}

// NewFileStorage creates a new FileStorage instance.
func NewFileStorage(dataDir string, encryptionEnabled bool) (*FileStorage, error) {
	fs := &FileStorage{
		dataDir:           dataDir,
		encryptionEnabled: encryptionEnabled,
	}

	// Derive encryption key from machine-specific information
	if encryptionEnabled {
		key, err := deriveKey()
		if err != nil {
			return nil, fmt.Errorf("failed to derive encryption key: %w", err)
		}
		fs.encryptionKey = key
	}

	usersDir := filepath.Join(dataDir, "users")
	if err := os.MkdirAll(usersDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create users directory: %w", err)
	}

	return fs, nil
}

// deriveKey derives an encryption key from machine-specific information.
// This ties the encrypted data to this specific machine.
func deriveKey() ([KeySize]byte, error) {
	var key [KeySize]byte

	var identity strings.Builder

	// Machine ID (Linux specific)
	if machineID, err := os.ReadFile("/etc/machine-id"); err == nil {
		identity.Write(machineID)
	}

	if hostname, err := os.Hostname(); err == nil {
		identity.WriteString(hostname)
	}

	identity.WriteString(fmt.Sprintf("%d", os.Getuid()))

	// Add a constant salt for additional security
	identity.WriteString("facegate-v1-salt")

	hash := sha256.Sum256([]byte(identity.String()))
	copy(key[:], hash[:])

	return key, nil
}

// recordPath returns the file path for a name's template record.
func (fs *FileStorage) recordPath(name string) string {
	filename := name + ".json"
	if fs.encryptionEnabled {
		filename = name + ".enc"
	}
	return filepath.Join(fs.dataDir, "users", filename)
}

// Append registers a new name with its first embedding. It fails with
// ErrDuplicateName when the name is already enrolled; the existence
// check runs inside the write lock, so concurrent registrations of one
// name produce exactly one success.
func (fs *FileStorage) Append(name string, embedding recognition.Embedding) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if fs.exists(name) {
		return ErrDuplicateName
	}

	record := TemplateRecord{
		Name:       name,
		Embeddings: []recognition.Embedding{embedding},
		EnrolledAt: time.Now(),
		LastUsed:   time.Now(),
		Metadata:   make(map[string]string),
	}

	if err := fs.saveRecord(record); err != nil {
		return err
	}

	logging.Infof("Registered face template for: %s", name)
	return nil
}

// AddEmbedding appends another embedding to an already-enrolled name,
// for multi-angle enrollment. Fails with ErrUserNotFound when the name
// is not registered.
func (fs *FileStorage) AddEmbedding(name string, embedding recognition.Embedding) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	record, err := fs.loadRecord(name)
	if err != nil {
		return err
	}

	record.Embeddings = append(record.Embeddings, embedding)
	record.LastUsed = time.Now()

	return fs.saveRecord(*record)
}

// LookupAll returns every stored template for login comparisons.
// Records that fail to load are skipped with a warning rather than
// failing the whole lookup.
func (fs *FileStorage) LookupAll() ([]recognition.NamedTemplate, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	names, err := fs.list()
	if err != nil {
		return nil, err
	}

	templates := make([]recognition.NamedTemplate, 0, len(names))
	for _, name := range names {
		record, err := fs.loadRecord(name)
		if err != nil {
			logging.Warnf("Skipping unreadable template for %s: %v", name, err)
			continue
		}

		vectors := make([]recognition.Descriptor, len(record.Embeddings))
		for i, emb := range record.Embeddings {
			vectors[i] = emb.Vector
		}
		templates = append(templates, recognition.NamedTemplate{
			Name:       record.Name,
			Embeddings: vectors,
		})
	}

	return templates, nil
}

// Get loads the template record for a name.
func (fs *FileStorage) Get(name string) (*TemplateRecord, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	return fs.loadRecord(name)
}

// List returns all enrolled names.
func (fs *FileStorage) List() ([]string, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	return fs.list()
}

// Exists checks if a name is enrolled.
func (fs *FileStorage) Exists(name string) bool {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	return fs.exists(name)
}

// Remove deletes the template record for a name.
func (fs *FileStorage) Remove(name string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if err := os.Remove(fs.recordPath(name)); err != nil {
		if os.IsNotExist(err) {
			return ErrUserNotFound
		}
		return fmt.Errorf("failed to delete template: %w", err)
	}

	logging.Infof("Deleted face template for: %s", name)
	return nil
}

// UpdateLastUsed updates the last used timestamp for a name.
func (fs *FileStorage) UpdateLastUsed(name string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	record, err := fs.loadRecord(name)
	if err != nil {
		return err
	}

	record.LastUsed = time.Now()
	return fs.saveRecord(*record)
}

// saveRecord writes a record through a temp file and rename so a crash
// mid-write cannot corrupt the stored template.
func (fs *FileStorage) saveRecord(record TemplateRecord) error {
	path := fs.recordPath(record.Name)

	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal template: %w", err)
	}

	if fs.encryptionEnabled {
		data, err = fs.encrypt(data)
		if err != nil {
			return fmt.Errorf("failed to encrypt template: %w", err)
		}
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write template: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to commit template: %w", err)
	}

	logging.Debugf("Saved face template for: %s", record.Name)
	return nil
}

// loadRecord reads and decodes the record for a name.
func (fs *FileStorage) loadRecord(name string) (*TemplateRecord, error) {
	data, err := os.ReadFile(fs.recordPath(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to read template: %w", err)
	}

	if fs.encryptionEnabled {
		data, err = fs.decrypt(data)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt template: %w", err)
		}
	}

	var record TemplateRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal template: %w", err)
	}

	return &record, nil
}

// list returns enrolled names without taking the lock.
func (fs *FileStorage) list() ([]string, error) {
	usersDir := filepath.Join(fs.dataDir, "users")

	entries, err := os.ReadDir(usersDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		name := entry.Name()

		// Handle both encrypted and unencrypted files
		if strings.HasSuffix(name, ".json") {
			names = append(names, strings.TrimSuffix(name, ".json"))
		} else if strings.HasSuffix(name, ".enc") {
			names = append(names, strings.TrimSuffix(name, ".enc"))
		}
	}

	return names, nil
}

// exists checks enrollment without taking the lock.
func (fs *FileStorage) exists(name string) bool {
	_, err := os.Stat(fs.recordPath(name))
	return err == nil
}

// encrypt encrypts data using NaCl secretbox.
func (fs *FileStorage) encrypt(plaintext []byte) ([]byte, error) {
	var nonce [NonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, err
	}

	encrypted := secretbox.Seal(nonce[:], plaintext, &nonce, &fs.encryptionKey)
	return encrypted, nil
}

// decrypt decrypts data using NaCl secretbox.
func (fs *FileStorage) decrypt(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < NonceSize {
		return nil, ErrEncryption
	}

	var nonce [NonceSize]byte
	copy(nonce[:], ciphertext[:NonceSize])

	plaintext, ok := secretbox.Open(nil, ciphertext[NonceSize:], &nonce, &fs.encryptionKey)
	if !ok {
		return nil, ErrEncryption
	}

	return plaintext, nil
}
