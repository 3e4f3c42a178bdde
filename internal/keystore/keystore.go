// Package keystore persists encrypted wallet shares on disk, one file per
// wallet, organized by device and ciphersuite.
package keystore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
)

var (
	// ErrWrongPassword is returned when AEAD verification of a wallet fails.
	ErrWrongPassword = errors.New("keystore: wrong password")
	// ErrNotFound is returned when the requested wallet file does not exist.
	ErrNotFound = errors.New("keystore: wallet not found")
	// ErrCorruptFormat is returned when a wallet file does not match the schema.
	ErrCorruptFormat = errors.New("keystore: corrupt wallet file")
	// ErrLockContention is returned when another writer holds the file lock.
	ErrLockContention = errors.New("keystore: lock contention")
)

const (
	walletsDir       = "wallets"
	deviceMarkerFile = "device_id"
	indexFile        = ".index"
)

// Keystore is a per-device store of encrypted wallet share files.
//
// Layout: <root>/wallets/<device_id>/<ciphersuite_tag>/<wallet_id>.json
type Keystore struct {
	fs       afero.Fs
	root     string
	deviceID string
	clock    clock.Clock
	log      zerolog.Logger
}

// New opens (or lazily creates) a keystore rooted at root.
//
// It is idempotent: if a device marker already exists under root, its device
// id wins and the argument is ignored; otherwise deviceID is written as the
// marker. If both are empty a fresh id is minted.
func New(fs afero.Fs, root, deviceID string, clk clock.Clock, log zerolog.Logger) (*Keystore, error) {
	if clk == nil {
		clk = clock.New()
	}
	if err := fs.MkdirAll(filepath.Join(root, walletsDir), 0o700); err != nil {
		return nil, fmt.Errorf("keystore: create root: %w", err)
	}

	markerPath := filepath.Join(root, deviceMarkerFile)
	existing, err := afero.ReadFile(fs, markerPath)
	switch {
	case err == nil && len(strings.TrimSpace(string(existing))) > 0:
		deviceID = strings.TrimSpace(string(existing))
	case err == nil || os.IsNotExist(err):
		if deviceID == "" {
			deviceID = uuid.NewString()
		}
		if err := afero.WriteFile(fs, markerPath, []byte(deviceID+"\n"), 0o600); err != nil {
			return nil, fmt.Errorf("keystore: write device marker: %w", err)
		}
	default:
		return nil, fmt.Errorf("keystore: read device marker: %w", err)
	}

	k := &Keystore{
		fs:       fs,
		root:     root,
		deviceID: deviceID,
		clock:    clk,
		log:      log.With().Str("component", "keystore").Str("device", deviceID).Logger(),
	}
	return k, nil
}

// DeviceID returns the stable device identity of this store.
func (k *Keystore) DeviceID() string { return k.deviceID }

func (k *Keystore) suiteDir(suite string) string {
	return filepath.Join(k.root, walletsDir, k.deviceID, suite)
}

func (k *Keystore) walletPath(suite, walletID string) string {
	return filepath.Join(k.suiteDir(suite), walletID+".json")
}

// Save encrypts and persists a wallet record, returning its wallet id.
// A record without a WalletID gets a freshly minted uuid.
//
// The write is atomic: data goes to a temporary file which is fsynced and
// renamed over the target, so on any IO error the target is absent or intact.
// Saving the same record twice yields a single file.
func (k *Keystore) Save(record *WalletRecord, password []byte) (string, error) {
	if record.WalletID == "" {
		record.WalletID = uuid.NewString()
	}
	if record.CiphersuiteTag == "" {
		return "", fmt.Errorf("keystore: record without ciphersuite tag")
	}
	if err := k.fs.MkdirAll(k.suiteDir(record.CiphersuiteTag), 0o700); err != nil {
		return "", fmt.Errorf("keystore: create suite dir: %w", err)
	}

	path := k.walletPath(record.CiphersuiteTag, record.WalletID)
	unlock, err := k.lock(path)
	if err != nil {
		return "", err
	}
	defer unlock()

	now := k.clock.Now().UTC()
	if record.Metadata.CreatedAt.IsZero() {
		record.Metadata.CreatedAt = now
	}
	record.Metadata.LastModified = now
	record.Metadata.DeviceID = k.deviceID

	payload, err := encrypt(record.Plaintext, password, AlgorithmArgon2id)
	if err != nil {
		return "", err
	}
	file := walletFile{
		Version:   schemaVersion,
		Encrypted: true,
		Algorithm: AlgorithmArgon2id,
		Data:      payload,
		Metadata:  record.Metadata,
	}
	data, err := json.Marshal(file)
	if err != nil {
		return "", fmt.Errorf("keystore: marshal wallet: %w", err)
	}
	data = append(data, '\n')

	if err := k.writeAtomic(path, data); err != nil {
		return "", err
	}

	k.log.Info().Str("wallet", record.WalletID).Str("suite", record.CiphersuiteTag).Msg("wallet saved")
	return record.WalletID, nil
}

// Load decrypts a wallet's plaintext key material.
func (k *Keystore) Load(suite, walletID string, password []byte) (*WalletRecord, error) {
	path := k.walletPath(suite, walletID)
	data, err := afero.ReadFile(k.fs, path)
	if os.IsNotExist(err) {
		// fall back to the backup copy if the primary is gone
		data, err = afero.ReadFile(k.fs, path+".bak")
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
	}
	if err != nil {
		return nil, fmt.Errorf("keystore: read wallet: %w", err)
	}

	var file walletFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, ErrCorruptFormat
	}
	if file.Version != schemaVersion || !file.Encrypted {
		return nil, ErrCorruptFormat
	}

	plaintext, err := decrypt(file.Data, password, file.Algorithm)
	if err != nil {
		return nil, err
	}

	return &WalletRecord{
		WalletID:       walletID,
		CiphersuiteTag: suite,
		Metadata:       file.Metadata,
		Plaintext:      plaintext,
	}, nil
}

// List enumerates wallet metadata across all ciphersuite subdirectories.
// It never decrypts anything.
func (k *Keystore) List() ([]WalletInfo, error) {
	unlock, err := k.lock(filepath.Join(k.root, walletsDir, indexFile))
	if err != nil {
		return nil, err
	}
	defer unlock()

	deviceDir := filepath.Join(k.root, walletsDir, k.deviceID)
	suites, err := afero.ReadDir(k.fs, deviceDir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("keystore: list: %w", err)
	}

	var out []WalletInfo
	for _, suite := range suites {
		if !suite.IsDir() {
			continue
		}
		files, err := afero.ReadDir(k.fs, filepath.Join(deviceDir, suite.Name()))
		if err != nil {
			return nil, fmt.Errorf("keystore: list %s: %w", suite.Name(), err)
		}
		for _, f := range files {
			if f.IsDir() || !strings.HasSuffix(f.Name(), ".json") {
				continue
			}
			data, err := afero.ReadFile(k.fs, filepath.Join(deviceDir, suite.Name(), f.Name()))
			if err != nil {
				return nil, fmt.Errorf("keystore: list: %w", err)
			}
			var file walletFile
			if err := json.Unmarshal(data, &file); err != nil {
				k.log.Warn().Str("file", f.Name()).Msg("skipping unreadable wallet file")
				continue
			}
			out = append(out, WalletInfo{
				WalletID:       strings.TrimSuffix(f.Name(), ".json"),
				CiphersuiteTag: suite.Name(),
				Metadata:       file.Metadata,
			})
		}
	}
	return out, nil
}

// Delete removes a wallet file and its backup. After a nil return the files
// are gone.
func (k *Keystore) Delete(suite, walletID string) error {
	path := k.walletPath(suite, walletID)
	unlock, err := k.lock(path)
	if err != nil {
		return err
	}
	defer unlock()

	if err := k.fs.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return fmt.Errorf("keystore: delete: %w", err)
	}
	_ = k.fs.Remove(path + ".bak")
	k.log.Info().Str("wallet", walletID).Msg("wallet deleted")
	return nil
}

// writeAtomic writes data via a temporary file, fsyncs it, keeps the previous
// content as a .bak copy, renames into place, then fsyncs the directory.
func (k *Keystore) writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp := path + ".tmp"

	f, err := k.fs.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("keystore: open temp file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		_ = k.fs.Remove(tmp)
		return fmt.Errorf("keystore: write temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		_ = k.fs.Remove(tmp)
		return fmt.Errorf("keystore: sync temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = k.fs.Remove(tmp)
		return fmt.Errorf("keystore: close temp file: %w", err)
	}

	if prev, err := afero.ReadFile(k.fs, path); err == nil {
		_ = afero.WriteFile(k.fs, path+".bak", prev, 0o600)
	}

	if err := k.fs.Rename(tmp, path); err != nil {
		_ = k.fs.Remove(tmp)
		return fmt.Errorf("keystore: rename into place: %w", err)
	}

	// fsync the parent directory so the rename itself is durable; in-memory
	// filesystems don't support this and may refuse the open.
	if d, err := k.fs.Open(dir); err == nil {
		_ = d.Sync()
		_ = d.Close()
	}
	return nil
}

// lock takes an exclusive advisory lock by creating a sibling .lock file.
// The returned function releases it.
func (k *Keystore) lock(path string) (func(), error) {
	lockPath := path + ".lock"
	f, err := k.fs.OpenFile(lockPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		if os.IsExist(err) {
			return nil, ErrLockContention
		}
		return nil, fmt.Errorf("keystore: take lock: %w", err)
	}
	f.Close()
	return func() {
		_ = k.fs.Remove(lockPath)
	}, nil
}
