package keystore

import (
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*Keystore, afero.Fs, *clock.Mock) {
	t.Helper()
	fs := afero.NewMemMapFs()
	clk := clock.NewMock()
	clk.Set(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))
	k, err := New(fs, "/data", "device-a", clk, zerolog.Nop())
	require.NoError(t, err)
	return k, fs, clk
}

func testRecord() *WalletRecord {
	return &WalletRecord{
		CiphersuiteTag: "secp256k1",
		Metadata: Metadata{
			SessionID:         "session-1",
			CurveType:         "secp256k1",
			Threshold:         2,
			TotalParticipants: 3,
			ParticipantIndex:  1,
			GroupPublicKey:    "02deadbeef",
		},
		Plaintext: []byte(`{"private_share":"super secret"}`),
	}
}

func TestKeystoreSaveLoadRoundTrip(t *testing.T) {
	k, _, _ := newTestStore(t)

	id, err := k.Save(testRecord(), []byte("correct horse"))
	require.NoError(t, err)
	require.NotEmpty(t, id)

	loaded, err := k.Load("secp256k1", id, []byte("correct horse"))
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"private_share":"super secret"}`), loaded.Plaintext)
	assert.Equal(t, "device-a", loaded.Metadata.DeviceID)
	assert.Equal(t, "session-1", loaded.Metadata.SessionID)
}

func TestKeystoreWrongPassword(t *testing.T) {
	k, _, _ := newTestStore(t)

	id, err := k.Save(testRecord(), []byte("correct horse"))
	require.NoError(t, err)

	_, err = k.Load("secp256k1", id, []byte("battery staple"))
	require.ErrorIs(t, err, ErrWrongPassword)

	// the file is untouched, the right password still works
	loaded, err := k.Load("secp256k1", id, []byte("correct horse"))
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"private_share":"super secret"}`), loaded.Plaintext)
}

func TestKeystoreSaveIdempotent(t *testing.T) {
	k, fs, clk := newTestStore(t)

	rec := testRecord()
	id, err := k.Save(rec, []byte("pw"))
	require.NoError(t, err)

	clk.Add(time.Hour)
	id2, err := k.Save(rec, []byte("pw"))
	require.NoError(t, err)
	assert.Equal(t, id, id2)

	files, err := afero.ReadDir(fs, "/data/wallets/device-a/secp256k1")
	require.NoError(t, err)
	var jsonFiles int
	for _, f := range files {
		if filepath.Ext(f.Name()) == ".json" {
			jsonFiles++
		}
	}
	assert.Equal(t, 1, jsonFiles, "saving the same record twice must yield one wallet file")

	loaded, err := k.Load("secp256k1", id, []byte("pw"))
	require.NoError(t, err)
	assert.True(t, loaded.Metadata.LastModified.After(loaded.Metadata.CreatedAt))
}

func TestKeystoreListWithoutPassword(t *testing.T) {
	k, _, _ := newTestStore(t)

	rec := testRecord()
	id, err := k.Save(rec, []byte("pw"))
	require.NoError(t, err)

	ed := testRecord()
	ed.CiphersuiteTag = "ed25519"
	ed.Metadata.CurveType = "ed25519"
	idEd, err := k.Save(ed, []byte("other pw"))
	require.NoError(t, err)

	infos, err := k.List()
	require.NoError(t, err)
	require.Len(t, infos, 2)

	byID := map[string]WalletInfo{}
	for _, info := range infos {
		byID[info.WalletID] = info
	}
	require.Contains(t, byID, id)
	require.Contains(t, byID, idEd)
	assert.Equal(t, "secp256k1", byID[id].CiphersuiteTag)
	assert.Equal(t, "ed25519", byID[idEd].CiphersuiteTag)
	assert.Equal(t, "02deadbeef", byID[id].Metadata.GroupPublicKey)
}

func TestKeystoreDelete(t *testing.T) {
	k, _, _ := newTestStore(t)

	id, err := k.Save(testRecord(), []byte("pw"))
	require.NoError(t, err)

	require.NoError(t, k.Delete("secp256k1", id))
	_, err = k.Load("secp256k1", id, []byte("pw"))
	require.ErrorIs(t, err, ErrNotFound)

	require.ErrorIs(t, k.Delete("secp256k1", id), ErrNotFound)
}

func TestKeystoreLoadMissing(t *testing.T) {
	k, _, _ := newTestStore(t)
	_, err := k.Load("secp256k1", "no-such-wallet", []byte("pw"))
	require.ErrorIs(t, err, ErrNotFound)
}

func TestKeystoreCorruptFile(t *testing.T) {
	k, fs, _ := newTestStore(t)

	id, err := k.Save(testRecord(), []byte("pw"))
	require.NoError(t, err)
	path := k.walletPath("secp256k1", id)

	require.NoError(t, afero.WriteFile(fs, path, []byte("not json at all"), 0o600))
	// the backup of the original write does not exist, so the corrupt
	// primary is what gets parsed
	_ = fs.Remove(path + ".bak")
	_, err = k.Load("secp256k1", id, []byte("pw"))
	require.ErrorIs(t, err, ErrCorruptFormat)

	require.NoError(t, afero.WriteFile(fs, path, []byte(`{"version":"9.9","encrypted":true}`+"\n"), 0o600))
	_, err = k.Load("secp256k1", id, []byte("pw"))
	require.ErrorIs(t, err, ErrCorruptFormat)
}

func TestKeystoreBackupFallback(t *testing.T) {
	k, fs, _ := newTestStore(t)

	rec := testRecord()
	id, err := k.Save(rec, []byte("pw"))
	require.NoError(t, err)

	// a second save makes the first write the backup copy
	rec.Plaintext = []byte(`{"private_share":"rotated"}`)
	_, err = k.Save(rec, []byte("pw"))
	require.NoError(t, err)

	path := k.walletPath("secp256k1", id)
	require.NoError(t, fs.Remove(path))

	loaded, err := k.Load("secp256k1", id, []byte("pw"))
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"private_share":"super secret"}`), loaded.Plaintext)
}

func TestKeystoreLockContention(t *testing.T) {
	k, fs, _ := newTestStore(t)

	rec := testRecord()
	id, err := k.Save(rec, []byte("pw"))
	require.NoError(t, err)

	path := k.walletPath("secp256k1", id)
	require.NoError(t, afero.WriteFile(fs, path+".lock", nil, 0o600))

	_, err = k.Save(rec, []byte("pw"))
	require.ErrorIs(t, err, ErrLockContention)
	require.ErrorIs(t, k.Delete("secp256k1", id), ErrLockContention)

	require.NoError(t, fs.Remove(path+".lock"))
	_, err = k.Save(rec, []byte("pw"))
	require.NoError(t, err)
}

func TestKeystoreDeviceMarkerWins(t *testing.T) {
	fs := afero.NewMemMapFs()
	k1, err := New(fs, "/data", "device-a", nil, zerolog.Nop())
	require.NoError(t, err)
	require.Equal(t, "device-a", k1.DeviceID())

	// reopening with a different id keeps the persisted one
	k2, err := New(fs, "/data", "device-b", nil, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, "device-a", k2.DeviceID())

	// an empty id on a fresh root mints one
	k3, err := New(afero.NewMemMapFs(), "/data", "", nil, zerolog.Nop())
	require.NoError(t, err)
	assert.NotEmpty(t, k3.DeviceID())
}

func TestKeystorePBKDF2Interop(t *testing.T) {
	k, fs, _ := newTestStore(t)

	// write a PBKDF2-sealed file by hand, as an older tool would
	payload, err := encrypt([]byte("legacy key material"), []byte("pw"), AlgorithmPBKDF2)
	require.NoError(t, err)
	file := walletFile{
		Version:   schemaVersion,
		Encrypted: true,
		Algorithm: AlgorithmPBKDF2,
		Data:      payload,
		Metadata:  Metadata{CurveType: "secp256k1"},
	}
	data, err := json.Marshal(file)
	require.NoError(t, err)
	require.NoError(t, fs.MkdirAll(k.suiteDir("secp256k1"), 0o700))
	require.NoError(t, afero.WriteFile(fs, k.walletPath("secp256k1", "legacy"), data, 0o600))

	loaded, err := k.Load("secp256k1", "legacy", []byte("pw"))
	require.NoError(t, err)
	assert.Equal(t, []byte("legacy key material"), loaded.Plaintext)

	_, err = k.Load("secp256k1", "legacy", []byte("wrong"))
	require.ErrorIs(t, err, ErrWrongPassword)
}

func TestEncryptDecryptPayloadShapes(t *testing.T) {
	for _, alg := range []string{AlgorithmArgon2id, AlgorithmPBKDF2} {
		payload, err := encrypt([]byte("hello"), []byte("pw"), alg)
		require.NoError(t, err)

		plaintext, err := decrypt(payload, []byte("pw"), alg)
		require.NoError(t, err)
		assert.Equal(t, []byte("hello"), plaintext)

		_, err = decrypt(payload[:4], []byte("pw"), alg)
		require.ErrorIs(t, err, ErrCorruptFormat, alg)
	}

	_, err := encrypt([]byte("hello"), []byte("pw"), "ROT13")
	require.Error(t, err)
	_, err = decrypt([]byte("xx"), []byte("pw"), "ROT13")
	require.ErrorIs(t, err, ErrCorruptFormat)
}
