package offline

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/fxamacker/cbor/v2"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vaultmesh/frost-wallet/pkg/math/curve"
	"github.com/vaultmesh/frost-wallet/pkg/party"
	"github.com/vaultmesh/frost-wallet/pkg/protocol"
	"github.com/vaultmesh/frost-wallet/protocols/frost"
	"github.com/vaultmesh/frost-wallet/protocols/frost/keygen"
)

func newTestExchange(t *testing.T, fs afero.Fs, root string, device party.ID, clk clock.Clock) *Exchange {
	t.Helper()
	e, err := NewExchange(fs, root, device, clk, zerolog.Nop())
	require.NoError(t, err)
	return e
}

func TestEnvelopeValidate(t *testing.T) {
	expiry := time.Now().Add(time.Hour)
	env := NewEnvelope("s-1", KindDkgRound1, "alice", Broadcast, []byte("payload"), expiry)
	require.NoError(t, env.Validate())

	tampered := *env
	tampered.Payload = []byte("other")
	require.ErrorIs(t, tampered.Validate(), ErrChecksumMismatch)

	bad := *env
	bad.Kind = "bogus"
	require.ErrorIs(t, bad.Validate(), ErrMalformed)

	bad = *env
	bad.Version = "2"
	require.ErrorIs(t, bad.Validate(), ErrMalformed)

	bad = *env
	bad.From = ""
	require.ErrorIs(t, bad.Validate(), ErrMalformed)
}

func TestEnvelopeAddressing(t *testing.T) {
	env := NewEnvelope("s-1", KindDkgRound1, "alice", Broadcast, nil, time.Now().Add(time.Hour))
	assert.True(t, env.IsFor("bob"))
	assert.False(t, env.IsFor("alice"), "own broadcasts do not come back")

	direct := NewEnvelope("s-1", KindDkgRound2, "alice", "bob", nil, time.Now().Add(time.Hour))
	assert.True(t, direct.IsFor("bob"))
	assert.False(t, direct.IsFor("carol"))
}

func TestScanDropsExpiredAndTampered(t *testing.T) {
	fs := afero.NewMemMapFs()
	clk := clock.NewMock()
	clk.Set(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))

	alice := newTestExchange(t, fs, "/media", "alice", clk)
	bob := newTestExchange(t, fs, "/media2", "bob", clk)

	fresh, err := alice.Export("s-1", KindDkgRound1, Broadcast, []byte("fresh"), time.Hour)
	require.NoError(t, err)
	stale, err := alice.Export("s-1", KindDkgRound1, Broadcast, []byte("stale"), time.Minute)
	require.NoError(t, err)

	copyIntoImport(t, fs, fresh, "/media2")
	copyIntoImport(t, fs, stale, "/media2")

	// past the short TTL but inside the long one
	clk.Add(30 * time.Minute)

	envs, err := bob.Scan()
	require.NoError(t, err)
	require.Len(t, envs, 1)
	assert.Equal(t, []byte("fresh"), envs[0].Payload)

	// a rescan does not re-deliver
	envs, err = bob.Scan()
	require.NoError(t, err)
	assert.Empty(t, envs)
}

func TestScanIgnoresForeignAddressees(t *testing.T) {
	fs := afero.NewMemMapFs()
	alice := newTestExchange(t, fs, "/a", "alice", nil)
	bob := newTestExchange(t, fs, "/b", "bob", nil)

	direct, err := alice.Export("s-1", KindSignShare, "carol", []byte("for carol"), time.Hour)
	require.NoError(t, err)
	copyIntoImport(t, fs, direct, "/b")

	envs, err := bob.Scan()
	require.NoError(t, err)
	assert.Empty(t, envs, "envelopes for other devices are not handed out")
}

// TestOfflineDKG runs a complete 2-of-2 key generation where every protocol
// message travels as an envelope file between two exchange roots, the way two
// air-gapped laptops would share a USB stick.
func TestOfflineDKG(t *testing.T) {
	fs := afero.NewMemMapFs()
	group := curve.Edwards25519{}
	ids := party.NewIDSlice([]party.ID{"alice", "bob"})
	sessionID := []byte("offline-dkg")

	exchanges := map[party.ID]*Exchange{
		"alice": newTestExchange(t, fs, "/alice", "alice", nil),
		"bob":   newTestExchange(t, fs, "/bob", "bob", nil),
	}
	handlers := map[party.ID]*protocol.Handler{}
	for _, id := range ids {
		h, err := protocol.NewHandler(frost.Keygen(group, id, ids, 1), sessionID)
		require.NoError(t, err)
		handlers[id] = h
	}

	kindFor := func(round uint16) Kind {
		if round == 2 {
			return KindDkgRound1
		}
		return KindDkgRound2
	}

	// each side drains its outgoing messages into its export directory
	flush := func(id party.ID) {
		for {
			select {
			case msg, ok := <-handlers[id].Listen():
				if !ok {
					return
				}
				payload, err := cbor.Marshal(msg)
				require.NoError(t, err)
				to := Broadcast
				if msg.To != "" {
					to = msg.To
				}
				_, err = exchanges[id].Export("s-dkg", kindFor(uint16(msg.RoundNumber)), to, payload, time.Hour)
				require.NoError(t, err)
			default:
				return
			}
		}
	}

	// the "usb stick run": everything exported by one side lands in the
	// other's import directory
	carry := func(from, to party.ID) {
		dir := filepath.Join("/"+string(from), ExportDir)
		files, err := afero.ReadDir(fs, dir)
		require.NoError(t, err)
		for _, f := range files {
			copyIntoImport(t, fs, filepath.Join(dir, f.Name()), "/"+string(to))
		}
	}

	ingest := func(id party.ID) {
		envs, err := exchanges[id].Scan()
		require.NoError(t, err)
		for _, env := range envs {
			msg := &protocol.Message{}
			require.NoError(t, cbor.Unmarshal(env.Payload, msg))
			require.NoError(t, handlers[id].Update(msg))
		}
	}

	// two exchange cycles: round 1 commitments, then round 2 shares
	for cycle := 0; cycle < 2; cycle++ {
		flush("alice")
		flush("bob")
		carry("alice", "bob")
		carry("bob", "alice")
		ingest("alice")
		ingest("bob")
	}

	results := map[party.ID]*keygen.Result{}
	for _, id := range ids {
		r, err := handlers[id].Result()
		require.NoError(t, err)
		results[id] = r.(*keygen.Result)
	}

	assert.True(t, results["alice"].PublicKeyPackage().Equal(results["bob"].PublicKeyPackage()),
		"both sides derive the same public key package")
}

func TestWatchDeliversNewEnvelopes(t *testing.T) {
	// fsnotify needs a real directory
	root := t.TempDir()
	fs := afero.NewOsFs()
	alice := newTestExchange(t, fs, root, "alice", nil)
	bob := newTestExchange(t, fs, filepath.Join(root, "bob-side"), "bob", nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	envelopes, err := bob.Watch(ctx)
	require.NoError(t, err)

	path, err := alice.Export("s-1", KindSignRequest, "bob", []byte("sign this"), time.Hour)
	require.NoError(t, err)
	copyIntoImport(t, fs, path, filepath.Join(root, "bob-side"))

	select {
	case env := <-envelopes:
		require.NotNil(t, env)
		assert.Equal(t, KindSignRequest, env.Kind)
		assert.Equal(t, []byte("sign this"), env.Payload)
	case <-ctx.Done():
		t.Fatal("watcher never delivered the envelope")
	}
}

func copyIntoImport(t *testing.T, fs afero.Fs, src, destRoot string) {
	t.Helper()
	data, err := afero.ReadFile(fs, src)
	require.NoError(t, err)
	dest := filepath.Join(destRoot, ImportDir, filepath.Base(src))
	require.NoError(t, afero.WriteFile(fs, dest, data, 0o600))
}
