package node

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/vaultmesh/frost-wallet/internal/keystore"
	"github.com/vaultmesh/frost-wallet/internal/mesh"
	"github.com/vaultmesh/frost-wallet/internal/session"
	"github.com/vaultmesh/frost-wallet/internal/transport"
	"github.com/vaultmesh/frost-wallet/pkg/party"
	"github.com/vaultmesh/frost-wallet/protocols/frost/keygen"
	"github.com/vaultmesh/frost-wallet/protocols/frost/sign"
)

const testTimeout = 30 * time.Second

type testDevice struct {
	id    party.ID
	node  *Node
	store *keystore.Keystore
}

type testCluster struct {
	t       *testing.T
	ctx     context.Context
	cancel  context.CancelFunc
	net     *transport.Network
	group   *errgroup.Group
	devices map[party.ID]*testDevice
}

func newTestCluster(t *testing.T, ids ...party.ID) *testCluster {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	grp, ctx := errgroup.WithContext(ctx)
	c := &testCluster{
		t:       t,
		ctx:     ctx,
		cancel:  cancel,
		net:     transport.NewNetwork(),
		group:   grp,
		devices: make(map[party.ID]*testDevice, len(ids)),
	}
	for _, id := range ids {
		store, err := keystore.New(afero.NewMemMapFs(), "/data", string(id), nil, zerolog.Nop())
		require.NoError(t, err)
		n, err := New(Config{
			Self:      id,
			Transport: c.net.Join(id),
			Keystore:  store,
			Logger:    zerolog.Nop(),
		})
		require.NoError(t, err)
		c.devices[id] = &testDevice{id: id, node: n, store: store}
		node := n
		grp.Go(func() error {
			err := node.Run(ctx)
			if err == context.Canceled || err == context.DeadlineExceeded {
				return nil
			}
			return err
		})
	}
	t.Cleanup(func() {
		cancel()
		_ = grp.Wait()
	})
	return c
}

func (c *testCluster) state(id party.ID) AppState {
	c.t.Helper()
	st, err := c.devices[id].node.State(c.ctx)
	require.NoError(c.t, err)
	return st
}

func (c *testCluster) eventually(cond func() bool, msg string) {
	c.t.Helper()
	require.Eventually(c.t, cond, testTimeout, 10*time.Millisecond, msg)
}

// runDKG drives a full key generation on every device and returns the wallet id.
func (c *testCluster) runDKG(threshold int, ids []party.ID, suite string, password []byte) string {
	c.t.Helper()
	proposer := ids[0]
	sessionID, err := c.devices[proposer].node.ProposeSession(c.ctx, session.KindDKG, threshold, ids, suite)
	require.NoError(c.t, err)

	for _, id := range ids[1:] {
		id := id
		c.eventually(func() bool {
			st := c.state(id)
			return st.Session != nil && st.Session.ID == sessionID
		}, "proposal not delivered")
		require.NoError(c.t, c.devices[id].node.AcceptSession(c.ctx, sessionID))
	}
	for _, id := range ids {
		id := id
		c.eventually(func() bool {
			return c.state(id).Mesh.State == mesh.Ready
		}, "mesh not ready")
	}
	for _, id := range ids {
		require.NoError(c.t, c.devices[id].node.StartDKG(c.ctx, password))
	}
	var walletID string
	for _, id := range ids {
		id := id
		c.eventually(func() bool {
			return c.state(id).Dkg.State == DkgComplete
		}, "dkg did not complete")
		st := c.state(id)
		require.NotEmpty(c.t, st.Dkg.WalletID)
		if walletID == "" {
			walletID = st.Dkg.WalletID
		} else {
			require.Equal(c.t, walletID, st.Dkg.WalletID, "wallet ids diverge")
		}
	}
	return walletID
}

func TestDKGEndToEnd(t *testing.T) {
	ids := party.NewIDSlice([]party.ID{"alice", "bob", "carol"})
	c := newTestCluster(t, ids...)
	password := []byte("pw")

	walletID := c.runDKG(2, ids, "ed25519", password)

	// every store holds an encrypted share of the same group key
	var groupKey []byte
	for _, id := range ids {
		rec, err := c.devices[id].store.Load("ed25519", walletID, password)
		require.NoError(t, err)
		result, err := keygen.UnmarshalResult(rec.Plaintext)
		require.NoError(t, err)
		require.Equal(t, id, result.ID)
		require.Equal(t, 1, result.Threshold)

		pub, err := result.PublicKey.MarshalBinary()
		require.NoError(t, err)
		if groupKey == nil {
			groupKey = pub
		} else {
			require.Equal(t, groupKey, pub, "group keys diverge")
		}
		assert.Equal(t, 2, rec.Metadata.Threshold)
		assert.Equal(t, 3, rec.Metadata.TotalParticipants)
		assert.NotEmpty(t, rec.Metadata.Blockchains)
	}

	for _, id := range ids {
		st := c.state(id)
		require.NotNil(t, st.Session)
		assert.Equal(t, session.PhaseCompleted, st.Session.Phase)
	}
}

func TestSigningWithDecline(t *testing.T) {
	ids := party.NewIDSlice([]party.ID{"alice", "bob", "carol"})
	c := newTestCluster(t, ids...)
	password := []byte("pw")

	c.runDKG(2, ids, "secp256k1", password)

	messageHash := make([]byte, 32)
	signingID, err := c.devices["alice"].node.InitiateSigning(c.ctx, messageHash, "ethereum", "1")
	require.NoError(t, err)

	for _, id := range []party.ID{"bob", "carol"} {
		id := id
		c.eventually(func() bool {
			st := c.state(id)
			return st.Signing.State == SigningAwaitingAcceptance && st.Signing.SigningID == signingID
		}, "signing request not delivered")
	}
	require.NoError(t, c.devices["carol"].node.RejectSigning(c.ctx, signingID))
	require.NoError(t, c.devices["bob"].node.AcceptSigning(c.ctx, signingID))

	var sigBytes []byte
	for _, id := range []party.ID{"alice", "bob"} {
		id := id
		c.eventually(func() bool {
			return c.state(id).Signing.State == SigningComplete
		}, "signing did not complete")
		st := c.state(id)
		require.NotEmpty(t, st.Signing.Signature)
		if sigBytes == nil {
			sigBytes = st.Signing.Signature
		} else {
			require.Equal(t, sigBytes, st.Signing.Signature, "signatures diverge")
		}
	}

	// the distributed signature verifies against the stored group key
	rec, err := c.devices["alice"].store.Load("secp256k1", c.state("alice").Dkg.WalletID, password)
	require.NoError(t, err)
	result, err := keygen.UnmarshalResult(rec.Plaintext)
	require.NoError(t, err)
	sig := sign.EmptySignature(result.Group)
	require.NoError(t, sig.UnmarshalBinary(sigBytes))
	require.True(t, sig.Verify(result.PublicKey, messageHash))

	// the decliner never took part
	assert.Equal(t, SigningIdle, c.state("carol").Signing.State)
}

func TestDKGPeerDisconnect(t *testing.T) {
	ids := party.NewIDSlice([]party.ID{"alice", "bob", "carol"})
	c := newTestCluster(t, ids...)
	password := []byte("pw")

	sessionID, err := c.devices["alice"].node.ProposeSession(c.ctx, session.KindDKG, 2, ids, "ed25519")
	require.NoError(t, err)
	for _, id := range []party.ID{"bob", "carol"} {
		id := id
		c.eventually(func() bool {
			st := c.state(id)
			return st.Session != nil && st.Session.ID == sessionID
		}, "proposal not delivered")
		require.NoError(t, c.devices[id].node.AcceptSession(c.ctx, sessionID))
	}
	for _, id := range ids {
		id := id
		c.eventually(func() bool {
			return c.state(id).Mesh.State == mesh.Ready
		}, "mesh not ready")
	}

	// carol never starts her rounds, then vanishes mid-ceremony
	require.NoError(t, c.devices["alice"].node.StartDKG(c.ctx, password))
	require.NoError(t, c.devices["bob"].node.StartDKG(c.ctx, password))
	c.net.Disconnect("carol")

	for _, id := range []party.ID{"alice", "bob"} {
		id := id
		c.eventually(func() bool {
			return c.state(id).Dkg.State == DkgFailed
		}, "dkg did not fail")
		st := c.state(id)
		assert.Contains(t, st.Dkg.Reason, "peer disconnected during round")

		// nothing was stored for the aborted ceremony
		infos, err := c.devices[id].store.List()
		require.NoError(t, err)
		assert.Empty(t, infos)
	}

	// a fresh ceremony among the remaining devices succeeds
	pair := party.NewIDSlice([]party.ID{"alice", "bob"})
	walletID := c.runDKG(2, pair, "ed25519", password)
	require.NotEmpty(t, walletID)
}

func TestSingleDeviceDKGAndSign(t *testing.T) {
	ids := party.NewIDSlice([]party.ID{"alice"})
	c := newTestCluster(t, ids...)
	password := []byte("pw")

	walletID := c.runDKG(1, ids, "secp256k1", password)
	require.NotEmpty(t, walletID)

	messageHash := make([]byte, 32)
	_, err := c.devices["alice"].node.InitiateSigning(c.ctx, messageHash, "ethereum", "1")
	require.NoError(t, err)
	c.eventually(func() bool {
		return c.state("alice").Signing.State == SigningComplete
	}, "single party signing did not complete")

	rec, err := c.devices["alice"].store.Load("secp256k1", walletID, password)
	require.NoError(t, err)
	result, err := keygen.UnmarshalResult(rec.Plaintext)
	require.NoError(t, err)
	sig := sign.EmptySignature(result.Group)
	require.NoError(t, sig.UnmarshalBinary(c.state("alice").Signing.Signature))
	require.True(t, sig.Verify(result.PublicKey, messageHash))
}

func TestSigningFailsWhenSignerLost(t *testing.T) {
	ids := party.NewIDSlice([]party.ID{"alice", "bob"})
	c := newTestCluster(t, ids...)
	password := []byte("pw")

	walletID := c.runDKG(2, ids, "ed25519", password)

	_, err := c.devices["alice"].node.InitiateSigning(c.ctx, make([]byte, 32), "solana", "")
	require.NoError(t, err)
	c.eventually(func() bool {
		return c.state("bob").Signing.State == SigningAwaitingAcceptance
	}, "signing request not delivered")
	c.net.Disconnect("bob")

	c.eventually(func() bool {
		return c.state("alice").Signing.State == SigningFailed
	}, "signing did not fail")
	assert.Equal(t, "insufficient acceptances", c.state("alice").Signing.Reason)

	// the wallet survives the failed round
	rec, err := c.devices["alice"].store.Load("ed25519", walletID, password)
	require.NoError(t, err)
	require.NotEmpty(t, rec.Plaintext)
}

func TestStartDKGRefusedWithoutSession(t *testing.T) {
	c := newTestCluster(t, "alice")
	err := c.devices["alice"].node.StartDKG(c.ctx, []byte("pw"))
	require.ErrorIs(t, err, ErrWrongState)
}

func TestInitiateSigningRequiresWallet(t *testing.T) {
	c := newTestCluster(t, "alice")
	_, err := c.devices["alice"].node.InitiateSigning(c.ctx, make([]byte, 32), "ethereum", "1")
	require.ErrorIs(t, err, ErrNoWallet)
}

func TestProposeUnknownSuite(t *testing.T) {
	c := newTestCluster(t, "alice", "bob")
	_, err := c.devices["alice"].node.ProposeSession(c.ctx, session.KindDKG, 2,
		party.NewIDSlice([]party.ID{"alice", "bob"}), "p256")
	require.Error(t, err)
}

func TestAcceptUnknownSession(t *testing.T) {
	c := newTestCluster(t, "alice")
	err := c.devices["alice"].node.AcceptSession(c.ctx, "no-such-session")
	require.ErrorIs(t, err, ErrWrongState)
}
