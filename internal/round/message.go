package round

import "github.com/vaultmesh/frost-wallet/pkg/party"

// Message is a message returned by a round during finalization, either
// broadcast or P2P.
type Message struct {
	From, To  party.ID
	Broadcast bool
	Content   Content
}
