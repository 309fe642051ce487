package p2p

// Command names for the message variants spec.md §6 names.
const (
	CmdHandshake       = "handshake"
	CmdBye             = "bye"
	CmdPeerListRequest  = "peerlistreq"
	CmdPeerListResponse = "peerlistres"

	CmdBlock              = "block"
	CmdBlockRequestByHash  = "blockreqhash"
	CmdBlockResponseByHash = "blockreshash"

	CmdConnectionStatus = "connstatus"
)

// ConnectionStatusCode is the closed set of outcomes a ConnectionStatus
// message reports.
type ConnectionStatusCode uint8

const (
	ConnectionAccepted ConnectionStatusCode = iota
	ConnectionRefused
)

// RefuseReason enumerates why Handshake/ConnectionStatus refused a peer,
// per spec.md §6's handshake rejection list.
type RefuseReason uint8

const (
	RefuseReasonNone RefuseReason = iota
	RefuseReasonMagicMismatch
	RefuseReasonNetworkMismatch
	RefuseReasonSelfConnect
	RefuseReasonDuplicateInstance
	RefuseReasonMaxPeersExceeded
)
