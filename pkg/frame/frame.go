// Package frame implements the peer message wire format of spec.md §6: the
// seven frame tags the core dispatches on, a deterministic CBOR encoding
// (so idempotence-by-content-hash is meaningful), and a content hash over a
// whole encoded frame. pkg/engine and pkg/session detect duplicate and
// conflicting redelivery with their own hashes of package bytes and
// responses, not with this one.
//
// Grounded on pkg/protocol/handler.go's Message struct and its
// cbor.Marshal(roundMsg.Content) / msg.Hash() pair.
package frame

import (
	"github.com/fxamacker/cbor/v2"
	"github.com/zeebo/blake3"
)

// Tag identifies which of spec.md §6's seven frame kinds a Frame carries.
type Tag uint8

const (
	SessionProposalTag Tag = iota + 1
	SessionResponseTag
	MeshReadyTag
	DkgRound1Tag
	DkgRound2Tag
	SigningCommitmentTag
	SignatureShareTag
)

func (t Tag) String() string {
	switch t {
	case SessionProposalTag:
		return "SessionProposal"
	case SessionResponseTag:
		return "SessionResponse"
	case MeshReadyTag:
		return "MeshReady"
	case DkgRound1Tag:
		return "DkgRound1"
	case DkgRound2Tag:
		return "DkgRound2"
	case SigningCommitmentTag:
		return "SigningCommitment"
	case SignatureShareTag:
		return "SignatureShare"
	default:
		return "Unknown"
	}
}

// encOpts is cbor's canonical (core deterministic) encoding mode: the same
// logical value always serializes to the same bytes, which §6 requires for
// content-hash based idempotence to be meaningful.
var encOpts = cbor.CoreDetEncOptions()

var encMode = func() cbor.EncMode {
	m, err := encOpts.EncMode()
	if err != nil {
		panic(err)
	}
	return m
}()

// Frame is the envelope every peer message travels in: (tag, session_id,
// sender_index, payload_bytes) per spec.md §6.
type Frame struct {
	Tag         Tag    `cbor:"1,keyasint"`
	SessionID   string `cbor:"2,keyasint"`
	SenderIndex int    `cbor:"3,keyasint"`
	Payload     []byte `cbor:"4,keyasint"`
}

// ContentHash returns a deterministic digest of the whole frame. The
// module's dedup paths do not call it; pkg/engine hashes the received
// package bytes instead.
func (f Frame) ContentHash() [32]byte {
	b, err := encMode.Marshal(f)
	if err != nil {
		panic(err)
	}
	return blake3.Sum256(b)
}

// Encode serializes f deterministically.
func (f Frame) Encode() ([]byte, error) {
	return encMode.Marshal(f)
}

// Decode parses a Frame previously produced by Encode.
func Decode(data []byte) (Frame, error) {
	var f Frame
	err := cbor.Unmarshal(data, &f)
	return f, err
}

// --- Typed payloads for each tag ---

// SessionProposalPayload is the body of a SessionProposal frame.
type SessionProposalPayload struct {
	Participants []string `cbor:"1,keyasint"`
	Threshold    int      `cbor:"2,keyasint"`
	CurveTag     uint8    `cbor:"3,keyasint"`
}

// SessionResponsePayload is the body of a SessionResponse frame.
type SessionResponsePayload struct {
	Accepted bool `cbor:"1,keyasint"`
}

// MeshReadyPayload is the (empty) body of a MeshReady frame.
type MeshReadyPayload struct{}

// DkgRound1Payload is the body of a DkgRound1 frame.
type DkgRound1Payload struct {
	Package []byte `cbor:"1,keyasint"`
}

// DkgRound2Payload is the body of a point-to-point DkgRound2 frame.
type DkgRound2Payload struct {
	RecipientIndex int    `cbor:"1,keyasint"`
	Package        []byte `cbor:"2,keyasint"`
}

// SigningCommitmentPayload is the body of a SigningCommitment frame.
// SignerIndices and Message are carried on every commitment (not just the
// initiator's) so a participant who has not yet joined the signing session
// locally can construct its own nonce and commitment on first sight,
// mirroring how SessionProposal is handled.
type SigningCommitmentPayload struct {
	SigningID     string `cbor:"1,keyasint"`
	Commitment    []byte `cbor:"2,keyasint"`
	SignerIndices []int  `cbor:"3,keyasint"`
	Message       []byte `cbor:"4,keyasint"`
}

// SignatureSharePayload is the body of a SignatureShare frame.
type SignatureSharePayload struct {
	SigningID string `cbor:"1,keyasint"`
	Share     []byte `cbor:"2,keyasint"`
}

// encodePayload marshals a typed payload with the same deterministic mode
// used for the envelope.
func encodePayload(v any) []byte {
	b, err := encMode.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

// NewSessionProposal builds a SessionProposal frame.
func NewSessionProposal(sessionID string, senderIndex int, participants []string, threshold int, curveTag uint8) Frame {
	return Frame{
		Tag:         SessionProposalTag,
		SessionID:   sessionID,
		SenderIndex: senderIndex,
		Payload: encodePayload(SessionProposalPayload{
			Participants: participants,
			Threshold:    threshold,
			CurveTag:     curveTag,
		}),
	}
}

// NewSessionResponse builds a SessionResponse frame.
func NewSessionResponse(sessionID string, senderIndex int, accepted bool) Frame {
	return Frame{
		Tag:         SessionResponseTag,
		SessionID:   sessionID,
		SenderIndex: senderIndex,
		Payload:     encodePayload(SessionResponsePayload{Accepted: accepted}),
	}
}

// NewMeshReady builds a MeshReady frame.
func NewMeshReady(sessionID string, senderIndex int) Frame {
	return Frame{
		Tag:         MeshReadyTag,
		SessionID:   sessionID,
		SenderIndex: senderIndex,
		Payload:     encodePayload(MeshReadyPayload{}),
	}
}

// NewDkgRound1 builds a DkgRound1 frame.
func NewDkgRound1(sessionID string, senderIndex int, pkg []byte) Frame {
	return Frame{
		Tag:         DkgRound1Tag,
		SessionID:   sessionID,
		SenderIndex: senderIndex,
		Payload:     encodePayload(DkgRound1Payload{Package: pkg}),
	}
}

// NewDkgRound2 builds a point-to-point DkgRound2 frame.
func NewDkgRound2(sessionID string, senderIndex, recipientIndex int, pkg []byte) Frame {
	return Frame{
		Tag:         DkgRound2Tag,
		SessionID:   sessionID,
		SenderIndex: senderIndex,
		Payload:     encodePayload(DkgRound2Payload{RecipientIndex: recipientIndex, Package: pkg}),
	}
}

// NewSigningCommitment builds a SigningCommitment frame.
func NewSigningCommitment(sessionID string, senderIndex int, signingID string, commitment []byte, signerIndices []int, message []byte) Frame {
	return Frame{
		Tag:         SigningCommitmentTag,
		SessionID:   sessionID,
		SenderIndex: senderIndex,
		Payload: encodePayload(SigningCommitmentPayload{
			SigningID:     signingID,
			Commitment:    commitment,
			SignerIndices: signerIndices,
			Message:       message,
		}),
	}
}

// NewSignatureShare builds a SignatureShare frame.
func NewSignatureShare(sessionID string, senderIndex int, signingID string, share []byte) Frame {
	return Frame{
		Tag:         SignatureShareTag,
		SessionID:   sessionID,
		SenderIndex: senderIndex,
		Payload:     encodePayload(SignatureSharePayload{SigningID: signingID, Share: share}),
	}
}

// DecodeSessionProposal decodes f's payload. f.Tag must be SessionProposalTag.
func DecodeSessionProposal(f Frame) (SessionProposalPayload, error) {
	var p SessionProposalPayload
	err := cbor.Unmarshal(f.Payload, &p)
	return p, err
}

// DecodeSessionResponse decodes f's payload.
func DecodeSessionResponse(f Frame) (SessionResponsePayload, error) {
	var p SessionResponsePayload
	err := cbor.Unmarshal(f.Payload, &p)
	return p, err
}

// DecodeDkgRound1 decodes f's payload.
func DecodeDkgRound1(f Frame) (DkgRound1Payload, error) {
	var p DkgRound1Payload
	err := cbor.Unmarshal(f.Payload, &p)
	return p, err
}

// DecodeDkgRound2 decodes f's payload.
func DecodeDkgRound2(f Frame) (DkgRound2Payload, error) {
	var p DkgRound2Payload
	err := cbor.Unmarshal(f.Payload, &p)
	return p, err
}

// DecodeSigningCommitment decodes f's payload.
func DecodeSigningCommitment(f Frame) (SigningCommitmentPayload, error) {
	var p SigningCommitmentPayload
	err := cbor.Unmarshal(f.Payload, &p)
	return p, err
}

// DecodeSignatureShare decodes f's payload.
func DecodeSignatureShare(f Frame) (SignatureSharePayload, error) {
	var p SignatureSharePayload
	err := cbor.Unmarshal(f.Payload, &p)
	return p, err
}
