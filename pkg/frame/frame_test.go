package frame_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/stars-labs/mpc-wallet-core/pkg/frame"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	f := frame.NewDkgRound1("w1", 2, []byte("commitment-bytes"))
	encoded, err := f.Encode()
	require.NoError(t, err)

	decoded, err := frame.Decode(encoded)
	require.NoError(t, err)
	require.Equal(t, f.Tag, decoded.Tag)
	require.Equal(t, f.SessionID, decoded.SessionID)
	require.Equal(t, f.SenderIndex, decoded.SenderIndex)

	payload, err := frame.DecodeDkgRound1(decoded)
	require.NoError(t, err)
	require.Equal(t, []byte("commitment-bytes"), payload.Package)
}

func TestContentHashDeterministic(t *testing.T) {
	f1 := frame.NewSessionProposal("w1", 1, []string{"a", "b", "c"}, 2, 1)
	f2 := frame.NewSessionProposal("w1", 1, []string{"a", "b", "c"}, 2, 1)
	require.Equal(t, f1.ContentHash(), f2.ContentHash())
}

func TestContentHashDivergesOnPayload(t *testing.T) {
	f1 := frame.NewDkgRound1("w1", 2, []byte("p1"))
	f2 := frame.NewDkgRound1("w1", 2, []byte("p1-prime"))
	require.NotEqual(t, f1.ContentHash(), f2.ContentHash())
}

func TestDkgRound2PointToPoint(t *testing.T) {
	f := frame.NewDkgRound2("w1", 1, 3, []byte("share-for-3"))
	payload, err := frame.DecodeDkgRound2(f)
	require.NoError(t, err)
	require.Equal(t, 3, payload.RecipientIndex)
	require.Equal(t, []byte("share-for-3"), payload.Package)
}
