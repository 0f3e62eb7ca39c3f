package mesh_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/stars-labs/mpc-wallet-core/pkg/mesh"
	"github.com/stars-labs/mpc-wallet-core/pkg/party"
)

func roster() party.IDSlice {
	return party.IDSlice{"alice", "bob", "carol"}
}

func TestMeshReachesReadyOnceAllChannelsAndAnnouncementsArrive(t *testing.T) {
	sup, err := mesh.New("alice", roster())
	require.NoError(t, err)
	require.Equal(t, mesh.NotReady, sup.Status())

	require.False(t, sup.MaybeEmitOwnMeshReady())

	require.NoError(t, sup.NoteChannelOpen("bob"))
	require.False(t, sup.MaybeEmitOwnMeshReady())
	require.NoError(t, sup.NoteChannelOpen("carol"))

	require.True(t, sup.MaybeEmitOwnMeshReady())
	require.Equal(t, mesh.SelfReady, sup.Status())
	// calling again is a no-op, not a second announcement
	require.False(t, sup.MaybeEmitOwnMeshReady())

	ready, err := sup.ReceiveMeshReady("bob")
	require.NoError(t, err)
	require.False(t, ready)

	ready, err = sup.ReceiveMeshReady("carol")
	require.NoError(t, err)
	require.True(t, ready)
	require.Equal(t, mesh.Ready, sup.Status())
}

func TestMeshRegressesOnChannelClose(t *testing.T) {
	sup, err := mesh.New("alice", roster())
	require.NoError(t, err)
	require.NoError(t, sup.NoteChannelOpen("bob"))
	require.NoError(t, sup.NoteChannelOpen("carol"))
	require.True(t, sup.MaybeEmitOwnMeshReady())
	_, err = sup.ReceiveMeshReady("bob")
	require.NoError(t, err)
	_, err = sup.ReceiveMeshReady("carol")
	require.NoError(t, err)
	require.Equal(t, mesh.Ready, sup.Status())

	require.NoError(t, sup.NoteChannelClosed("bob"))
	require.Equal(t, mesh.Regressed, sup.Status())

	// must re-converge from scratch
	require.False(t, sup.MaybeEmitOwnMeshReady())
	require.NoError(t, sup.NoteChannelOpen("bob"))
	require.True(t, sup.MaybeEmitOwnMeshReady())
	require.Equal(t, mesh.SelfReady, sup.Status())
}

func TestMeshRejectsUnknownPeer(t *testing.T) {
	sup, err := mesh.New("alice", roster())
	require.NoError(t, err)
	require.Error(t, sup.NoteChannelOpen("dave"))
	require.Error(t, sup.NoteChannelClosed("dave"))
	_, err = sup.ReceiveMeshReady("dave")
	require.Error(t, err)
}

func TestNewRejectsSelfNotInRoster(t *testing.T) {
	_, err := mesh.New("dave", roster())
	require.Error(t, err)
}
