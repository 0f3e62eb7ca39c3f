package session_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/stars-labs/mpc-wallet-core/pkg/errs"
	"github.com/stars-labs/mpc-wallet-core/pkg/party"
	"github.com/stars-labs/mpc-wallet-core/pkg/session"
)

func roster() party.IDSlice {
	return party.IDSlice{"alice", "bob", "carol"}
}

func TestSessionReachesActiveOnceEveryoneAccepts(t *testing.T) {
	ps := roster()

	initiator, err := session.Propose("alice", "sess-1", ps, 2, 0)
	require.NoError(t, err)
	require.Equal(t, session.Proposed, initiator.Phase())

	bob, err := session.ReceiveProposal("bob", "sess-1", ps, 2, 0)
	require.NoError(t, err)
	carol, err := session.ReceiveProposal("carol", "sess-1", ps, 2, 0)
	require.NoError(t, err)

	activeBob, err := bob.Accept()
	require.NoError(t, err)
	require.False(t, activeBob)

	activeCarol, err := carol.Accept()
	require.NoError(t, err)
	require.False(t, activeCarol)

	active, err := initiator.ReceiveResponse("bob", true)
	require.NoError(t, err)
	require.False(t, active)

	active, err = initiator.ReceiveResponse("carol", true)
	require.NoError(t, err)
	require.True(t, active)
	require.Equal(t, session.Active, initiator.Phase())
}

func TestSessionIdempotentResponseRedelivery(t *testing.T) {
	ps := roster()
	initiator, err := session.Propose("alice", "sess-1", ps, 2, 0)
	require.NoError(t, err)

	_, err = initiator.ReceiveResponse("bob", true)
	require.NoError(t, err)
	_, err = initiator.ReceiveResponse("bob", true)
	require.NoError(t, err)
}

func TestSessionConflictOnDivergentResponseRedelivery(t *testing.T) {
	ps := roster()
	initiator, err := session.Propose("alice", "sess-1", ps, 2, 0)
	require.NoError(t, err)

	_, err = initiator.ReceiveResponse("bob", true)
	require.NoError(t, err)

	_, err = initiator.ReceiveResponse("bob", false)
	require.Error(t, err)
	require.True(t, errs.Is(err, errs.Conflict))
	require.Equal(t, session.Failed, initiator.Phase())
}

func TestSessionFailsOnRejection(t *testing.T) {
	ps := roster()
	initiator, err := session.Propose("alice", "sess-1", ps, 2, 0)
	require.NoError(t, err)

	_, err = initiator.ReceiveResponse("bob", false)
	require.Error(t, err)
	require.True(t, errs.Is(err, errs.Conflict))
	require.Equal(t, session.Failed, initiator.Phase())
}

func TestSessionConflictOnDivergentProposalRedelivery(t *testing.T) {
	ps := roster()
	bob, err := session.ReceiveProposal("bob", "sess-1", ps, 2, 0)
	require.NoError(t, err)

	err = bob.MergeProposal(ps, 2, 0)
	require.NoError(t, err)

	err = bob.MergeProposal(ps, 3, 0)
	require.Error(t, err)
	require.True(t, errs.Is(err, errs.Conflict))
	require.Equal(t, session.Failed, bob.Phase())
}

func TestProposeRejectsSelfNotInRoster(t *testing.T) {
	_, err := session.Propose("dave", "sess-1", roster(), 2, 0)
	require.Error(t, err)
}

func TestProposeRejectsInvalidThreshold(t *testing.T) {
	_, err := session.Propose("alice", "sess-1", roster(), 1, 0)
	require.Error(t, err)

	_, err = session.Propose("alice", "sess-1", roster(), 4, 0)
	require.Error(t, err)
}

func TestReceiveResponseRejectsNonParticipant(t *testing.T) {
	initiator, err := session.Propose("alice", "sess-1", roster(), 2, 0)
	require.NoError(t, err)

	_, err = initiator.ReceiveResponse("dave", true)
	require.Error(t, err)
}
