package dpn_test

import (
	"github.com/APTrust/dpn-registry/dpn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"testing"
)

func TestParseReplicationStatus(t *testing.T) {
	for _, status := range dpn.ReplicationStatuses {
		parsed, err := dpn.ParseReplicationStatus(string(status))
		require.Nil(t, err)
		assert.Equal(t, status, parsed)
	}
	for _, bad := range []string{"", "Requested", "CONFIRMED", "stored ", "deleted"} {
		_, err := dpn.ParseReplicationStatus(bad)
		assert.NotNil(t, err, bad)
	}
}

func TestReplicationStatusIsTerminal(t *testing.T) {
	assert.False(t, dpn.StatusRequested.IsTerminal())
	assert.False(t, dpn.StatusReceived.IsTerminal())
	assert.False(t, dpn.StatusConfirmed.IsTerminal())
	assert.True(t, dpn.StatusRejected.IsTerminal())
	assert.True(t, dpn.StatusStored.IsTerminal())
	assert.True(t, dpn.StatusCancelled.IsTerminal())
}
