package models_test

import (
	"github.com/APTrust/dpn-registry/dpn/models"
	"github.com/APTrust/dpn-registry/dpn/util/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"testing"
)

func TestChooseNodesForReplication(t *testing.T) {
	node := testutil.MakeDPNNode()
	for i := 0; i <= 4; i++ {
		selectedNodes, err := node.ChooseNodesForReplication(i)
		assert.Nil(t, err)
		assert.Equal(t, i, len(selectedNodes))
		seen := make(map[string]bool)
		for _, namespace := range selectedNodes {
			assert.False(t, seen[namespace], "chose %s twice", namespace)
			seen[namespace] = true
		}
	}
	selectedNodes, err := node.ChooseNodesForReplication(1000)
	assert.NotNil(t, err)
	require.NotNil(t, selectedNodes)
	assert.Empty(t, selectedNodes)

	_, err = node.ChooseNodesForReplication(-1)
	assert.NotNil(t, err)
}

func TestNormalizeNamespace(t *testing.T) {
	assert.Equal(t, "aptrust", models.NormalizeNamespace("APTrust"))
	assert.Equal(t, "tdr", models.NormalizeNamespace("  TDR\n"))
	assert.Equal(t, "chron", models.NormalizeNamespace("chron"))
}

func TestValidateNamespace(t *testing.T) {
	assert.Nil(t, models.ValidateNamespace("aptrust"))
	assert.Nil(t, models.ValidateNamespace("hathi-trust_2"))
	assert.NotNil(t, models.ValidateNamespace(""))
	assert.NotNil(t, models.ValidateNamespace("APTrust"))
	assert.NotNil(t, models.ValidateNamespace("ap trust"))
	assert.NotNil(t, models.ValidateNamespace("aptrust\t"))
}

func TestNodeIsLocal(t *testing.T) {
	node := &models.Node{Namespace: "aptrust"}
	assert.True(t, node.IsLocal("aptrust"))
	assert.False(t, node.IsLocal("chron"))
}
