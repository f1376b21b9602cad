package network_test

import (
	"github.com/APTrust/dpn-registry/dpn"
	"github.com/APTrust/dpn-registry/dpn/network"
	"github.com/stretchr/testify/assert"
	"io/ioutil"
	"net/http"
	"strings"
	"testing"
)

func TestNewDPNResponse(t *testing.T) {
	for _, objType := range []dpn.DPNObjectType{dpn.DPNTypeNode, dpn.DPNTypeReplication} {
		resp := network.NewDPNResponse(objType)
		assert.NotNil(t, resp)
		assert.Equal(t, objType, resp.ObjectType())
		assert.Equal(t, 0, resp.Count)
		assert.Nil(t, resp.Next)
		assert.Nil(t, resp.Previous)
		assert.Nil(t, resp.Node())
		assert.Nil(t, resp.ReplicationTransfer())
		assert.Empty(t, resp.Nodes())
		assert.Empty(t, resp.ReplicationTransfers())
		assert.Equal(t, 0, resp.StatusCode())
	}
}

func TestHasNextPage(t *testing.T) {
	resp := network.NewDPNResponse(dpn.DPNTypeNode)
	assert.False(t, resp.HasNextPage())
	link := "http://example.com"
	resp.Next = &link
	assert.True(t, resp.HasNextPage())
}

func TestHasPreviousPage(t *testing.T) {
	resp := network.NewDPNResponse(dpn.DPNTypeNode)
	assert.False(t, resp.HasPreviousPage())
	link := "http://example.com"
	resp.Previous = &link
	assert.True(t, resp.HasPreviousPage())
}

func TestParamsForNextPage(t *testing.T) {
	resp := network.NewDPNResponse(dpn.DPNTypeNode)
	assert.Nil(t, resp.ParamsForNextPage())
	link := "http://example.com?name=college.edu&page=6&page_size=20"
	resp.Next = &link
	params := resp.ParamsForNextPage()
	assert.Equal(t, 3, len(params))
	assert.Equal(t, "college.edu", params.Get("name"))
	assert.Equal(t, "6", params.Get("page"))
	assert.Equal(t, "20", params.Get("page_size"))
}

func TestParamsForPreviousPage(t *testing.T) {
	resp := network.NewDPNResponse(dpn.DPNTypeNode)
	assert.Nil(t, resp.ParamsForPreviousPage())
	link := "http://example.com?name=college.edu&page=6&page_size=20"
	resp.Previous = &link
	params := resp.ParamsForPreviousPage()
	assert.Equal(t, 3, len(params))
	assert.Equal(t, "6", params.Get("page"))
}

func TestUnmarshalJsonList(t *testing.T) {
	body := `{"count": 3, "next": "http://example.com/?page=2", "previous": null,
              "results": [{"replication_id": "1", "status": "requested"},
                          {"replication_id": "2", "status": "stored"}]}`
	resp := network.NewDPNResponse(dpn.DPNTypeReplication)
	resp.Response = &http.Response{
		StatusCode: 200,
		Body:       ioutil.NopCloser(strings.NewReader(body)),
	}
	assert.Nil(t, resp.UnmarshalJsonList())
	assert.Equal(t, 3, resp.Count)
	assert.True(t, resp.HasNextPage())
	assert.False(t, resp.HasPreviousPage())
	xfers := resp.ReplicationTransfers()
	assert.Equal(t, 2, len(xfers))
	assert.Equal(t, dpn.StatusStored, xfers[1].Status)

	// Should be able to read repeatedly once the body is closed.
	for i := 0; i < 3; i++ {
		data, err := resp.RawResponseData()
		assert.Nil(t, err)
		assert.NotEmpty(t, data)
	}
	assert.Nil(t, resp.UnmarshalJsonList())
}
