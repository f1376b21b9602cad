package network

import (
	"encoding/json"
	"fmt"
	"github.com/APTrust/dpn-registry/dpn"
	"github.com/APTrust/dpn-registry/dpn/models"
	"io/ioutil"
	"net/http"
	"net/url"
)

// DPNResponse wraps the HTTP request and response of one call to a
// DPN REST service, along with whatever objects were parsed from it.
type DPNResponse struct {
	Count    int
	Next     *string
	Previous *string
	Request  *http.Request
	Response *http.Response
	Error    error

	nodes        []*models.Node
	replications []*models.ReplicationTransfer

	objectType        dpn.DPNObjectType
	hasBeenRead       bool
	listHasBeenParsed bool
	data              []byte
}

// NewDPNResponse returns a pointer to a new response object.
func NewDPNResponse(objType dpn.DPNObjectType) *DPNResponse {
	return &DPNResponse{
		objectType: objType,
	}
}

// RawResponseData returns the raw body of the HTTP response as a
// byte slice. The return value may be nil.
func (resp *DPNResponse) RawResponseData() ([]byte, error) {
	if !resp.hasBeenRead {
		resp.readResponse()
	}
	return resp.data, resp.Error
}

// readResponse reads the body of the HTTP response and closes it.
// The body MUST be closed, or we leak connections.
func (resp *DPNResponse) readResponse() {
	if !resp.hasBeenRead && resp.Response != nil && resp.Response.Body != nil {
		resp.data, resp.Error = ioutil.ReadAll(resp.Response.Body)
		resp.Response.Body.Close()
		resp.hasBeenRead = true
	}
}

// ObjectType returns the type of object(s) in this response.
func (resp *DPNResponse) ObjectType() dpn.DPNObjectType {
	return resp.objectType
}

// StatusCode returns the HTTP status of the response, or zero if
// the request never got a response.
func (resp *DPNResponse) StatusCode() int {
	if resp.Response == nil {
		return 0
	}
	return resp.Response.StatusCode
}

// HasNextPage returns true if the response includes a link to the
// next page of results.
func (resp *DPNResponse) HasNextPage() bool {
	return resp.Next != nil && *resp.Next != ""
}

// HasPreviousPage returns true if the response includes a link to
// the previous page of results.
func (resp *DPNResponse) HasPreviousPage() bool {
	return resp.Previous != nil && *resp.Previous != ""
}

// ParamsForNextPage returns the URL params to request the next page
// of results, or nil if there is no next page.
func (resp *DPNResponse) ParamsForNextPage() url.Values {
	if resp.HasNextPage() {
		nextUrl, _ := url.Parse(*resp.Next)
		if nextUrl != nil {
			return nextUrl.Query()
		}
	}
	return nil
}

// ParamsForPreviousPage returns the URL params to request the
// previous page of results, or nil if there is no previous page.
func (resp *DPNResponse) ParamsForPreviousPage() url.Values {
	if resp.HasPreviousPage() {
		previousUrl, _ := url.Parse(*resp.Previous)
		if previousUrl != nil {
			return previousUrl.Query()
		}
	}
	return nil
}

// Node returns the Node parsed from the response body, or nil.
func (resp *DPNResponse) Node() *models.Node {
	if len(resp.nodes) > 0 {
		return resp.nodes[0]
	}
	return nil
}

// Nodes returns the Nodes parsed from the response body.
func (resp *DPNResponse) Nodes() []*models.Node {
	if resp.nodes == nil {
		return make([]*models.Node, 0)
	}
	return resp.nodes
}

// ReplicationTransfer returns the transfer parsed from the response
// body, or nil.
func (resp *DPNResponse) ReplicationTransfer() *models.ReplicationTransfer {
	if len(resp.replications) > 0 {
		return resp.replications[0]
	}
	return nil
}

// ReplicationTransfers returns the transfers parsed from the
// response body.
func (resp *DPNResponse) ReplicationTransfers() []*models.ReplicationTransfer {
	if resp.replications == nil {
		return make([]*models.ReplicationTransfer, 0)
	}
	return resp.replications
}

// UnmarshalJsonList parses a paged list of this response's
// object type.
func (resp *DPNResponse) UnmarshalJsonList() error {
	if resp.listHasBeenParsed {
		return nil
	}
	data, err := resp.RawResponseData()
	if err != nil {
		return err
	}
	switch resp.objectType {
	case dpn.DPNTypeNode:
		list := &models.NodeList{}
		resp.Error = json.Unmarshal(data, list)
		resp.setPage(list.Count, list.Next, list.Previous)
		resp.nodes = list.Results
	case dpn.DPNTypeReplication:
		list := &models.ReplicationList{}
		resp.Error = json.Unmarshal(data, list)
		resp.setPage(list.Count, list.Next, list.Previous)
		resp.replications = list.Results
	default:
		resp.Error = fmt.Errorf("DPNObjectType %v not supported", resp.objectType)
	}
	resp.listHasBeenParsed = true
	return resp.Error
}

// unmarshalObject parses a single object of this response's type.
func (resp *DPNResponse) unmarshalObject() {
	data, err := resp.RawResponseData()
	if err != nil {
		return
	}
	switch resp.objectType {
	case dpn.DPNTypeNode:
		node := &models.Node{}
		if resp.Error = json.Unmarshal(data, node); resp.Error == nil {
			resp.nodes = []*models.Node{node}
		}
	case dpn.DPNTypeReplication:
		xfer := &models.ReplicationTransfer{}
		if resp.Error = json.Unmarshal(data, xfer); resp.Error == nil {
			resp.replications = []*models.ReplicationTransfer{xfer}
		}
	default:
		resp.Error = fmt.Errorf("DPNObjectType %v not supported", resp.objectType)
	}
}

func (resp *DPNResponse) setPage(count int, next, previous *string) {
	resp.Count = count
	resp.Next = next
	resp.Previous = previous
}
