package network

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"github.com/APTrust/dpn-registry/dpn"
	dpnmodels "github.com/APTrust/dpn-registry/dpn/models"
	"github.com/APTrust/dpn-registry/models"
	"io"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Don't log error messages longer than this
const MAX_ERR_MSG_SIZE = 2048

// DPNRestClient is a client for the DPN REST API. It makes exactly
// one attempt per call; callers decide what to do about failures.
type DPNRestClient struct {
	HostUrl    string
	APIVersion string
	APIKey     string
	Node       string
	httpClient *http.Client
	transport  *http.Transport
}

// NodeLookup finds node records. The node registry satisfies it.
type NodeLookup interface {
	GetNode(ctx context.Context, namespace string) (*dpnmodels.Node, error)
}

// NewDPNRestClient creates a new DPN REST client. Param node is the
// namespace of the node at hostUrl.
func NewDPNRestClient(hostUrl, apiVersion, apiKey, node string, dpnConfig models.DPNConfig) (*DPNRestClient, error) {
	cookieJar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("Can't create cookie jar for DPN REST client: %v", err)
	}
	transport := &http.Transport{
		MaxIdleConnsPerHost: 8,
		DisableKeepAlives:   false,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ResponseHeaderTimeout: 10 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
	}
	if dpnConfig.AcceptInvalidSSLCerts {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	httpClient := &http.Client{
		Jar:           cookieJar,
		Transport:     transport,
		CheckRedirect: RedirectHandler,
		Timeout:       60 * time.Second,
	}
	if apiVersion == "" {
		apiVersion = dpn.DEFAULT_API_VERSION
	}
	client := &DPNRestClient{
		HostUrl:    strings.TrimRight(hostUrl, "/"),
		APIVersion: apiVersion,
		APIKey:     apiKey,
		Node:       node,
		httpClient: httpClient,
		transport:  transport,
	}
	return client, nil
}

// GetRemoteClients returns a map of clients that can connect to remote
// DPN REST services, keyed by the remote node's namespace.
//
// This will return ONLY those clients for whom the config file contains
// a RemoteNodeTokens entry, because it's impossible to connect to a
// remote node without a token.
func GetRemoteClients(ctx context.Context, nodes NodeLookup, dpnConfig models.DPNConfig) (map[string]*DPNRestClient, error) {
	remoteClients := make(map[string]*DPNRestClient)
	for namespace := range dpnConfig.RemoteNodeTokens {
		remoteClient, err := GetRemoteClient(ctx, nodes, namespace, dpnConfig)
		if err != nil {
			return nil, fmt.Errorf("Error creating remote client for node %s: %v", namespace, err)
		}
		remoteClients[namespace] = remoteClient
	}
	return remoteClients, nil
}

// GetRemoteClient returns a client for one remote node, using the
// APIRoot from our registry unless DPNConfig.RemoteNodeURLs
// overrides it. Tests use the override to point at local servers.
func GetRemoteClient(ctx context.Context, nodes NodeLookup, namespace string, dpnConfig models.DPNConfig) (*DPNRestClient, error) {
	authToken := dpnConfig.RemoteNodeTokens[namespace]
	if authToken == "" {
		return nil, fmt.Errorf("Cannot get auth token for node %s", namespace)
	}
	remoteNode, err := nodes.GetNode(ctx, namespace)
	if err != nil {
		return nil, fmt.Errorf("Error retrieving node record for '%s' from local registry: %v",
			namespace, err)
	}
	apiRoot := remoteNode.APIRoot
	if dpnConfig.RemoteNodeURLs != nil && dpnConfig.RemoteNodeURLs[namespace] != "" {
		apiRoot = dpnConfig.RemoteNodeURLs[namespace]
	}
	if apiRoot == "" {
		return nil, fmt.Errorf("Node %s has no API root", namespace)
	}
	return NewDPNRestClient(apiRoot, dpnConfig.DPNAPIVersion, authToken, remoteNode.Namespace, dpnConfig)
}

// BuildUrl combines the host and protocol in client.HostUrl with
// relativeUrl to create an absolute URL. For example, if client.HostUrl
// is "http://localhost:3456", then client.BuildUrl("/path/to/action.json")
// would return "http://localhost:3456/path/to/action.json".
func (client *DPNRestClient) BuildUrl(relativeUrl string, queryParams url.Values) string {
	fullUrl := client.HostUrl + relativeUrl
	if len(queryParams) > 0 {
		fullUrl = fmt.Sprintf("%s?%s", fullUrl, queryParams.Encode())
	}
	return fullUrl
}

// NewJsonRequest returns a new request with headers indicating
// JSON request and response formats.
func (client *DPNRestClient) NewJsonRequest(ctx context.Context, method, targetUrl string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, targetUrl, body)
	if err != nil {
		return nil, err
	}
	req.Header.Add("Content-Type", "application/json")
	req.Header.Add("Accept", "application/json")
	req.Header.Add("Authorization", fmt.Sprintf(dpn.DEFAULT_TOKEN_FORMAT_STRING, client.APIKey))
	req.Header.Add("Connection", "Keep-Alive")
	return req, nil
}

// NodeGet returns the node with the specified namespace.
func (client *DPNRestClient) NodeGet(ctx context.Context, namespace string) *DPNResponse {
	resp := NewDPNResponse(dpn.DPNTypeNode)
	relativeUrl := fmt.Sprintf("/%s/node/%s/", client.APIVersion, namespace)
	client.doRequest(ctx, resp, "GET", client.BuildUrl(relativeUrl, nil), nil)
	if resp.Error == nil {
		resp.unmarshalObject()
	}
	return resp
}

// NodeList returns the nodes the remote registry knows about.
func (client *DPNRestClient) NodeList(ctx context.Context, params url.Values) *DPNResponse {
	resp := NewDPNResponse(dpn.DPNTypeNode)
	relativeUrl := fmt.Sprintf("/%s/node/", client.APIVersion)
	client.doRequest(ctx, resp, "GET", client.BuildUrl(relativeUrl, params), nil)
	if resp.Error == nil {
		resp.UnmarshalJsonList()
	}
	return resp
}

// ReplicationTransferGet returns the transfer with the specified id.
func (client *DPNRestClient) ReplicationTransferGet(ctx context.Context, replicationId string) *DPNResponse {
	resp := NewDPNResponse(dpn.DPNTypeReplication)
	relativeUrl := fmt.Sprintf("/%s/replicate/%s/", client.APIVersion, replicationId)
	client.doRequest(ctx, resp, "GET", client.BuildUrl(relativeUrl, nil), nil)
	if resp.Error == nil {
		resp.unmarshalObject()
	}
	return resp
}

// ReplicationTransferList returns one page of transfers matching params.
func (client *DPNRestClient) ReplicationTransferList(ctx context.Context, params url.Values) *DPNResponse {
	resp := NewDPNResponse(dpn.DPNTypeReplication)
	relativeUrl := fmt.Sprintf("/%s/replicate/", client.APIVersion)
	client.doRequest(ctx, resp, "GET", client.BuildUrl(relativeUrl, params), nil)
	if resp.Error == nil {
		resp.UnmarshalJsonList()
	}
	return resp
}

// ReplicationTransferCreate asks the remote node to create xfer.
func (client *DPNRestClient) ReplicationTransferCreate(ctx context.Context, xfer *dpnmodels.ReplicationTransfer) *DPNResponse {
	return client.replicationTransferSave(ctx, xfer, "POST")
}

// ReplicationTransferUpdate asks the remote node to apply xfer's
// status and fixity fields.
func (client *DPNRestClient) ReplicationTransferUpdate(ctx context.Context, xfer *dpnmodels.ReplicationTransfer) *DPNResponse {
	return client.replicationTransferSave(ctx, xfer, "PUT")
}

func (client *DPNRestClient) replicationTransferSave(ctx context.Context, xfer *dpnmodels.ReplicationTransfer, method string) *DPNResponse {
	resp := NewDPNResponse(dpn.DPNTypeReplication)
	relativeUrl := fmt.Sprintf("/%s/replicate/", client.APIVersion)
	if method == "PUT" {
		relativeUrl = fmt.Sprintf("/%s/replicate/%s/", client.APIVersion, xfer.ReplicationId)
	}
	postData, err := json.Marshal(xfer)
	if err != nil {
		resp.Error = err
		return resp
	}
	client.doRequest(ctx, resp, method, client.BuildUrl(relativeUrl, nil), bytes.NewBuffer(postData))
	if resp.Error == nil {
		resp.unmarshalObject()
	}
	return resp
}

// ReplicationTransferPaginate walks every page of transfers matching
// params, pageSize records at a time, passing each page to fn. It
// stops when a page is empty or has no next link, or when fn or a
// request returns an error.
func (client *DPNRestClient) ReplicationTransferPaginate(ctx context.Context, params url.Values, pageSize int, fn func([]*dpnmodels.ReplicationTransfer) error) error {
	pageParams := url.Values{}
	for key, values := range params {
		pageParams[key] = append([]string(nil), values...)
	}
	pageParams.Set("page", "1")
	pageParams.Set("page_size", strconv.Itoa(pageSize))
	for {
		resp := client.ReplicationTransferList(ctx, pageParams)
		if resp.Error != nil {
			return resp.Error
		}
		xfers := resp.ReplicationTransfers()
		if len(xfers) == 0 {
			return nil
		}
		if err := fn(xfers); err != nil {
			return err
		}
		if !resp.HasNextPage() {
			return nil
		}
		pageParams = resp.ParamsForNextPage()
	}
}

// doRequest issues an HTTP request, reads the response, and closes
// the connection to the remote server. Errors, including non-2xx
// responses, are recorded in resp.Error.
func (client *DPNRestClient) doRequest(ctx context.Context, resp *DPNResponse, method, absoluteUrl string, requestData io.Reader) {
	request, err := client.NewJsonRequest(ctx, method, absoluteUrl, requestData)
	resp.Request = request
	resp.Error = err
	if resp.Error != nil {
		return
	}
	resp.Response, resp.Error = client.httpClient.Do(request)
	if resp.Error != nil {
		return
	}

	// Read the response data and close the response body.
	// That's the only way to close the remote HTTP connection,
	// which will otherwise stay open indefinitely, causing
	// the system to eventually have too many open files.
	resp.readResponse()
	if resp.Error == nil && (resp.Response.StatusCode < 200 || resp.Response.StatusCode > 299) {
		body := string(resp.data)
		if len(body) > MAX_ERR_MSG_SIZE {
			body = body[:MAX_ERR_MSG_SIZE]
		}
		resp.Error = fmt.Errorf("%s %s returned status %d: %s",
			method, absoluteUrl, resp.Response.StatusCode, body)
	}
}

// RedirectHandler copies the original request's headers onto a
// redirect, since the Go HTTP client does not. The auth header is
// sent only if the redirect stays on the original host.
func RedirectHandler(req *http.Request, via []*http.Request) error {
	if len(via) >= 10 {
		return fmt.Errorf("too many redirects")
	}
	if len(via) == 0 {
		return nil
	}
	sameHost := req.URL.Host == via[0].URL.Host
	for attr, val := range via[0].Header {
		if _, ok := req.Header[attr]; !ok {
			if attr != "Authorization" || sameHost {
				req.Header[attr] = val
			}
		}
	}
	// The http client forwards Authorization to the same hostname
	// on any port. Host here includes the port.
	if !sameHost {
		req.Header.Del("Authorization")
	}
	return nil
}
