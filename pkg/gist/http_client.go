package gist

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/buildbarn/bb-storage/pkg/util"
	"github.com/klauspost/compress/gzip"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	// DefaultAPIURL is the base URL of the public GitHub API.
	DefaultAPIURL = "https://api.github.com"

	// Upper bound on the size of response bodies that are read into
	// memory. Individual gist files are at most 10 MiB when
	// obtained through their raw URL.
	maximumResponseSizeBytes = 64 << 20
)

type httpClient struct {
	httpClient    *http.Client
	baseURL       string
	token         string
	uuidGenerator util.UUIDGenerator
}

// NewHTTPClient creates a Client that talks to the GitHub REST API. If
// a token is provided, it is sent as a bearer credential. The UUID
// generator is used to attach a unique request ID to every request.
func NewHTTPClient(client *http.Client, baseURL, token string, uuidGenerator util.UUIDGenerator) Client {
	return &httpClient{
		httpClient:    client,
		baseURL:       strings.TrimSuffix(baseURL, "/"),
		token:         token,
		uuidGenerator: uuidGenerator,
	}
}

func (c *httpClient) newRequest(ctx context.Context, requestURL string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return nil, util.StatusWrapWithCode(err, codes.InvalidArgument, "Failed to create request")
	}
	requestID, err := c.uuidGenerator()
	if err != nil {
		return nil, util.StatusWrapWithCode(err, codes.Internal, "Failed to generate request ID")
	}
	req.Header.Set("Accept", "application/vnd.github.v3+json")
	req.Header.Set("Accept-Encoding", "gzip")
	req.Header.Set("User-Agent", "gist-fs")
	req.Header.Set("X-Request-Id", requestID.String())
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

func (c *httpClient) do(req *http.Request) (*http.Response, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if req.Context().Err() != nil {
			return nil, util.StatusFromContext(req.Context())
		}
		return nil, util.StatusWrapWithCode(err, codes.Unavailable, "Failed to contact remote API")
	}
	return resp, nil
}

// readBody reads the full body of a response, decompressing it if the
// server applied gzip content encoding.
func readBody(resp *http.Response) ([]byte, error) {
	var r io.Reader = resp.Body
	if strings.EqualFold(resp.Header.Get("Content-Encoding"), "gzip") {
		gzipReader, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, util.StatusWrapWithCode(err, codes.Internal, "Failed to decompress response body")
		}
		defer gzipReader.Close()
		r = gzipReader
	}
	body, err := io.ReadAll(io.LimitReader(r, maximumResponseSizeBytes+1))
	if err != nil {
		return nil, util.StatusWrapWithCode(err, codes.Unavailable, "Failed to read response body")
	}
	if len(body) > maximumResponseSizeBytes {
		return nil, status.Errorf(codes.ResourceExhausted, "Response body exceeds %d bytes", maximumResponseSizeBytes)
	}
	return body, nil
}

// statusFromResponse converts an unexpected HTTP status code to a gRPC
// status error.
func statusFromResponse(resp *http.Response, subject string) error {
	var code codes.Code
	switch {
	case resp.StatusCode == http.StatusNotFound:
		code = codes.NotFound
	case resp.StatusCode == http.StatusUnauthorized:
		code = codes.Unauthenticated
	case resp.StatusCode == http.StatusForbidden:
		code = codes.PermissionDenied
	case resp.StatusCode == http.StatusTooManyRequests:
		code = codes.ResourceExhausted
	case resp.StatusCode >= 500:
		code = codes.Unavailable
	default:
		code = codes.Unknown
	}
	return status.Errorf(code, "%s: remote API returned HTTP status %#v", subject, resp.Status)
}

func (c *httpClient) Fetch(ctx context.Context, gistID string, previous ETag) (*Snapshot, ETag, error) {
	req, err := c.newRequest(ctx, c.baseURL+"/gists/"+url.PathEscape(gistID))
	if err != nil {
		return nil, "", err
	}
	if previous != "" {
		req.Header.Set("If-None-Match", string(previous))
	}
	resp, err := c.do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusNotModified:
		return nil, previous, nil
	case http.StatusOK:
	default:
		return nil, "", statusFromResponse(resp, "Gist "+gistID)
	}

	body, err := readBody(resp)
	if err != nil {
		return nil, "", err
	}
	var snapshot Snapshot
	if err := json.Unmarshal(body, &snapshot); err != nil {
		return nil, "", util.StatusWrapfWithCode(err, codes.Internal, "Failed to parse gist %#v", gistID)
	}
	for filename, file := range snapshot.Files {
		// Files are keyed by name. Fill in the name for objects
		// that omit it.
		if file.Filename == "" {
			file.Filename = filename
			snapshot.Files[filename] = file
		}
	}
	return &snapshot, ETag(resp.Header.Get("ETag")), nil
}

func (c *httpClient) FetchRawContent(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := c.newRequest(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "*/*")
	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusFromResponse(resp, "Raw file contents")
	}
	return readBody(resp)
}
