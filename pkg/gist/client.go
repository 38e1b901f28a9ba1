package gist

import (
	"context"
	"time"
)

// ETag is the opaque revision tag returned by the remote API. It can be
// provided to subsequent calls to Client.Fetch() to perform a
// conditional request.
type ETag string

// File contained in a gist.
type File struct {
	Filename  string  `json:"filename"`
	Type      string  `json:"type"`
	Language  string  `json:"language"`
	RawURL    string  `json:"raw_url"`
	Size      uint64  `json:"size"`
	Truncated bool    `json:"truncated"`
	Content   *string `json:"content"`
}

// GetContent returns the contents of the file. The boolean is false if
// the snapshot did not include the full contents, in which case they
// need to be obtained through Client.FetchRawContent().
func (f *File) GetContent() ([]byte, bool) {
	if f.Truncated || f.Content == nil {
		return nil, false
	}
	return []byte(*f.Content), true
}

// Snapshot of a gist, as returned by GET /gists/{gist_id}.
type Snapshot struct {
	ID          string          `json:"id"`
	Description string          `json:"description"`
	Public      bool            `json:"public"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	Files       map[string]File `json:"files"`
	Truncated   bool            `json:"truncated"`
}

// Client for the gists API.
type Client interface {
	// Fetch a snapshot of a gist. If previous is non-empty and the
	// gist has not changed since, no snapshot is returned.
	//
	// Errors are gRPC status errors. NotFound is returned if the
	// gist does not exist, while Unavailable is returned if the
	// API could not be reached.
	Fetch(ctx context.Context, gistID string, previous ETag) (*Snapshot, ETag, error)

	// FetchRawContent downloads the full contents of a single file
	// through its raw URL.
	FetchRawContent(ctx context.Context, rawURL string) ([]byte, error)
}
