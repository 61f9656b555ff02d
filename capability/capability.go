// Package capability defines the collaborator surface consumed by the
// transport: named, described, invokable units of server functionality.
//
// The transport core never interprets capability arguments; it hands the
// decoded argument bag to a Provider and relays the resulting content blocks
// (or failure) back to the caller. Argument shape enforcement, when wanted,
// lives here rather than in the transport.
package capability

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Descriptor describes one capability. Descriptors are immutable and are
// enumerated once per session, at negotiation or listing time.
type Descriptor struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

// ContentBlock is one unit of capability output.
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Text builds a single-block text result.
func Text(format string, args ...any) []ContentBlock {
	return []ContentBlock{{Type: "text", Text: fmt.Sprintf(format, args...)}}
}

// ErrNotFound reports an invocation of a capability the provider does not
// declare. The dispatcher maps it to a stable not-found failure code.
var ErrNotFound = errors.New("capability not found")

// Provider is the external collaborator implementing capability listing and
// invocation. Implementations must be safe for concurrent use.
type Provider interface {
	// ListCapabilities enumerates the declared capability set.
	ListCapabilities(ctx context.Context) ([]Descriptor, error)

	// Invoke runs the named capability with the raw argument bag. Unknown
	// names return an error wrapping ErrNotFound. Any other error is a
	// capability-level failure; it never tears down the session.
	Invoke(ctx context.Context, name string, args json.RawMessage) ([]ContentBlock, error)
}
