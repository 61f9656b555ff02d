package wire

// ErrorCode identifies a failure outcome on the wire. The reserved JSON-RPC
// codes are reused for the standard cases; server-defined conditions sit in
// the -32000.. range.
type ErrorCode int

const (
	// CodeParseError indicates the peer sent something that is not valid JSON.
	CodeParseError ErrorCode = -32700
	// CodeInvalidRequest indicates a structurally valid envelope that is not a
	// valid request in the current session state.
	CodeInvalidRequest ErrorCode = -32600
	// CodeMethodNotFound indicates the request named an unknown method.
	CodeMethodNotFound ErrorCode = -32601
	// CodeInvalidParams indicates the request params could not be decoded.
	CodeInvalidParams ErrorCode = -32602
	// CodeInternalError indicates a server-side fault while handling a request.
	CodeInternalError ErrorCode = -32603

	// CodeCapabilityNotFound indicates capabilities/call named a capability the
	// provider does not declare.
	CodeCapabilityNotFound ErrorCode = -32000
	// CodeCollaboratorError indicates the capability provider failed while
	// handling an invocation. The session continues.
	CodeCollaboratorError ErrorCode = -32001

	// CodeRequestCancelled is delivered to waiters released at session
	// teardown. It never originates from a server.
	CodeRequestCancelled ErrorCode = -32800
)
