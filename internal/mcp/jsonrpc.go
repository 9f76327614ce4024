// ABOUTME: JSON-RPC 2.0 envelope types. Request ids stay raw bytes end to
// ABOUTME: end so 0, "abc", and null all round-trip byte-for-byte.
package mcp

import "encoding/json"

// JSON-RPC 2.0 error codes.
const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeInternalError  = -32603
)

// nullID is the response id for requests that carried no id at all.
var nullID = json.RawMessage("null")

// Request is an inbound JSON-RPC 2.0 request. ID is kept raw: an absent id
// and an explicit null are told apart by checking len(ID), never by value.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response is an outbound JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is the error member of a failed response.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// responseID echoes the request id verbatim, substituting null when the
// request had none.
func responseID(id json.RawMessage) json.RawMessage {
	if len(id) == 0 {
		return nullID
	}
	return id
}

// successResponse builds a result response for the given request id.
func successResponse(id json.RawMessage, result any) *Response {
	return &Response{JSONRPC: "2.0", ID: responseID(id), Result: result}
}

// errorResponse builds an error response for the given request id.
func errorResponse(id json.RawMessage, code int, message string) *Response {
	return &Response{JSONRPC: "2.0", ID: responseID(id), Error: &RPCError{Code: code, Message: message}}
}
