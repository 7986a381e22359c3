package printer

import (
	"fmt"
	"strings"

	"golang.org/x/text/encoding/htmlindex"
)

// OpKind is the kind of work an Operation performs.
type OpKind int

const (
	OpSend OpKind = iota + 1
	OpQuery
)

func (k OpKind) String() string {
	switch k {
	case OpSend:
		return "send"
	case OpQuery:
		return "query"
	default:
		return "unknown"
	}
}

// Operation is one logical request against a printer.
type Operation struct {
	Kind OpKind
	// Payload is UTF-8 text (or raw bytes) for OpSend.
	Payload []byte
	// Encoding is the charset Payload is transcoded to before writing.
	// Empty, "utf-8" and "raw" write Payload unchanged.
	Encoding string
	// Keys are the settings read by OpQuery, answered in order.
	Keys []string
}

// Send returns an operation that writes payload in the given encoding.
func Send(payload []byte, encoding string) Operation {
	return Operation{Kind: OpSend, Payload: payload, Encoding: encoding}
}

// Query returns an operation that reads the given settings.
func Query(keys ...string) Operation {
	return Operation{Kind: OpQuery, Keys: keys}
}

// prepare validates op and returns the bytes to write, if any.
func (op Operation) prepare() ([]byte, error) {
	switch op.Kind {
	case OpSend:
		if len(op.Payload) == 0 {
			return nil, newError(InvalidArgument, CodeInvalidPayload, "payload is empty", nil)
		}
		return encodePayload(op.Payload, op.Encoding)
	case OpQuery:
		if len(op.Keys) == 0 {
			return nil, newError(InvalidArgument, CodeInvalidPayload, "no settings to query", nil)
		}
		for _, k := range op.Keys {
			if strings.TrimSpace(k) == "" {
				return nil, newError(InvalidArgument, CodeInvalidPayload, "empty setting name", nil)
			}
		}
		return nil, nil
	default:
		return nil, newError(InvalidArgument, CodeInvalidPayload, fmt.Sprintf("unknown operation %d", op.Kind), nil)
	}
}

func encodePayload(p []byte, name string) ([]byte, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "utf-8", "utf8", "raw", "binary":
		return p, nil
	}
	enc, err := htmlindex.Get(name)
	if err != nil {
		return nil, newError(InvalidArgument, CodeInvalidEncoding, fmt.Sprintf("unsupported encoding %q", name), err)
	}
	out, err := enc.NewEncoder().Bytes(p)
	if err != nil {
		return nil, newError(InvalidArgument, CodeInvalidEncoding, fmt.Sprintf("payload cannot be encoded as %s", name), err)
	}
	return out, nil
}

// Readiness records how a connection was judged ready before use.
type Readiness int

const (
	// ReadinessReused: the active connection was reused, no probing.
	ReadinessReused Readiness = iota + 1
	// ReadinessWarm: a recent connection allowed the fast path.
	ReadinessWarm
	// ReadinessVerified: a readiness probe was answered.
	ReadinessVerified
	// ReadinessAssumed: every probe failed and the operation went ahead.
	ReadinessAssumed
)

func (r Readiness) String() string {
	switch r {
	case ReadinessReused:
		return "reused"
	case ReadinessWarm:
		return "warm"
	case ReadinessVerified:
		return "verified"
	case ReadinessAssumed:
		return "assumed"
	default:
		return "unknown"
	}
}

// Result describes a completed (or failed) operation.
type Result struct {
	ID        string
	Address   string
	Kind      OpKind
	Reused    bool
	Readiness Readiness
	Probes    int
	Written   int
	Values    []string
}
