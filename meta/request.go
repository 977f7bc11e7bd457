package meta

import (
	"bytes"
	"strconv"
)

// Request represents a meta protocol request.
// This is a low-level container for request data without serialization logic.
// Fields map directly to protocol elements.
type Request struct {
	// Command is the 2-character command code: mg, ms, md, ma, me, mn
	Command CmdType

	// Key is the cache key (1-250 bytes, no whitespace unless base64-encoded).
	// Empty for mn command.
	Key string

	// Data is the value to store (for ms command only).
	// Size is derived from len(Data), not stored separately.
	Data []byte

	// Flags is the serialized flags representation.
	//
	// It contains the exact bytes that appear after the key/size on the wire,
	// including the leading spaces (e.g. " v t" or " T60 O42").
	Flags Flags
}

// NewRequest creates a request with the given command, key, data and flags.
func NewRequest(cmd CmdType, key string, data []byte, flags Flags) *Request {
	return &Request{Command: cmd, Key: key, Data: data, Flags: flags}
}

// HasFlag checks whether the request carries a flag of the given type.
func (r *Request) HasFlag(flagType FlagType) bool {
	return r.Flags.Has(flagType)
}

// Flags is a serialized representation of meta protocol flags.
//
// The zero value is ready to use. It holds the exact bytes written after the
// key/size on the wire, which makes encoding a single append and lookup a
// linear scan (flag lists are short).
type Flags []byte

func (f Flags) IsEmpty() bool {
	return len(f) == 0
}

func (f *Flags) Reset() {
	*f = (*f)[:0]
}

func (f Flags) Clone() Flags {
	return append(Flags(nil), f...)
}

// Add appends a flag without a token.
func (f *Flags) Add(flagType FlagType) {
	*f = append(*f, ' ', byte(flagType))
}

// AddToken appends a flag with a token.
func (f *Flags) AddToken(flagType FlagType, token string) {
	*f = append(*f, ' ', byte(flagType))
	*f = append(*f, token...)
}

// AddInt appends a flag with an integer token.
func (f *Flags) AddInt(flagType FlagType, n int64) {
	*f = append(*f, ' ', byte(flagType))
	*f = strconv.AppendInt(*f, n, 10)
}

// AddUint appends a flag with an unsigned integer token.
func (f *Flags) AddUint(flagType FlagType, n uint64) {
	*f = append(*f, ' ', byte(flagType))
	*f = strconv.AppendUint(*f, n, 10)
}

// Get returns the token of the first flag of the given type.
// ok is false if the flag is absent; token is nil for token-less flags.
func (f Flags) Get(flagType FlagType) (token []byte, ok bool) {
	rest := []byte(f)
	for len(rest) > 0 {
		if rest[0] == ' ' {
			rest = rest[1:]
			continue
		}
		end := bytes.IndexByte(rest, ' ')
		if end == -1 {
			end = len(rest)
		}
		if rest[0] == byte(flagType) {
			if end > 1 {
				return rest[1:end], true
			}
			return nil, true
		}
		rest = rest[end:]
	}
	return nil, false
}

// Has reports whether a flag of the given type is present.
func (f Flags) Has(flagType FlagType) bool {
	_, ok := f.Get(flagType)
	return ok
}

// GetInt returns the integer token of the first flag of the given type.
func (f Flags) GetInt(flagType FlagType) (int64, bool) {
	token, ok := f.Get(flagType)
	if !ok || token == nil {
		return 0, false
	}
	n, err := strconv.ParseInt(string(token), 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// GetUint returns the unsigned integer token of the first flag of the given type.
func (f Flags) GetUint(flagType FlagType) (uint64, bool) {
	token, ok := f.Get(flagType)
	if !ok || token == nil {
		return 0, false
	}
	n, err := strconv.ParseUint(string(token), 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}
