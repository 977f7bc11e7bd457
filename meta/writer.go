package meta

import (
	"io"
	"strconv"
	"strings"
)

// ValidateKey checks if a key is valid for the memcache protocol.
// Keys must be 1-250 bytes and contain no whitespace (unless base64-encoded).
func ValidateKey(key string, hasBase64Flag bool) error {
	keyLen := len(key)

	if keyLen < MinKeyLength {
		return &InvalidKeyError{Message: "key is empty"}
	}

	if keyLen > MaxKeyLength {
		return &InvalidKeyError{Message: "key exceeds maximum length of 250 bytes"}
	}

	if !hasBase64Flag && strings.ContainsAny(key, " \t\r\n") {
		return &InvalidKeyError{Message: "key contains whitespace"}
	}

	return nil
}

// EncodeRequest serializes a request to wire format.
// Format: <command> <key> [<size>] <flags>*\r\n[<data>\r\n]
//
//	ms:  ms <key> <size> <flags>*\r\n<data>\r\n
//	mn:  mn\r\n
//	others: <cmd> <key> <flags>*\r\n
//
// The returned buffer is freshly allocated: callers may hold it for as long
// as an asynchronous write needs it.
func EncodeRequest(req *Request) ([]byte, error) {
	if req.Command == CmdNoOp {
		return []byte(string(CmdNoOp) + CRLF), nil
	}

	if err := ValidateKey(req.Key, req.HasFlag(FlagBase64Key)); err != nil {
		return nil, err
	}

	size := len(string(req.Command)) + 1 + len(req.Key) + len(req.Flags) + len(CRLF)
	if req.Command == CmdSet {
		size += 1 + 10 + len(req.Data) + len(CRLF)
	}

	buf := make([]byte, 0, size)
	buf = append(buf, req.Command...)
	buf = append(buf, ' ')
	buf = append(buf, req.Key...)
	if req.Command == CmdSet {
		buf = append(buf, ' ')
		buf = strconv.AppendInt(buf, int64(len(req.Data)), 10)
	}
	buf = append(buf, req.Flags...)
	buf = append(buf, CRLF...)
	if req.Command == CmdSet {
		buf = append(buf, req.Data...)
		buf = append(buf, CRLF...)
	}
	return buf, nil
}

// WriteRequest serializes a request and writes it to w.
func WriteRequest(w io.Writer, req *Request) error {
	buf, err := EncodeRequest(req)
	if err != nil {
		return err
	}
	_, err = w.Write(buf)
	return err
}
