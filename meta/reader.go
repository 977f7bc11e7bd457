package meta

import (
	"bufio"
	"bytes"
	"io"
	"strconv"
)

// Pre-allocated byte slices for comparisons (avoid allocation in hot path)
var (
	crlfBytes         = []byte(CRLF)
	errorGenericBytes = []byte(ErrorGeneric)
	clientErrorPrefix = []byte(ErrorClientPrefix + " ")
	serverErrorPrefix = []byte(ErrorServerPrefix + " ")
)

// ReadResponse reads and parses a single response from r.
// Response format: <status> [<size>] <flags>*\r\n[<data>\r\n]
//
// Protocol errors (CLIENT_ERROR, SERVER_ERROR, ERROR) are returned inside
// Response.Error, not as a Go error; use ShouldCloseConnection to decide
// connection handling. Go errors indicate I/O or parsing failures:
//   - io.EOF: connection closed
//   - ParseError: malformed response, connection should be closed
func ReadResponse(r *bufio.Reader) (*Response, error) {
	line, err := r.ReadSlice('\n')
	if err == bufio.ErrBufferFull {
		// Line exceeds buffer, fall back to ReadBytes (allocates)
		line, err = r.ReadBytes('\n')
	}
	if err != nil {
		return nil, err
	}

	line = bytes.TrimSuffix(line, crlfBytes)

	if bytes.HasPrefix(line, clientErrorPrefix) {
		return &Response{Error: &ClientError{Message: string(line[len(clientErrorPrefix):])}}, nil
	}
	if bytes.HasPrefix(line, serverErrorPrefix) {
		return &Response{Error: &ServerError{Message: string(line[len(serverErrorPrefix):])}}, nil
	}
	if bytes.Equal(line, errorGenericBytes) {
		return &Response{Error: &GenericError{Message: ErrorGeneric}}, nil
	}

	if len(line) < 2 {
		return nil, &ParseError{Message: "short response line"}
	}

	statusEnd := bytes.IndexByte(line, ' ')
	if statusEnd == -1 {
		statusEnd = len(line)
	}

	resp := &Response{
		Status: StatusType(line[:statusEnd]),
	}

	rest := line[statusEnd:]

	// VA carries the data size as the second field
	var dataSize = -1
	if resp.Status == StatusVA {
		rest = bytes.TrimPrefix(rest, []byte(" "))
		sizeEnd := bytes.IndexByte(rest, ' ')
		if sizeEnd == -1 {
			sizeEnd = len(rest)
		}
		dataSize, err = strconv.Atoi(string(rest[:sizeEnd]))
		if err != nil || dataSize < 0 {
			return nil, &ParseError{Message: "invalid VA size", Err: err}
		}
		rest = rest[sizeEnd:]
	}

	if len(rest) > 0 {
		resp.Flags = Flags(append([]byte(nil), rest...))
	}

	if dataSize >= 0 {
		data := make([]byte, dataSize+len(CRLF))
		if _, err := io.ReadFull(r, data); err != nil {
			return nil, &ParseError{Message: "short data block", Err: err}
		}
		if !bytes.HasSuffix(data, crlfBytes) {
			return nil, &ParseError{Message: "data block not terminated by CRLF"}
		}
		resp.Data = data[:dataSize]
	}

	return resp, nil
}
