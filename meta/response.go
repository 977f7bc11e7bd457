package meta

// Response represents a parsed meta protocol response.
// This is a low-level container for response data without parsing logic.
// Fields map directly to protocol elements.
type Response struct {
	// Status is the 2-character response code: HD, VA, EN, NF, NS, EX, MN, ME
	Status StatusType

	// Data is the value data (only present for VA responses).
	Data []byte

	// Flags contains all flags returned in the response.
	// Order matches the response wire order.
	Flags Flags

	// Error is set for non-meta error responses: ERROR, CLIENT_ERROR, SERVER_ERROR.
	// When Error is set, other fields may be empty or invalid.
	Error error
}

// IsSuccess returns true if the response indicates a successful operation.
func (r *Response) IsSuccess() bool {
	switch r.Status {
	case StatusHD, StatusVA, StatusMN, StatusME:
		return true
	default:
		return false
	}
}

// IsMiss returns true if the response indicates a cache miss.
func (r *Response) IsMiss() bool {
	return r.Status == StatusEN || r.Status == StatusNF
}

// IsNotStored returns true if the response indicates the item was not stored.
// Not an error: e.g. add on an existing key, replace on a missing key.
func (r *Response) IsNotStored() bool {
	return r.Status == StatusNS
}

// IsCASMismatch returns true if the response indicates a CAS mismatch.
func (r *Response) IsCASMismatch() bool {
	return r.Status == StatusEX
}

// HasValue returns true if the response includes value data.
func (r *Response) HasValue() bool {
	return r.Status == StatusVA && r.Data != nil
}

// HasError returns true if the response contains a protocol error.
func (r *Response) HasError() bool {
	return r.Error != nil
}

// HasFlag checks if the response contains a flag of the given type.
func (r *Response) HasFlag(flagType FlagType) bool {
	return r.Flags.Has(flagType)
}

// OpaqueToken returns the value of the O flag, or 0 if absent or malformed.
// Servers echo the opaque token verbatim, which makes it usable as a
// correlation id for pipelined requests.
func (r *Response) OpaqueToken() uint64 {
	n, _ := r.Flags.GetUint(FlagOpaque)
	return n
}
