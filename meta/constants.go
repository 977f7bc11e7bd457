package meta

// CmdType represents a meta protocol command (2 characters).
type CmdType string

// FlagType represents a single-character flag identifier.
type FlagType byte

// StatusType represents a response status code (2 characters).
type StatusType string

// Protocol delimiters
const (
	// CRLF is the line terminator for the memcached protocol
	CRLF = "\r\n"
)

// Command codes (2 characters)
const (
	// CmdGet retrieves item data and metadata from cache.
	// Wire format: mg <key> <flags>*\r\n
	CmdGet CmdType = "mg"

	// CmdSet stores data in cache.
	// Wire format: ms <key> <size> <flags>*\r\n<data>\r\n
	CmdSet CmdType = "ms"

	// CmdDelete removes an item from cache.
	// Wire format: md <key> <flags>*\r\n
	CmdDelete CmdType = "md"

	// CmdArithmetic increments or decrements a numeric value.
	// Wire format: ma <key> <flags>*\r\n
	CmdArithmetic CmdType = "ma"

	// CmdDebug returns internal item metadata as key=value pairs.
	// Wire format: me <key>\r\n
	CmdDebug CmdType = "me"

	// CmdNoOp is a pipeline marker; the server echoes MN.
	// Wire format: mn\r\n
	CmdNoOp CmdType = "mn"
)

// Response status codes (2 characters)
const (
	StatusHD StatusType = "HD" // success, no value
	StatusVA StatusType = "VA" // success, value follows
	StatusEN StatusType = "EN" // miss
	StatusNF StatusType = "NF" // not found (md/ma)
	StatusNS StatusType = "NS" // not stored
	StatusEX StatusType = "EX" // CAS mismatch
	StatusMN StatusType = "MN" // mn response
	StatusME StatusType = "ME" // me response
)

// Flag identifiers (single character)
const (
	FlagReturnValue FlagType = 'v' // return value data
	FlagReturnCAS   FlagType = 'c' // return CAS token
	FlagReturnTTL   FlagType = 't' // return remaining TTL
	FlagReturnKey   FlagType = 'k' // return key in response
	FlagOpaque      FlagType = 'O' // opaque token echoed in the response
	FlagQuiet       FlagType = 'q' // suppress miss responses
	FlagTTL         FlagType = 'T' // set TTL (seconds)
	FlagMode        FlagType = 'M' // operation mode (add/replace/incr/decr...)
	FlagDelta       FlagType = 'D' // arithmetic delta
	FlagInitial     FlagType = 'N' // arithmetic auto-vivify TTL
	FlagBase64Key   FlagType = 'b' // key is base64-encoded
)

// Mode flag tokens
const (
	ModeAdd       = "E"
	ModeReplace   = "R"
	ModeIncrement = "I"
	ModeDecrement = "D"
)

// Error response prefixes
const (
	ErrorGeneric      = "ERROR"
	ErrorClientPrefix = "CLIENT_ERROR"
	ErrorServerPrefix = "SERVER_ERROR"
)

// Key constraints
const (
	MinKeyLength = 1
	MaxKeyLength = 250

	// MaxOpaqueLength is the server-side limit on the O flag token.
	MaxOpaqueLength = 32
)
