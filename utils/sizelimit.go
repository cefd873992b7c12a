package utils

import (
	"github.com/dustin/go-humanize"
)

// MultipartOverhead is the framing allowance added on top of the upload
// ceiling when judging a declared Content-Length: boundaries, part headers
// and the expiration field all ride in the same body as the file.
const MultipartOverhead int64 = 512 << 10 // 512 KiB

// SizeLimit enforces the single upload byte ceiling at two checkpoints:
// a cheap pre-check against the declared request size before the body is
// read, and an authoritative post-check against the decoded file size.
// Both checkpoints reject with the same label so client messaging is
// consistent regardless of which one fired.
type SizeLimit struct {
	Max int64
}

// NewSizeLimit builds a policy for the given byte ceiling.
func NewSizeLimit(max int64) SizeLimit {
	return SizeLimit{Max: max}
}

// Label renders the ceiling for user-facing messages, e.g. "500 MiB".
func (l SizeLimit) Label() string {
	return humanize.IBytes(uint64(l.Max))
}

// ExceedsDeclared judges the declared Content-Length before any body bytes
// are read. It only fires on a known positive declaration; unknown lengths
// (-1) and zero pass through to the authoritative post-check. The multipart
// framing allowance keeps a file exactly at the ceiling from being rejected
// for its envelope.
func (l SizeLimit) ExceedsDeclared(contentLength int64) bool {
	return contentLength > 0 && contentLength > l.Max+MultipartOverhead
}

// ExceedsActual judges the exact decoded file size. Authoritative: it
// catches absent or understated declarations.
func (l SizeLimit) ExceedsActual(size int64) bool {
	return size > l.Max
}

// Message is the shared rejection text for both checkpoints.
func (l SizeLimit) Message() string {
	return "file size exceeds " + l.Label()
}
