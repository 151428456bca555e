package source

import "bytes"

var (
	jpegSOI = []byte{0xFF, 0xD8}
	jpegEOI = []byte{0xFF, 0xD9}
)

// extractFrame scans buf for one complete JPEG (SOI..EOI). Bytes before the
// SOI marker are stream noise and get discarded with the consumed frame.
func extractFrame(buf []byte) (frame, rest []byte, ok bool) {
	start := bytes.Index(buf, jpegSOI)
	if start < 0 {
		return nil, buf, false
	}
	end := bytes.Index(buf[start+2:], jpegEOI)
	if end < 0 {
		return nil, buf[start:], false
	}
	end = start + 2 + end + 2
	return buf[start:end], buf[end:], true
}
