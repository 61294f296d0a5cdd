package storage

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"

	"github.com/kaptinlin/jsonrepair"
)

// maxTranscriptLine bounds a single transcript line. Tool-result records in
// agent transcripts routinely reach hundreds of kilobytes.
const maxTranscriptLine = 4 * 1024 * 1024

// forEachLine invokes fn for every non-blank line of r. Lines keep their
// exact bytes (no trailing newline) so mutation paths can rewrite files
// byte-for-byte.
func forEachLine(r io.Reader, fn func(line []byte) error) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxTranscriptLine)
	for sc.Scan() {
		line := sc.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		// Scanner reuses its buffer across calls.
		copied := make([]byte, len(line))
		copy(copied, line)
		if err := fn(copied); err != nil {
			return err
		}
	}
	return sc.Err()
}

// decodeLine unmarshals one transcript line into v. Malformed lines get one
// repair attempt before being reported as undecodable; callers skip those
// rather than failing the surrounding read.
func decodeLine(line []byte, v interface{}) bool {
	if json.Unmarshal(line, v) == nil {
		return true
	}
	fixed, err := jsonrepair.JSONRepair(string(line))
	if err != nil {
		return false
	}
	return json.Unmarshal([]byte(fixed), v) == nil
}

// repairLine returns a decodable form of line, preferring the original
// bytes. ok is false when the line cannot be made decodable at all.
func repairLine(line []byte) (out []byte, repaired, ok bool) {
	if json.Valid(line) {
		return line, false, true
	}
	fixed, err := jsonrepair.JSONRepair(string(line))
	if err != nil {
		return nil, false, false
	}
	return []byte(fixed), true, true
}
