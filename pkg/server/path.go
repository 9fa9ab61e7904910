// Copyright 2025 Trustcompute Protocol

package server

import (
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"

	"github.com/trustcompute/protocol/pkg/hasher"
)

// trimmedSegment returns the first path segment remaining after prefix,
// the idiom the teacher's proof_handlers.go uses instead of a router
// dependency (strings.TrimPrefix + strings.Split).
func trimmedSegment(path, prefix string) string {
	rest := strings.TrimPrefix(path, prefix)
	return strings.Split(rest, "/")[0]
}

func parseDigestSegment(s string) (hasher.Digest, error) {
	s = strings.TrimPrefix(s, "0x")
	b, err := hex.DecodeString(s)
	if err != nil {
		return hasher.Digest{}, fmt.Errorf("invalid hex digest: %w", err)
	}
	if len(b) != hasher.Size {
		return hasher.Digest{}, fmt.Errorf("digest must be %d bytes, got %d", hasher.Size, len(b))
	}
	var d hasher.Digest
	copy(d[:], b)
	return d, nil
}

func jobIDFromPath(w http.ResponseWriter, path, prefix string) (hasher.Digest, bool) {
	seg := trimmedSegment(path, prefix)
	if seg == "" {
		writeError(w, http.StatusBadRequest, "MISSING_JOB_ID", "job id is required in the URL path")
		return hasher.Digest{}, false
	}
	d, err := parseDigestSegment(seg)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JOB_ID", err.Error())
		return hasher.Digest{}, false
	}
	return d, true
}
