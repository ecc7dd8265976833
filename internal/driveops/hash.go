package driveops

import (
	"fmt"
	"io"

	"github.com/tonimelisma/vdrive/internal/vfs"
)

// hashReader streams r through h and returns the hex digest.
func hashReader(r io.Reader, h vfs.Hasher) (string, error) {
	if _, err := io.Copy(hasherWriter{h}, r); err != nil {
		return "", fmt.Errorf("hashing: %w", err)
	}

	return vfs.HexDigest(h), nil
}

// hasherWriter adapts a vfs.Hasher to io.Writer.
type hasherWriter struct {
	h vfs.Hasher
}

func (w hasherWriter) Write(p []byte) (int, error) {
	w.h.Update(p)
	return len(p), nil
}
