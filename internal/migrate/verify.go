package migrate

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// VerifyArchive checks that the gzip-compressed tar at path is readable to
// the end and holds exactly one top-level directory named agentID. It
// catches truncated transfers before anything reaches the destination.
func VerifyArchive(path, agentID string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening archive: %w", err)
	}
	defer f.Close()

	zr, err := gzip.NewReader(f)
	if err != nil {
		return fmt.Errorf("reading archive: %w", err)
	}
	defer zr.Close()

	tr := tar.NewReader(zr)
	entries := 0
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("reading archive entry %d: %w", entries+1, err)
		}
		name := strings.TrimPrefix(hdr.Name, "./")
		if name != agentID && name != agentID+"/" && !strings.HasPrefix(name, agentID+"/") {
			return fmt.Errorf("archive entry %q is outside %s/", hdr.Name, agentID)
		}
		// Drain the body so truncation inside a file is detected.
		if _, err := io.Copy(io.Discard, tr); err != nil {
			return fmt.Errorf("reading archive entry %q: %w", hdr.Name, err)
		}
		entries++
	}
	if entries == 0 {
		return errors.New("archive is empty")
	}
	return nil
}
