// Package files reads, writes and lists files on a host, confined to the
// OpenClaw state directory. Every path is checked before any remote call is
// made. File content never appears on a command line as text: writes carry
// base64 and reads come back as base64.
package files

import (
	"context"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"github.com/majorcontext/reef/internal/log"
	"github.com/majorcontext/reef/internal/remote"
	"github.com/majorcontext/reef/internal/shellcmd"
)

// Root is the confinement root. Paths are home-relative and must be Root
// itself or lie beneath it.
const Root = "~/.openclaw"

// DefaultMaxBytes is the read and write ceiling used when none is configured.
const DefaultMaxBytes = 1_000_000

// chunkSize bounds the base64 text carried by a single command. Linux caps a
// single argv string at 128 KiB. Must be a multiple of 4.
const chunkSize = 64 * 1024

// stagingSuffix names the sibling file large writes are assembled in.
const stagingSuffix = ".reef-upload"

// Entry is one directory listing entry.
type Entry struct {
	Name string `json:"name"`
	// Type is "file" or "directory".
	Type string `json:"type"`
}

// Accessor gates file operations on a host.
type Accessor struct {
	runner   remote.Runner
	maxBytes int64
}

// New returns an Accessor. maxBytes <= 0 selects DefaultMaxBytes.
func New(r remote.Runner, maxBytes int64) *Accessor {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &Accessor{runner: r, maxBytes: maxBytes}
}

// MaxBytes reports the configured ceiling.
func (a *Accessor) MaxBytes() int64 { return a.maxBytes }

// FromLocalHome rewrites a path the local shell expanded from an unquoted
// ~ back into Root form. Other paths are returned unchanged.
func FromLocalHome(path, home string) string {
	home = strings.TrimSuffix(home, "/")
	if home == "" {
		return path
	}
	local := home + strings.TrimPrefix(Root, "~")
	if path == local || strings.HasPrefix(path, local+"/") {
		return Root + strings.TrimPrefix(path, local)
	}
	return path
}

// CheckPath reports whether path is inside Root and free of traversal.
func CheckPath(path string) error {
	if path != Root && !strings.HasPrefix(path, Root+"/") {
		return &PolicyError{Path: path, Reason: "must be within " + Root + "/"}
	}
	if strings.ContainsAny(path, "\x00\n\r") {
		return &PolicyError{Path: path, Reason: "contains a control character"}
	}
	for _, seg := range strings.Split(path, "/") {
		if seg == ".." {
			return &PolicyError{Path: path, Reason: "contains a parent-directory segment"}
		}
	}
	return nil
}

// Size returns the size in bytes of the file at path.
func (a *Accessor) Size(ctx context.Context, p remote.Params, path string) (int64, error) {
	if err := CheckPath(path); err != nil {
		return 0, err
	}
	return a.size(ctx, p, path)
}

func (a *Accessor) size(ctx context.Context, p remote.Params, path string) (int64, error) {
	res, err := a.runner.Run(ctx, p, "stat -c %s -- "+shellcmd.HomePath(path))
	if err != nil {
		return 0, err
	}
	if !res.OK() {
		return 0, commandError("stat", path, res)
	}
	n, err := strconv.ParseInt(strings.TrimSpace(res.Stdout), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing size of %s: %w", path, err)
	}
	return n, nil
}

// Read returns the content of the file at path. The size is probed first;
// files above the ceiling fail with *SizeError and no content is transferred.
func (a *Accessor) Read(ctx context.Context, p remote.Params, path string) ([]byte, error) {
	if err := CheckPath(path); err != nil {
		return nil, err
	}
	n, err := a.size(ctx, p, path)
	if err != nil {
		return nil, err
	}
	if n > a.maxBytes {
		return nil, &SizeError{Path: path, Size: n, Limit: a.maxBytes}
	}

	res, err := a.runner.Run(ctx, p, "base64 < "+shellcmd.HomePath(path))
	if err != nil {
		return nil, err
	}
	if !res.OK() {
		return nil, commandError("read", path, res)
	}
	data, err := base64.StdEncoding.DecodeString(strings.Join(strings.Fields(res.Stdout), ""))
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}
	// The file may have grown between the probe and the read.
	if int64(len(data)) > a.maxBytes {
		return nil, &SizeError{Path: path, Size: int64(len(data)), Limit: a.maxBytes}
	}
	return data, nil
}

// Write replaces the file at path with content, byte for byte. The parent
// directory must exist. Writing the same content twice leaves the same file.
func (a *Accessor) Write(ctx context.Context, p remote.Params, path string, content []byte) error {
	if err := CheckPath(path); err != nil {
		return err
	}
	if path == Root || strings.HasSuffix(path, "/") {
		return &PolicyError{Path: path, Reason: "is a directory"}
	}
	if int64(len(content)) > a.maxBytes {
		return &SizeError{Path: path, Size: int64(len(content)), Limit: a.maxBytes}
	}

	encoded := base64.StdEncoding.EncodeToString(content)
	target := shellcmd.HomePath(path)
	if len(encoded) <= chunkSize {
		res, err := a.runner.Run(ctx, p, "printf '%s' '"+encoded+"' | base64 -d > "+target)
		if err != nil {
			return err
		}
		if !res.OK() {
			return commandError("write", path, res)
		}
		return nil
	}
	return a.writeStaged(ctx, p, path, encoded)
}

// writeStaged appends base64 text to a sibling staging file in chunks and
// decodes it onto the target in a final step, so the target is only touched
// once the whole payload has arrived.
func (a *Accessor) writeStaged(ctx context.Context, p remote.Params, path, encoded string) (err error) {
	staging := shellcmd.HomePath(path + stagingSuffix)
	defer func() {
		if err == nil {
			return
		}
		if res, rerr := a.runner.Run(ctx, p, "rm -f "+staging); rerr != nil || !res.OK() {
			log.Warn("removing staged upload failed", "host", p.Host, "path", path+stagingSuffix, "error", rerr)
		}
	}()

	redirect := ">"
	for off := 0; off < len(encoded); off += chunkSize {
		end := min(off+chunkSize, len(encoded))
		res, err := a.runner.Run(ctx, p, "printf '%s' '"+encoded[off:end]+"' "+redirect+" "+staging)
		if err != nil {
			return err
		}
		if !res.OK() {
			return commandError("stage", path, res)
		}
		redirect = ">>"
	}

	res, err := a.runner.Run(ctx, p, "base64 -d "+staging+" > "+shellcmd.HomePath(path)+" && rm -f "+staging)
	if err != nil {
		return err
	}
	if !res.OK() {
		return commandError("write", path, res)
	}
	log.Debug("staged write complete", "host", p.Host, "path", path, "chunks", (len(encoded)+chunkSize-1)/chunkSize)
	return nil
}

// List returns the entries of the directory at path.
func (a *Accessor) List(ctx context.Context, p remote.Params, path string) ([]Entry, error) {
	if err := CheckPath(path); err != nil {
		return nil, err
	}
	res, err := a.runner.Run(ctx, p, "ls -1p -- "+shellcmd.HomePath(path))
	if err != nil {
		return nil, err
	}
	if !res.OK() {
		return nil, commandError("list", path, res)
	}
	return parseListing(res.Stdout), nil
}

func parseListing(out string) []Entry {
	var entries []Entry
	for _, line := range strings.Split(out, "\n") {
		if line == "" {
			continue
		}
		e := Entry{Name: line, Type: "file"}
		if strings.HasSuffix(line, "/") {
			e.Name, e.Type = strings.TrimSuffix(line, "/"), "directory"
		}
		entries = append(entries, e)
	}
	return entries
}
