package sanityml

import (
	"archive/zip"
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/h2non/filetype"

	"github.com/sanityml/sanityml/pickle"
)

// A ContainerCorruptError indicates an archive whose framing could not be
// parsed. Like every per-artifact error it is non-fatal to the overall scan.
type ContainerCorruptError struct {
	Err error
}

func (e *ContainerCorruptError) Error() string {
	return fmt.Sprintf("corrupt container: %v", e.Err)
}

func (e *ContainerCorruptError) Unwrap() error { return e.Err }

// A NoStreamError indicates a container that holds no recognizable
// object-reconstruction stream. This is informational: safetensors and HDF5
// checkpoints are expected to look like this.
type NoStreamError struct {
	Format string
}

func (e *NoStreamError) Error() string {
	if e.Format != "" {
		return fmt.Sprintf("no embedded object stream (%s container)", e.Format)
	}
	return "no embedded object stream"
}

// A stream is one embedded pickle-family byte buffer extracted from an
// artifact, tagged with the archive entry it came from (empty for bare
// streams).
type stream struct {
	entry    string
	data     []byte
	oversize bool // declared size exceeded the byte cap; data withheld
}

var (
	hdf5Magic = []byte{0x89, 'H', 'D', 'F', '\r', '\n', 0x1a, '\n'}
)

// demux locates the object-reconstruction streams inside an artifact's bytes.
// Bare pickle files pass through as a single stream; zip containers are
// enumerated and filtered to pickle-shaped entries; gzip wrapping is
// unwrapped. Raw tensor payloads are never parsed.
func demux(data []byte, maxBytes int64) ([]stream, error) {
	if maxBytes <= 0 {
		maxBytes = pickle.DefaultMaxBytes
	}

	if bytes.HasPrefix(data, hdf5Magic) {
		return nil, &NoStreamError{Format: "hdf5"}
	}
	if isSafetensors(data) {
		return nil, &NoStreamError{Format: "safetensors"}
	}

	kind, _ := filetype.Match(data)
	switch kind.Extension {
	case "zip":
		return demuxZip(data, maxBytes)
	case "gz":
		inner, err := gunzip(data, maxBytes)
		if err != nil {
			return nil, &ContainerCorruptError{Err: err}
		}
		return demux(inner, maxBytes)
	}

	// Pass-through: treat as a bare stream. A non-pickle payload surfaces as
	// a parse finding from the reader rather than an error here.
	return []stream{{data: data}}, nil
}

func demuxZip(data []byte, maxBytes int64) ([]stream, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, &ContainerCorruptError{Err: err}
	}

	var streams []stream
	for _, entry := range zr.File {
		if entry.FileInfo().IsDir() {
			continue
		}
		if !pickleShapedName(entry.Name) {
			// Tensor payloads and metadata. A quick signature check still
			// catches streams hiding behind unconventional names.
			head, err := readEntry(entry, 2)
			if err != nil || !pickleShapedData(head) {
				continue
			}
		}
		if entry.UncompressedSize64 > uint64(maxBytes) {
			// The per-stream byte cap applies before extraction.
			streams = append(streams, stream{entry: entry.Name, oversize: true})
			continue
		}

		body, err := readEntry(entry, maxBytes)
		if err != nil {
			return streams, &ContainerCorruptError{Err: fmt.Errorf("entry %s: %w", entry.Name, err)}
		}
		streams = append(streams, stream{entry: entry.Name, data: body})
	}

	if len(streams) == 0 {
		return nil, &NoStreamError{Format: "zip"}
	}
	return streams, nil
}

// pickleShapedName matches the naming conventions of pickle entries in model
// archives (torch saves data.pkl next to raw tensor blobs).
func pickleShapedName(name string) bool {
	base := path.Base(name)
	return strings.HasSuffix(base, ".pkl") || strings.HasSuffix(base, ".pickle")
}

// pickleShapedData recognizes the protocol-2+ marker that counted pickle
// streams start with.
func pickleShapedData(head []byte) bool {
	return len(head) >= 2 && head[0] == 0x80 && head[1] <= pickle.HighestProtocol
}

func readEntry(entry *zip.File, limit int64) ([]byte, error) {
	rc, err := entry.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(io.LimitReader(rc, limit))
}

func gunzip(data []byte, maxBytes int64) ([]byte, error) {
	gz, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer gz.Close()
	return io.ReadAll(io.LimitReader(gz, maxBytes))
}

// isSafetensors recognizes the safetensors framing: a little-endian header
// length followed by a JSON header. The format cannot embed code.
func isSafetensors(data []byte) bool {
	if len(data) < 9 {
		return false
	}
	n := uint64(data[0]) | uint64(data[1])<<8 | uint64(data[2])<<16 | uint64(data[3])<<24 |
		uint64(data[4])<<32 | uint64(data[5])<<40 | uint64(data[6])<<48 | uint64(data[7])<<56
	if n == 0 || n > uint64(len(data)-8) {
		return false
	}
	return data[8] == '{'
}
