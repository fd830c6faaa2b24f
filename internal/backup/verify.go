package backup

import (
	"archive/tar"
	"bufio"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/ulikunitz/xz"
)

// VerifyResult summarizes a readable artifact.
type VerifyResult struct {
	Entries int
	Bytes   int64
}

// VerifyArtifact decompresses the artifact at localPath and walks its tar
// stream. Every entry must be child itself or live under child/.
func VerifyArtifact(localPath, child string) (*VerifyResult, error) {
	file, err := os.Open(localPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open artifact: %w", err)
	}
	defer file.Close()

	stream, err := decompressor(bufio.NewReader(file), detectCompressionFromFilename(localPath))
	if err != nil {
		return nil, err
	}

	result := &VerifyResult{}
	reader := tar.NewReader(stream)
	for {
		header, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("corrupt archive after %d entries: %w", result.Entries, err)
		}

		name := strings.TrimPrefix(path.Clean(header.Name), "./")
		if name != child && !strings.HasPrefix(name, child+"/") {
			return nil, fmt.Errorf("unexpected entry %q outside %q", header.Name, child)
		}

		n, err := io.Copy(io.Discard, reader)
		if err != nil {
			return nil, fmt.Errorf("corrupt entry %q: %w", header.Name, err)
		}
		result.Entries++
		result.Bytes += n
	}

	if result.Entries == 0 {
		return nil, fmt.Errorf("archive is empty")
	}
	return result, nil
}

func decompressor(r io.Reader, compression CompressionConfig) (io.Reader, error) {
	switch normalizeCompression(compression).Type {
	case CompressionNone:
		return r, nil
	case CompressionGzip:
		zr, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("invalid gzip stream: %w", err)
		}
		return zr, nil
	default:
		xr, err := xz.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("invalid xz stream: %w", err)
		}
		return xr, nil
	}
}
