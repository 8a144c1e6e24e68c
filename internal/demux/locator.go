package demux

import (
	"bufio"
	"compress/bzip2"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/ulikunitz/xz"

	"github.com/jmylchreest/tvplay/internal/observability"
)

// IsURL reports whether locator names an http or https resource.
func IsURL(locator string) bool {
	l := strings.ToLower(locator)
	return strings.HasPrefix(l, "http://") || strings.HasPrefix(l, "https://")
}

// openLocator opens a file path, "-" for stdin, or an http(s) URL.
func openLocator(ctx context.Context, locator string, opts Options) (io.ReadCloser, error) {
	switch {
	case locator == "":
		return nil, errors.New("empty locator")
	case locator == "-":
		return io.NopCloser(os.Stdin), nil
	case IsURL(locator):
		return openHTTP(ctx, locator, opts)
	default:
		f, err := os.Open(locator)
		if err != nil {
			return nil, fmt.Errorf("opening %s: %w", locator, err)
		}
		return f, nil
	}
}

func openHTTP(ctx context.Context, locator string, opts Options) (io.ReadCloser, error) {
	logger := opts.logger()
	redacted := observability.RedactURL(locator)

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = opts.HTTPTimeout
	client := &http.Client{Transport: transport}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, locator, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request for %s: %w", redacted, err)
	}
	if opts.UserAgent != "" {
		req.Header.Set("User-Agent", opts.UserAgent)
	}
	if opts.Authorization != "" {
		req.Header.Set("Authorization", opts.Authorization)
	}
	req.Header.Set("Accept-Encoding", "gzip, br")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", redacted, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		return nil, fmt.Errorf("fetching %s: unexpected status %s", redacted, resp.Status)
	}

	logger.Debug("http source opened",
		slog.String("locator", redacted),
		slog.String("content_type", resp.Header.Get("Content-Type")),
		slog.String("content_encoding", resp.Header.Get("Content-Encoding")),
		slog.Int64("content_length", resp.ContentLength),
	)

	return wrapContentEncoding(resp, logger), nil
}

// wrapContentEncoding decodes a compressed response body.
func wrapContentEncoding(resp *http.Response, logger *slog.Logger) io.ReadCloser {
	switch strings.ToLower(resp.Header.Get("Content-Encoding")) {
	case "":
		return resp.Body
	case "gzip":
		reader, err := gzip.NewReader(resp.Body)
		if err != nil {
			logger.Warn("failed to create gzip reader, returning raw body", slog.String("error", err.Error()))
			return resp.Body
		}
		return &decompressReader{reader: reader, closer: resp.Body}
	case "br":
		return &decompressReader{reader: brotli.NewReader(resp.Body), closer: resp.Body}
	default:
		logger.Debug("unknown content encoding, returning raw body",
			slog.String("encoding", resp.Header.Get("Content-Encoding")))
		return resp.Body
	}
}

// decompressReader wraps a decompression reader with the original body closer.
type decompressReader struct {
	reader io.Reader
	closer io.Closer
}

func (d *decompressReader) Read(p []byte) (int, error) {
	return d.reader.Read(p)
}

func (d *decompressReader) Close() error {
	if closer, ok := d.reader.(io.Closer); ok {
		closer.Close()
	}
	return d.closer.Close()
}

// decompress sniffs r for gzip, bzip2 or xz magic and unwraps it.
// Uncompressed data passes through.
func decompress(r io.Reader) (io.Reader, error) {
	br := bufio.NewReader(r)

	header, err := br.Peek(6)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("peeking header: %w", err)
	}

	switch {
	case len(header) >= 2 && header[0] == 0x1f && header[1] == 0x8b:
		gzr, err := gzip.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("creating gzip reader: %w", err)
		}
		return gzr, nil

	case len(header) >= 3 && header[0] == 'B' && header[1] == 'Z' && header[2] == 'h':
		return bzip2.NewReader(br), nil

	case len(header) >= 6 && header[0] == 0xfd && header[1] == '7' && header[2] == 'z' && header[3] == 'X' && header[4] == 'Z' && header[5] == 0x00:
		xzr, err := xz.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("creating xz reader: %w", err)
		}
		return xzr, nil
	}

	return br, nil
}
