package stream

import (
	"bytes"
	"context"
	"fmt"
	"image/jpeg"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/technosupport/firewatch/internal/alarms"
	"github.com/technosupport/firewatch/internal/metrics"
)

// Options configures Open.
type Options struct {
	BearerToken   string
	MaxFrameBytes int
	// ConnectTimeout bounds the wait for response headers. Frame reads are
	// bounded only by ctx.
	ConnectTimeout time.Duration
	Client         *http.Client
}

// Open connects to connString. http:// and https:// URLs are read as MJPEG;
// file:// URLs and bare paths are read as concatenated JPEG files.
func Open(ctx context.Context, connString string, opts Options) (Source, error) {
	switch {
	case strings.HasPrefix(connString, "http://"), strings.HasPrefix(connString, "https://"):
		return openHTTP(ctx, connString, opts)
	case connString == "":
		return nil, fmt.Errorf("%w: empty connection string", alarms.ErrSourceUnavailable)
	default:
		return openFile(strings.TrimPrefix(connString, "file://"), opts)
	}
}

// splitSource decodes segments from a splitter; undecodable segments count as
// desyncs and are skipped.
type splitSource struct {
	splitter *JPEGSplitter
	closer   io.Closer
}

func (s *splitSource) Next(ctx context.Context) (*Frame, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		seg, err := s.splitter.Next()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("%w: %v", alarms.ErrSourceUnavailable, err)
		}
		img, err := jpeg.Decode(bytes.NewReader(seg))
		if err != nil {
			s.splitter.MarkDesync()
			continue
		}
		metrics.FramesDecodedTotal.Inc()
		return &Frame{Image: img, JPEG: seg, ReceivedAt: time.Now()}, nil
	}
}

func (s *splitSource) Close() error {
	return s.closer.Close()
}

// Desyncs exposes the splitter's discard count.
func (s *splitSource) Desyncs() uint64 {
	return s.splitter.Desyncs()
}

func openHTTP(ctx context.Context, url string, opts Options) (Source, error) {
	client := opts.Client
	if client == nil {
		timeout := opts.ConnectTimeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		client = &http.Client{
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				ResponseHeaderTimeout: timeout,
			},
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", alarms.ErrSourceUnavailable, err)
	}
	if opts.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+opts.BearerToken)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", alarms.ErrSourceUnavailable, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: http status %d", alarms.ErrSourceUnavailable, resp.StatusCode)
	}

	return &splitSource{
		splitter: NewJPEGSplitter(resp.Body, opts.MaxFrameBytes),
		closer:   resp.Body,
	}, nil
}

func openFile(path string, opts Options) (Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", alarms.ErrSourceUnavailable, err)
	}
	return &splitSource{
		splitter: NewJPEGSplitter(f, opts.MaxFrameBytes),
		closer:   f,
	}, nil
}
