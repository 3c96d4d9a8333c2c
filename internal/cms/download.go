package cms

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ErrEmptyFileURL is returned when a document has no file to download.
var ErrEmptyFileURL = errors.New("cms: empty file url")

// Download is an open binary response. Callers must close Body.
type Download struct {
	Body          io.ReadCloser
	ContentType   string
	ContentLength int64
	FileName      string
}

// Close releases the underlying response body.
func (d *Download) Close() error {
	if d == nil || d.Body == nil {
		return nil
	}
	return d.Body.Close()
}

// Download opens fileURL for streaming. Relative URLs are resolved against the
// API base. Only the caller's context bounds the transfer.
func (c *Client) Download(ctx context.Context, fileURL string) (*Download, error) {
	fileURL = strings.TrimSpace(fileURL)
	if fileURL == "" {
		return nil, ErrEmptyFileURL
	}
	ref, err := url.Parse(fileURL)
	if err != nil {
		return nil, &MalformedResponseError{Reason: "invalid file url", Cause: err}
	}
	target := c.baseURL.ResolveReference(ref)

	ctx, span := c.tracer.Start(ctx, "cms.download", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(attribute.String("cms.file", target.Path))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("cms: build download request: %w", err)
	}
	req.Header.Set(requestIDHeader, ulid.Make().String())

	resp, err := c.http.Do(req)
	if err != nil {
		err = classifyError(ctx, ctx, 0, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, outcomeOf(err))
		c.recordOutcome(ctx, "download", outcomeOf(err), 0)
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		resp.Body.Close()
		err := &NetworkError{Status: resp.StatusCode, Body: truncateBody(snippet)}
		span.SetStatus(codes.Error, "http_error")
		c.recordOutcome(ctx, "download", "http_error", 0)
		c.logFor(ctx).Warn("cms: download failed", zap.String("url", target.Redacted()), zap.Error(err))
		return nil, err
	}
	c.recordOutcome(ctx, "download", "success", 0)

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return &Download{
		Body:          resp.Body,
		ContentType:   contentType,
		ContentLength: resp.ContentLength,
		FileName:      fileNameFor(resp.Header.Get("Content-Disposition"), target),
	}, nil
}

func fileNameFor(disposition string, target *url.URL) string {
	if disposition != "" {
		if _, params, err := mime.ParseMediaType(disposition); err == nil {
			if name := baseName(params["filename"]); name != "" {
				return name
			}
		}
	}
	if name := baseName(target.Path); name != "" {
		return name
	}
	return "download"
}

func baseName(p string) string {
	p = strings.TrimSpace(strings.ReplaceAll(p, "\\", "/"))
	if p == "" {
		return ""
	}
	switch name := path.Base(p); name {
	case ".", "..", "/":
		return ""
	default:
		return name
	}
}
