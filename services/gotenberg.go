package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"time"

	"fileconvert/apperrors"
)

const (
	gotenbergTool      = "gotenberg"
	defaultGotenbergTO = 5 * time.Minute
	defaultMaxPDF      = 256 << 20
)

// GotenbergService renders office documents to PDF through Gotenberg's
// LibreOffice route.
type GotenbergService struct {
	baseURL   string
	pdfa      string
	timeout   time.Duration
	maxOutput int64
	client    *http.Client
}

// NewGotenbergService returns a renderer. pdfa, when set, is sent as the
// PDF/A conformance level, e.g. "PDF/A-2b". Each call is bounded by timeout
// and the rendered PDF by maxOutput bytes; zero selects the defaults.
func NewGotenbergService(baseURL, pdfa string, timeout time.Duration, maxOutput int64) *GotenbergService {
	if timeout <= 0 {
		timeout = defaultGotenbergTO
	}
	if maxOutput <= 0 {
		maxOutput = defaultMaxPDF
	}
	return &GotenbergService{
		baseURL:   baseURL,
		pdfa:      pdfa,
		timeout:   timeout,
		maxOutput: maxOutput,
		client: &http.Client{
			Timeout: 0, // Use context timeout instead
		},
	}
}

func (g *GotenbergService) ConvertToPDF(ctx context.Context, filename string, data []byte) ([]byte, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile("files", filepath.Base(filename))
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, fmt.Errorf("failed to copy file: %w", err)
	}

	if g.pdfa != "" {
		if err := writer.WriteField("pdfa", g.pdfa); err != nil {
			return nil, fmt.Errorf("failed to write pdfa field: %w", err)
		}
	}

	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close writer: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	url := fmt.Sprintf("%s/forms/libreoffice/convert", g.baseURL)
	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, url, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, g.callError(ctx, callCtx, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusBadRequest:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &apperrors.CorruptInputError{
			Format: extOf(filename),
			Reason: "rejected by renderer",
			Err:    fmt.Errorf("gotenberg: %s", bytes.TrimSpace(msg)),
		}
	case resp.StatusCode != http.StatusOK:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &apperrors.ExternalToolError{
			Tool:     gotenbergTool,
			ExitCode: resp.StatusCode,
			Stderr:   string(msg),
		}
	}

	out, err := io.ReadAll(io.LimitReader(resp.Body, g.maxOutput+1))
	if err != nil {
		return nil, g.callError(ctx, callCtx, err)
	}
	if int64(len(out)) > g.maxOutput {
		return nil, &apperrors.CorruptInputError{
			Format: extOf(filename),
			Reason: fmt.Sprintf("rendered pdf exceeded %d bytes", g.maxOutput),
		}
	}
	if len(out) == 0 {
		return nil, &apperrors.ExternalToolError{Tool: gotenbergTool, Err: fmt.Errorf("empty response")}
	}
	return out, nil
}

func (g *GotenbergService) callError(ctx, callCtx context.Context, err error) error {
	switch {
	case ctx.Err() != nil:
		return fmt.Errorf("%s: %w", gotenbergTool, ctx.Err())
	case errors.Is(callCtx.Err(), context.DeadlineExceeded):
		return &apperrors.TimeoutError{Tool: gotenbergTool, After: g.timeout}
	}
	return &apperrors.ExternalToolError{Tool: gotenbergTool, Err: err}
}

func extOf(filename string) string {
	ext := filepath.Ext(filename)
	if ext == "" {
		return filename
	}
	return ext[1:]
}
