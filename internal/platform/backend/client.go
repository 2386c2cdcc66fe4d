// Package backend is the HTTP client for the remote JRL service: the scoring
// endpoint, the case storage endpoint, the bulk spreadsheet endpoint, and the
// access-code issuance relay. Scoring is read-only and may be retried by the
// caller; the client itself never retries.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Prediction is the normalized scoring response. Probability is the percentage
// the scorer reports, already scaled to [0,100].
type Prediction struct {
	Prediction  int     `json:"prediction"`
	Probability float64 `json:"probability"`
}

// RiskLabel renders the binary prediction the way the entry form presents it.
func (p *Prediction) RiskLabel() string {
	if p.Prediction == 1 {
		return "High Risk"
	}
	return "Low Risk"
}

// CodeEmailRequest is the body of the code issuance relay. The codes are
// generated by the gateway and delivered out-of-band by the backend; the
// response is an acknowledgement only.
type CodeEmailRequest struct {
	Email         string `json:"email"`
	Institution   string `json:"institution"`
	First         string `json:"first"`
	Last          string `json:"last"`
	OneTimeCode   string `json:"oneTimeCode"`
	PermanentCode string `json:"permanentCode"`
}

type Client struct {
	baseURL string
	http    *http.Client
	log     zerolog.Logger
}

// NewClient builds a client for the service at baseURL. A nil httpClient gets
// a default with a 30 second timeout.
func NewClient(baseURL string, httpClient *http.Client, logger zerolog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
		log:     logger,
	}
}

// Predict scores one feature mapping. Non-2xx responses surface as
// *BackendError with the upstream message, transport failures as *NetworkError.
func (c *Client) Predict(ctx context.Context, features map[string]float64) (*Prediction, error) {
	var out Prediction
	if err := c.postJSON(ctx, "predict", "/predict", features, &out); err != nil {
		return nil, err
	}
	if out.Prediction != 0 && out.Prediction != 1 {
		return nil, &BackendError{
			Op:      "predict",
			Status:  http.StatusOK,
			Message: fmt.Sprintf("prediction %d is not binary", out.Prediction),
		}
	}
	return &out, nil
}

// SendCodeEmail relays an issuance request. The caller only learns that the
// backend acknowledged it; the codes travel by email.
func (c *Client) SendCodeEmail(ctx context.Context, req CodeEmailRequest) error {
	return c.postJSON(ctx, "send_code_email", "/send_code_email", req, nil)
}

// SubmitCase posts a confirmed submission payload to the storage boundary.
func (c *Client) SubmitCase(ctx context.Context, payload map[string]any) error {
	return c.postJSON(ctx, "submit_data", "/submit_data", payload, nil)
}

// SubmitExcel uploads a spreadsheet as a multipart body in field "file" and
// returns the stored file name the backend reports.
func (c *Client) SubmitExcel(ctx context.Context, filename, contentType string, r io.Reader) (string, error) {
	const op = "submit_excel"

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	hdr := make(textproto.MIMEHeader)
	hdr.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filename))
	hdr.Set("Content-Type", contentType)
	part, err := mw.CreatePart(hdr)
	if err != nil {
		return "", fmt.Errorf("%s: build multipart body: %w", op, err)
	}
	if _, err := io.Copy(part, r); err != nil {
		return "", fmt.Errorf("%s: read spreadsheet: %w", op, err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("%s: finalize multipart body: %w", op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/submit_excel", &body)
	if err != nil {
		return "", fmt.Errorf("%s: build request: %w", op, err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return "", &NetworkError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", c.backendError(op, resp)
	}

	var out struct {
		File string `json:"file"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("%s: decode response: %w", op, err)
	}
	c.log.Info().Str("op", op).Str("file", out.File).Msg("spreadsheet accepted upstream")
	return out.File, nil
}

func (c *Client) postJSON(ctx context.Context, op, path string, body, out any) error {
	buf, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("%s: encode request: %w", op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(buf))
	if err != nil {
		return fmt.Errorf("%s: build request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Warn().Str("op", op).Err(err).Msg("upstream call failed")
		return &NetworkError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	c.log.Debug().
		Str("op", op).
		Int("status", resp.StatusCode).
		Dur("latency", time.Since(start)).
		Msg("upstream call")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return c.backendError(op, resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	return nil
}

// backendError extracts the upstream {"error": ...} message when present.
func (c *Client) backendError(op string, resp *http.Response) error {
	be := &BackendError{Op: op, Status: resp.StatusCode}
	var body struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&body); err == nil {
		be.Message = body.Error
	}
	return be
}
