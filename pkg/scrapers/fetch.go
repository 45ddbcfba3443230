package scrapers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"price-guard/pkg/models"
)

const maxBodyBytes = 4 << 20

// FetchJSON performs the request and decodes a 2xx JSON body into out.
// Transport failures become TRANSPORT_ERROR (TIMEOUT on deadline) and
// non-2xx responses HTTP_ERROR.
func FetchJSON(ctx context.Context, client *http.Client, req *http.Request, out any) (int, error) {
	if client == nil {
		client = http.DefaultClient
	}
	req = req.WithContext(ctx)
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}

	resp, err := client.Do(req)
	if err != nil {
		return 0, classifyTransport(ctx, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return resp.StatusCode, classifyTransport(ctx, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, models.NewVerifyError(models.MethodAPI, models.CodeHTTPError, "http status %d", resp.StatusCode)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return resp.StatusCode, models.NewVerifyError(models.MethodAPI, models.CodeTransportError, "decode response: %v", err)
	}
	return resp.StatusCode, nil
}

func classifyTransport(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return models.NewVerifyError(models.MethodAPI, models.CodeTimeout, "request timed out")
	}
	var ne interface{ Timeout() bool }
	if errors.As(err, &ne) && ne.Timeout() {
		return models.NewVerifyError(models.MethodAPI, models.CodeTimeout, "request timed out: %v", err)
	}
	return models.NewVerifyError(models.MethodAPI, models.CodeTransportError, "%s", fmt.Sprint(err))
}
