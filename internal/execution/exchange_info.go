package execution

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/bnzr-team/grinder/internal/core"
	"github.com/bnzr-team/grinder/pkg/httpx"
)

// DefaultExchangeInfoURL is the Binance USDT-M futures exchange-info
// endpoint.
const DefaultExchangeInfoURL = "https://fapi.binance.com/fapi/v1/exchangeInfo"

// DownloadExchangeInfo refreshes the local exchange-info cache from
// the REST endpoint. Best-effort: callers fall back to the stale cache
// when this fails.
func DownloadExchangeInfo(ctx context.Context, client *httpx.Client, url, path string, clock core.Clock) error {
	if url == "" {
		url = DefaultExchangeInfoURL
	}
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(ctx, "exchange_info", req)
	if err != nil {
		return fmt.Errorf("fetch exchange info: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch exchange info: status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	var file exchangeInfoFile
	if err := json.Unmarshal(body, &file); err != nil {
		return fmt.Errorf("parse exchange info: %w", err)
	}
	file.FetchedAtMs = clock.NowMs()

	out, err := json.Marshal(file)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, out, 0o644); err != nil {
		return fmt.Errorf("write exchange-info cache: %w", err)
	}
	return os.Rename(tmp, path)
}
