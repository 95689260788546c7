package storageclient

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/cepro/northbridge/telemetry"
	"github.com/dustin/go-humanize"
)

// maxErrorBody is how much of a failed response is kept in the returned error.
const maxErrorBody = 256

// Client implements the reading query API of the storage service.
type Client struct {
	httpClient http.Client
	baseUrl    string
	decoder    *telemetry.Decoder

	logger *slog.Logger
}

func New(httpClient http.Client, baseUrl string, decoder *telemetry.Decoder) *Client {
	client := &Client{
		httpClient: httpClient,
		baseUrl:    strings.TrimRight(baseUrl, "/"),
		decoder:    decoder,
		logger:     slog.Default().With("host", baseUrl),
	}

	return client
}

// FetchReadings queries up to `count` readings with an id greater than `afterID` and decodes the result.
func (c *Client) FetchReadings(ctx context.Context, afterID uint64, count int) (*telemetry.ReadingSet, error) {

	query := url.Values{}
	query.Set("id", strconv.FormatUint(afterID, 10))
	query.Set("count", strconv.Itoa(count))

	req, err := http.NewRequestWithContext(
		ctx,
		"GET",
		fmt.Sprintf("%s/storage/reading?%s", c.baseUrl, query.Encode()),
		nil,
	)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	response, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get readings: %w", err)
	}
	defer response.Body.Close()

	body, err := io.ReadAll(response.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	if response.StatusCode != http.StatusOK {
		snippet := string(body)
		if len(snippet) > maxErrorBody {
			snippet = snippet[:maxErrorBody]
		}
		return nil, fmt.Errorf("unexpected status code: %d: %s", response.StatusCode, snippet)
	}

	set, err := c.decoder.DecodeReadingSet(body)
	if err != nil {
		return nil, fmt.Errorf("parse body: %w", err)
	}

	c.logger.Debug("Fetched readings", "after_id", afterID, "readings", set.Len(), "size", humanize.Bytes(uint64(len(body))))

	return set, nil
}
