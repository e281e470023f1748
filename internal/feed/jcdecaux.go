// Package feed implements the JCDecaux bike-share station-availability
// client, the external context source the background poller reads.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"

	"tracklog/internal/httpx"
	"tracklog/internal/types"
)

// jcdecauxStation is the wire shape of one station in the JCDecaux VLS API.
type jcdecauxStation struct {
	Number   int    `json:"number"`
	Name     string `json:"name"`
	Position struct {
		Lat float64 `json:"lat"`
		Lng float64 `json:"lng"`
	} `json:"position"`
	AvailableBikes      int    `json:"available_bikes"`
	AvailableBikeStands int    `json:"available_bike_stands"`
	Status              string `json:"status"`
	LastUpdateMS        int64  `json:"last_update"`
}

// JCDecauxClient fetches the station list for one contract (city). It
// requests gzip transfer encoding and decodes it itself, since manually
// setting Accept-Encoding disables net/http's transparent decompression.
type JCDecauxClient struct {
	base     *httpx.Client
	baseURL  string
	contract string
	apiKey   types.SecretString
	logger   *slog.Logger
}

// JCDecauxConfig holds the configuration for creating a JCDecauxClient.
type JCDecauxConfig struct {
	BaseURL  string
	Contract string
	APIKey   types.SecretString
	Logger   *slog.Logger
}

// NewJCDecauxClient creates a feed client. The httpClient timeout bounds
// each fetch attempt.
func NewJCDecauxClient(httpClient *http.Client, cfg JCDecauxConfig) *JCDecauxClient {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	base := httpx.NewClient(httpClient, "jcdecaux", httpx.ErrorCodes{
		Unavailable: types.ErrCodeFeedUnavailable,
		RateLimited: types.ErrCodeFeedUnavailable,
	})
	return &JCDecauxClient{
		base:     base,
		baseURL:  strings.TrimSuffix(cfg.BaseURL, "/"),
		contract: cfg.Contract,
		apiKey:   cfg.APIKey,
		logger:   logger,
	}
}

// NewJCDecauxClientWithBase creates a feed client around a pre-configured
// httpx.Client. Intended for tests that need to control retry behavior.
func NewJCDecauxClientWithBase(base *httpx.Client, cfg JCDecauxConfig) *JCDecauxClient {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &JCDecauxClient{
		base:     base,
		baseURL:  strings.TrimSuffix(cfg.BaseURL, "/"),
		contract: cfg.Contract,
		apiKey:   cfg.APIKey,
		logger:   logger,
	}
}

// FetchStations returns the complete current station set for the contract,
// normalized and sorted by station number so snapshot iteration order is
// deterministic.
func (c *JCDecauxClient) FetchStations(ctx context.Context) ([]types.Station, error) {
	q := url.Values{}
	q.Set("contract", c.contract)
	q.Set("apiKey", c.apiKey.Unmask())
	reqURL := fmt.Sprintf("%s/stations?%s", c.baseURL, q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected,
			"failed to build station feed request", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Accept-Encoding", "gzip")

	resp, err := c.base.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, types.NewAppError(types.ErrCodeFeedUnavailable,
			fmt.Sprintf("station feed returned %d", resp.StatusCode), nil)
	}

	body, err := c.decodeBody(resp)
	if err != nil {
		return nil, err
	}

	var raw []jcdecauxStation
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, types.NewAppError(types.ErrCodeFeedParse,
			"station feed returned malformed JSON", err)
	}

	sort.Slice(raw, func(i, j int) bool { return raw[i].Number < raw[j].Number })

	list := make([]types.Station, 0, len(raw))
	for _, s := range raw {
		list = append(list, types.Station{
			ID:              strconv.Itoa(s.Number),
			Name:            s.Name,
			Latitude:        s.Position.Lat,
			Longitude:       s.Position.Lng,
			AvailableBikes:  s.AvailableBikes,
			AvailableStands: s.AvailableBikeStands,
			Status:          s.Status,
			ReportedAt:      time.UnixMilli(s.LastUpdateMS).UTC(),
		})
	}
	return list, nil
}

// decodeBody reads the response body, inflating it when the upstream
// honored our gzip request.
func (c *JCDecauxClient) decodeBody(resp *http.Response) ([]byte, error) {
	var reader io.Reader = resp.Body
	if strings.EqualFold(resp.Header.Get("Content-Encoding"), "gzip") {
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeFeedParse,
				"station feed sent unreadable gzip", err)
		}
		defer gz.Close()
		reader = gz
	}

	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeFeedUnavailable,
			"failed to read station feed response", err)
	}
	return body, nil
}
