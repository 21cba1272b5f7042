package oracle

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// HTTPDoer abstracts http.Client for ease of testing.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

const defaultHermesEndpoint = "https://hermes.pyth.network"

// HermesSource fetches parsed price updates from a Hermes price service.
type HermesSource struct {
	client   HTTPDoer
	endpoint string
}

// NewHermesSource constructs a Hermes adapter. When client is nil
// http.DefaultClient is used.
func NewHermesSource(client HTTPDoer, endpoint string) *HermesSource {
	ep := strings.TrimRight(strings.TrimSpace(endpoint), "/")
	if ep == "" {
		ep = defaultHermesEndpoint
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &HermesSource{client: client, endpoint: ep}
}

type hermesPrice struct {
	Price       string `json:"price"`
	Conf        string `json:"conf"`
	Expo        int32  `json:"expo"`
	PublishTime int64  `json:"publish_time"`
}

type hermesResponse struct {
	Parsed []struct {
		ID    string      `json:"id"`
		Price hermesPrice `json:"price"`
	} `json:"parsed"`
}

// Latest implements Source.
func (h *HermesSource) Latest(feedID string) (Quote, error) {
	if h == nil {
		return Quote{}, fmt.Errorf("hermes source not configured")
	}
	id := NormalizeFeedID(feedID)
	req, err := http.NewRequest(http.MethodGet, h.endpoint+"/v2/updates/price/latest", nil)
	if err != nil {
		return Quote{}, err
	}
	values := url.Values{}
	values.Add("ids[]", id)
	values.Set("parsed", "true")
	req.URL.RawQuery = values.Encode()
	resp, err := h.client.Do(req)
	if err != nil {
		return Quote{}, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Quote{}, fmt.Errorf("hermes: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var payload hermesResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return Quote{}, fmt.Errorf("hermes: decode: %w", err)
	}
	for _, entry := range payload.Parsed {
		if NormalizeFeedID(entry.ID) != id {
			continue
		}
		price, err := strconv.ParseInt(strings.TrimSpace(entry.Price.Price), 10, 64)
		if err != nil {
			return Quote{}, fmt.Errorf("hermes: invalid price %q: %w", entry.Price.Price, err)
		}
		var conf uint64
		if c := strings.TrimSpace(entry.Price.Conf); c != "" {
			if conf, err = strconv.ParseUint(c, 10, 64); err != nil {
				return Quote{}, fmt.Errorf("hermes: invalid conf %q: %w", entry.Price.Conf, err)
			}
		}
		return Quote{
			FeedID:      id,
			Price:       price,
			Expo:        entry.Price.Expo,
			Conf:        conf,
			PublishTime: time.Unix(entry.Price.PublishTime, 0).UTC(),
			Source:      "hermes",
		}, nil
	}
	return Quote{}, fmt.Errorf("%w: %s", ErrFeedNotFound, id)
}
