package market

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"go.uber.org/zap"
)

const (
	pricesPath      = "/prices"
	userAgent       = "fiscal-sentinel/price-guard"
	contentType     = "application/json"
	contentEncoding = "gzip"
	// Max value for a page of prices.
	perPage = "100"
)

// ErrPaging is returned when the catalog API answers with a page other than the requested one.
var ErrPaging = errors.New("catalog api paging mismatch")

// Client fetches reference prices from a remote procurement catalog API.
type Client struct {
	token      string
	logger     *zap.Logger
	HTTPClient *http.Client
	UserAgent  string
	APIURL     string
}

// ItemResponse is one page of the remote catalog.
type ItemResponse struct {
	Items   []Item
	Found   int
	Pages   int
	Page    int
	PerPage int `json:"per_page"`
}

type Item any

// NewClient creates a remote catalog client. token may be empty for public catalogs.
func NewClient(apiURL, token string, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		token:  token,
		APIURL: strings.TrimRight(apiURL, "/"),
		HTTPClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger:    logger,
		UserAgent: userAgent,
	}
}

// FetchPrices downloads every page of reference prices, optionally narrowed by a search query.
func (c *Client) FetchPrices(ctx context.Context, query string) ([]Price, error) {
	q := url.Values{}
	q.Set("per_page", perPage)
	if query = strings.TrimSpace(query); query != "" {
		q.Set("q", query)
	}

	items, err := c.GetItems(ctx, c.APIURL+pricesPath, q)
	if err != nil {
		return nil, err
	}

	var prices []Price
	cfg := &mapstructure.DecoderConfig{
		Result:           &prices,
		TagName:          "json",
		WeaklyTypedInput: true,
	}
	decoder, err := mapstructure.NewDecoder(cfg)
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(items); err != nil {
		return nil, fmt.Errorf("decode prices: %w", err)
	}

	for i := range prices {
		if prices[i].Source == "" {
			prices[i].Source = c.APIURL
		}
	}

	return prices, nil
}

// GetItems makes GET requests to the catalog API and returns items from all pages.
func (c *Client) GetItems(ctx context.Context, endpoint string, q url.Values) ([]Item, error) {
	var items []Item

	page, pages := 0, 0
	for {
		pageQuery := url.Values{}
		for k, v := range q {
			pageQuery[k] = v
		}
		pageQuery.Set("page", strconv.Itoa(page))

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, err
		}
		c.setHeaders(req)
		req.URL.RawQuery = pageQuery.Encode()

		resp, err := c.request(req)
		if err != nil {
			return nil, err
		}

		response, err := c.parseItemResponse(resp)
		if err != nil {
			return nil, err
		}

		if response.Page != page {
			return nil, fmt.Errorf("%w: asked for page %d, got %d", ErrPaging, page, response.Page)
		}
		if page == 0 {
			pages = response.Pages
		}

		items = append(items, response.Items...)

		if page >= pages-1 {
			break
		}

		c.logger.Debug("additional request needed", zap.String("reason", fmt.Sprintf(
			"current page (%d) < all page count (%d)", page+1, pages),
		))
		page++
	}

	return items, nil
}

func (c *Client) parseItemResponse(resp *http.Response) (*ItemResponse, error) {
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("bad status: %s", resp.Status)
	}

	var body io.Reader = resp.Body
	if resp.Header.Get("Content-Encoding") == "gzip" {
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, err
		}
		defer gz.Close()
		body = gz
	}

	var response ItemResponse
	if err := json.NewDecoder(body).Decode(&response); err != nil {
		return nil, err
	}

	return &response, nil
}

func (c *Client) request(req *http.Request) (*http.Response, error) {
	c.logger.Debug("make request", zap.String("url", req.URL.String()))
	return c.HTTPClient.Do(req)
}

func (c *Client) setHeaders(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	req.Header.Set("User-Agent", c.UserAgent)
	req.Header.Set("Accept", contentType)
	req.Header.Set("Accept-Encoding", contentEncoding)
}
