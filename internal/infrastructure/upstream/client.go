package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"

	"xoracle/internal/application/port"
	"xoracle/internal/domain"
	"xoracle/internal/domain/model"
)

const (
	opUpdatePrice       = "update_price"
	opTransferOwnership = "transfer_ownership"
)

// Client 旧版预言机的 HTTP 客户端
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewClient ratePerSec <= 0 时不限速
func NewClient(baseURL string, timeout time.Duration, ratePerSec float64) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
	if ratePerSec > 0 {
		burst := int(ratePerSec)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(ratePerSec), burst)
	}
	return c
}

type updatePriceReq struct {
	Price string `json:"price"`
}

type transferOwnershipReq struct {
	NewOwner string `json:"new_owner"`
}

// UpdatePrice 推送价格并返回旧合约回报的值
func (c *Client) UpdatePrice(ctx context.Context, price uint64) (uint64, error) {
	body, err := c.post(ctx, opUpdatePrice, "/price", updatePriceReq{Price: strconv.FormatUint(price, 10)})
	if err != nil {
		return 0, err
	}

	v := gjson.GetBytes(body, "value")
	if !v.Exists() {
		return 0, domain.NewUpstreamError(opUpdatePrice, fmt.Errorf("response missing value: %s", truncate(body)))
	}
	got, err := strconv.ParseUint(v.String(), 10, 64)
	if err != nil {
		return 0, domain.NewUpstreamError(opUpdatePrice, fmt.Errorf("parse value %q: %w", v.String(), err))
	}
	if got != price {
		log.Warn().Uint64("sent", price).Uint64("reported", got).Msg("legacy oracle reported a different price")
	}
	return got, nil
}

func (c *Client) TransferOwnership(ctx context.Context, newOwner model.Identity) error {
	_, err := c.post(ctx, opTransferOwnership, "/owner", transferOwnershipReq{NewOwner: newOwner.String()})
	return err
}

func (c *Client) post(ctx context.Context, op, path string, payload any) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, domain.NewUpstreamError(op, err)
		}
	}

	b, err := json.Marshal(payload)
	if err != nil {
		return nil, domain.NewUpstreamError(op, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(b))
	if err != nil {
		return nil, domain.NewUpstreamError(op, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, domain.NewUpstreamError(op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, domain.NewUpstreamError(op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := gjson.GetBytes(body, "error").String()
		if msg == "" {
			msg = truncate(body)
		}
		return nil, domain.NewUpstreamError(op, fmt.Errorf("http %d: %s", resp.StatusCode, msg))
	}
	return body, nil
}

func truncate(b []byte) string {
	const max = 256
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}

// ErrNotConfigured 旧合约未启用
var ErrNotConfigured = errors.New("legacy oracle not configured")

// Noop 未配置旧合约时使用：价格原样返回，所有权转移失败
type Noop struct{}

func (Noop) UpdatePrice(ctx context.Context, price uint64) (uint64, error) { return price, nil }

func (Noop) TransferOwnership(ctx context.Context, newOwner model.Identity) error {
	return domain.NewUpstreamError(opTransferOwnership, ErrNotConfigured)
}

var (
	_ port.Upstream = (*Client)(nil)
	_ port.Upstream = Noop{}
)
