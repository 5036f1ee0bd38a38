// Package yieldindex 查询第三方收益聚合服务，为存入决策提供参考数据。
// 纯读接口，对编排状态没有任何影响。
package yieldindex

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	xerrors "CoVault/internal/errors"
)

const (
	defaultBaseURL = "https://yields.llama.fi"
	defaultTimeout = 20 * time.Second
)

// Pool 是收益聚合服务中的一个资金池条目。
type Pool struct {
	ID      string  `json:"pool"`
	Chain   string  `json:"chain"`
	Project string  `json:"project"`
	Symbol  string  `json:"symbol"`
	APY     float64 `json:"apy"`
	TVLUSD  float64 `json:"tvlUsd"`
}

// Config 描述收益聚合客户端的连接参数。
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// Client 通过 HTTP 访问收益聚合服务。
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient 根据配置创建客户端。
func NewClient(cfg Config) *Client {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// TopPools 返回指定网络上按年化收益率降序的前 limit 个资金池。
// chainName 是收益服务使用的网络标识，来自网络档案的 yield_index 字段。
func (c *Client) TopPools(ctx context.Context, chainName string, limit int) ([]Pool, error) {
	if strings.TrimSpace(chainName) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "网络标识不能为空")
	}
	if limit <= 0 {
		limit = 10
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/pools", nil)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeNetworkFailure, err, "构建收益查询请求失败")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeNetworkFailure, err, "请求收益聚合服务失败")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, xerrors.New(xerrors.CodeNetworkFailure,
			fmt.Sprintf("收益聚合服务返回错误状态 %d: %s", resp.StatusCode, strings.TrimSpace(string(detail))))
	}

	var decoded struct {
		Data []Pool `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeNetworkFailure, err, "解析收益数据失败")
	}

	filtered := make([]Pool, 0, limit)
	for _, pool := range decoded.Data {
		if strings.EqualFold(pool.Chain, chainName) {
			filtered = append(filtered, pool)
		}
	}
	sort.SliceStable(filtered, func(i, j int) bool {
		return filtered[i].APY > filtered[j].APY
	})
	if len(filtered) > limit {
		filtered = filtered[:limit]
	}
	return filtered, nil
}
