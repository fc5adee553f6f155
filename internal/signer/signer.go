package signer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"DeSmond-Agent/internal/config"
	agenterrors "DeSmond-Agent/internal/errors"
)

// Signer 抽象消息签名能力, 由远程签名服务或测试替身实现。
type Signer interface {
	// Address 返回签名身份对应的链上地址。
	Address() common.Address
	// ChainID 返回签名身份所在链的链 ID。
	ChainID() *big.Int
	// Sign 对给定消息产生签名。消息网络注册收件箱时要求证明钱包
	// 归属, 下发的挑战串由这里代签。
	Sign(ctx context.Context, message string) ([]byte, error)
}

const (
	signCommand        = "createSignature"
	defaultHTTPTimeout = 15 * time.Second
)

// Remote 通过 HTTP 调用外部签名服务, 私钥不落地到本进程。
type Remote struct {
	endpoint string
	user     string
	address  common.Address
	chainID  *big.Int
	client   *http.Client
}

// NewRemote 构造远程签名器。
func NewRemote(cfg config.SignerConfig) (*Remote, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, agenterrors.New(agenterrors.CodeInvalidArgument, "签名服务地址不能为空")
	}
	if !common.IsHexAddress(cfg.Address) {
		return nil, agenterrors.New(agenterrors.CodeInvalidArgument,
			fmt.Sprintf("签名身份地址非法: %s", cfg.Address))
	}
	chainID := cfg.ChainID
	if chainID == 0 {
		chainID = 8453
	}
	return &Remote{
		endpoint: endpoint,
		user:     cfg.User,
		address:  common.HexToAddress(cfg.Address),
		chainID:  big.NewInt(chainID),
		client:   &http.Client{Timeout: defaultHTTPTimeout},
	}, nil
}

// Address 实现 Signer。
func (r *Remote) Address() common.Address {
	return r.address
}

// ChainID 实现 Signer。
func (r *Remote) ChainID() *big.Int {
	return new(big.Int).Set(r.chainID)
}

type signRequest struct {
	Command string `json:"command"`
	User    string `json:"user"`
	Message string `json:"message"`
}

type signResponse struct {
	Signature string `json:"signature"`
	Error     string `json:"error,omitempty"`
}

// Sign 向远程服务提交签名请求并解析十六进制签名。
func (r *Remote) Sign(ctx context.Context, message string) ([]byte, error) {
	payload, err := json.Marshal(signRequest{
		Command: signCommand,
		User:    r.user,
		Message: message,
	})
	if err != nil {
		return nil, agenterrors.Wrap(agenterrors.CodeInvalidArgument, err, "序列化签名请求失败")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, agenterrors.Wrap(agenterrors.CodeInvalidArgument, err, "构造签名请求失败")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, agenterrors.Wrap(agenterrors.CodeTransportFailure, err, "调用签名服务失败",
			agenterrors.WithRetryable(true))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, agenterrors.Wrap(agenterrors.CodeTransportFailure, err, "读取签名服务响应失败")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, agenterrors.New(agenterrors.CodeTransportFailure,
			fmt.Sprintf("签名服务返回状态码 %d: %s", resp.StatusCode, strings.TrimSpace(string(body))))
	}

	var parsed signResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, agenterrors.Wrap(agenterrors.CodeTransportFailure, err, "解析签名服务响应失败")
	}
	if parsed.Error != "" {
		return nil, agenterrors.New(agenterrors.CodeTransportFailure,
			fmt.Sprintf("签名服务报错: %s", parsed.Error))
	}
	if parsed.Signature == "" {
		return nil, agenterrors.New(agenterrors.CodeTransportFailure, "签名服务未返回签名")
	}

	signature, err := hexutil.Decode(ensureHexPrefix(parsed.Signature))
	if err != nil {
		return nil, agenterrors.Wrap(agenterrors.CodeTransportFailure, err, "签名格式非法")
	}
	return signature, nil
}

func ensureHexPrefix(value string) string {
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		return value
	}
	return "0x" + value
}
