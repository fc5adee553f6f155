package proposal

import (
	"fmt"
	"math"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	agenterrors "DeSmond-Agent/internal/errors"
	"DeSmond-Agent/internal/web3"
)

// 提案版本标记。空版本表示收款方无法确认, 调用方不得把该提案发送出去。
const (
	VersionSkipped = ""
	VersionCurrent = "1.0"
)

// WalletSendCalls 是发给钱包客户端的交易提案载荷, 钱包负责签名与广播。
type WalletSendCalls struct {
	Version string `json:"version"`
	From    string `json:"from"`
	ChainID string `json:"chainId"`
	Calls   []Call `json:"calls"`
}

// Call 描述提案中的一笔调用。原生转账只带 Value, 代币转账只带 Data。
type Call struct {
	To       string    `json:"to"`
	Value    string    `json:"value,omitempty"`
	Data     string    `json:"data,omitempty"`
	Metadata *Metadata `json:"metadata,omitempty"`
}

// Metadata 供钱包展示人类可读的交易说明。Amount 保留请求中的十进制金额
// 原文, 不做基础单位换算。
type Metadata struct {
	Description     string `json:"description"`
	TransactionType string `json:"transactionType"`
	Currency        string `json:"currency"`
	Amount          string `json:"amount"`
	Decimals        string `json:"decimals"`
	NetworkID       string `json:"networkId"`
}

// Skipped 表示该提案被跳过。
func (w WalletSendCalls) Skipped() bool {
	return w.Version == VersionSkipped
}

// Builder 按链配置组装交易提案。付款方地址由调用方按笔传入,
// 拆分付款时每笔的付款方都不同。
type Builder struct {
	chainIDHex string
	networkID  string
	currency   string
	decimals   int
}

// NewBuilder 构造提案组装器。
func NewBuilder(chainID int64, def web3.ChainDefinition) *Builder {
	decimals := def.NativeDecimals
	if decimals <= 0 {
		decimals = 18
	}
	currency := def.NativeCurrency
	if currency == "" {
		currency = "ETH"
	}
	return &Builder{
		chainIDHex: hexutil.EncodeUint64(uint64(chainID)),
		networkID:  def.NetworkID,
		currency:   currency,
		decimals:   decimals,
	}
}

// NativeTransfer 组装一笔原生币转账提案。amount 为十进制金额字符串。
func (b *Builder) NativeTransfer(from, to common.Address, amount, description string) (WalletSendCalls, error) {
	value, err := web3.ParseUnits(amount, b.decimals)
	if err != nil {
		return WalletSendCalls{}, agenterrors.Wrap(agenterrors.CodeProposalFailure, err,
			fmt.Sprintf("原生转账金额非法: %s", amount))
	}
	if value.Sign() <= 0 {
		return WalletSendCalls{}, agenterrors.New(agenterrors.CodeProposalFailure,
			fmt.Sprintf("原生转账金额必须为正数: %s", amount))
	}
	if description == "" {
		description = fmt.Sprintf("Transfer %s %s on Base", amount, b.currency)
	}
	return WalletSendCalls{
		Version: VersionCurrent,
		From:    from.Hex(),
		ChainID: b.chainIDHex,
		Calls: []Call{{
			To:    to.Hex(),
			Value: hexutil.EncodeBig(value),
			Metadata: &Metadata{
				Description:     description,
				TransactionType: "transfer",
				Currency:        b.currency,
				Amount:          amount,
				Decimals:        strconv.Itoa(b.decimals),
				NetworkID:       b.networkID,
			},
		}},
	}, nil
}

// TokenTransfer 组装一笔 ERC20 转账提案, 目标合约来自链配置中的代币定义。
func (b *Builder) TokenTransfer(token web3.TokenDefinition, from, to common.Address, amount, description string) (WalletSendCalls, error) {
	if !common.IsHexAddress(token.Address) {
		return WalletSendCalls{}, agenterrors.New(agenterrors.CodeProposalFailure,
			fmt.Sprintf("代币 %s 未配置合约地址", token.Symbol))
	}
	value, err := web3.ParseUnits(amount, token.Decimals)
	if err != nil {
		return WalletSendCalls{}, agenterrors.Wrap(agenterrors.CodeProposalFailure, err,
			fmt.Sprintf("代币转账金额非法: %s", amount))
	}
	if value.Sign() <= 0 {
		return WalletSendCalls{}, agenterrors.New(agenterrors.CodeProposalFailure,
			fmt.Sprintf("代币转账金额必须为正数: %s", amount))
	}
	data, err := web3.PackTransfer(to, value)
	if err != nil {
		return WalletSendCalls{}, agenterrors.Wrap(agenterrors.CodeProposalFailure, err, "编码代币转账数据失败")
	}
	if description == "" {
		description = fmt.Sprintf("Transfer %s %s on Base", amount, token.Symbol)
	}
	return WalletSendCalls{
		Version: VersionCurrent,
		From:    from.Hex(),
		ChainID: b.chainIDHex,
		Calls: []Call{{
			To:   common.HexToAddress(token.Address).Hex(),
			Data: hexutil.Encode(data),
			Metadata: &Metadata{
				Description:     description,
				TransactionType: "transfer",
				Currency:        token.Symbol,
				Amount:          amount,
				Decimals:        strconv.Itoa(token.Decimals),
				NetworkID:       b.networkID,
			},
		}},
	}, nil
}

// Skip 返回带跳过标记的空提案, 仅用于占位统计。
func Skip() WalletSendCalls {
	return WalletSendCalls{Version: VersionSkipped}
}

// RoundShare 按 6 位小数对均摊份额取整, 先加一个机器精度再四舍五入,
// 避免 0.1+0.2 这类二进制浮点误差把 0.3 摊成 0.299999。
func RoundShare(value float64) float64 {
	const places = 1e6
	return math.Round((value+epsilon)*places) / places
}

// FormatShare 以最短十进制形式输出份额, 整数份额不带小数点。
func FormatShare(value float64) string {
	return strconv.FormatFloat(value, 'f', -1, 64)
}

// epsilon 即 IEEE 754 双精度下 1 与下一个可表示数的差。
const epsilon = 2.220446049250313e-16
