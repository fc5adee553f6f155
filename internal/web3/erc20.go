package web3

import (
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// erc20ABIJSON 只保留智能体用到的两个方法。
const erc20ABIJSON = `[
  {"constant":true,"inputs":[{"name":"owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
  {"constant":false,"inputs":[{"name":"to","type":"address"},{"name":"value","type":"uint256"}],"name":"transfer","outputs":[{"name":"","type":"bool"}],"stateMutability":"nonpayable","type":"function"}
]`

var (
	erc20Once sync.Once
	erc20     abi.ABI
	erc20Err  error
)

func erc20ABI() (abi.ABI, error) {
	erc20Once.Do(func() {
		erc20, erc20Err = abi.JSON(strings.NewReader(erc20ABIJSON))
	})
	return erc20, erc20Err
}

// PackBalanceOf 构造 ERC20 balanceOf 的调用数据。
func PackBalanceOf(owner common.Address) ([]byte, error) {
	parsed, err := erc20ABI()
	if err != nil {
		return nil, fmt.Errorf("解析 ERC20 ABI 失败: %w", err)
	}
	data, err := parsed.Pack("balanceOf", owner)
	if err != nil {
		return nil, fmt.Errorf("编码 balanceOf 调用失败: %w", err)
	}
	return data, nil
}

// UnpackBalanceOf 解析 balanceOf 的返回值。
func UnpackBalanceOf(output []byte) (*big.Int, error) {
	parsed, err := erc20ABI()
	if err != nil {
		return nil, fmt.Errorf("解析 ERC20 ABI 失败: %w", err)
	}
	values, err := parsed.Unpack("balanceOf", output)
	if err != nil {
		return nil, fmt.Errorf("解析 balanceOf 返回值失败: %w", err)
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("balanceOf 返回值为空")
	}
	balance, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("balanceOf 返回值类型异常: %T", values[0])
	}
	return balance, nil
}

// PackTransfer 构造 ERC20 transfer 的调用数据，供交易提案携带。
func PackTransfer(to common.Address, amount *big.Int) ([]byte, error) {
	parsed, err := erc20ABI()
	if err != nil {
		return nil, fmt.Errorf("解析 ERC20 ABI 失败: %w", err)
	}
	data, err := parsed.Pack("transfer", to, amount)
	if err != nil {
		return nil, fmt.Errorf("编码 transfer 调用失败: %w", err)
	}
	return data, nil
}
