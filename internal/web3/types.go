package web3

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Client 定义了智能体所需的链上只读访问能力。
// 所有写操作都以交易提案的形式交还给用户签名，系统自身从不上链。
type Client interface {
	// ChainID 返回链标识。
	ChainID(ctx context.Context) (*big.Int, error)
	// BalanceAt 查询地址的原生币余额（wei）。
	BalanceAt(ctx context.Context, address common.Address) (*big.Int, error)
	// TokenBalance 查询地址在指定 ERC20 合约下的余额（最小单位）。
	TokenBalance(ctx context.Context, token, address common.Address) (*big.Int, error)
	// CallContract 执行一次只读合约调用。
	CallContract(ctx context.Context, to common.Address, data []byte) ([]byte, error)
	// Close 释放底层连接。
	Close()
}
