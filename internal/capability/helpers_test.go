package capability

import (
	"context"
	"fmt"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	agenterrors "DeSmond-Agent/internal/errors"
	"DeSmond-Agent/internal/transport"
	"DeSmond-Agent/internal/web3"
)

var (
	agentAddr  = common.HexToAddress("0x00000000000000000000000000000000000000A0")
	senderAddr = common.HexToAddress("0x00000000000000000000000000000000000000B0")
	memberAddr = common.HexToAddress("0x00000000000000000000000000000000000000C0")
	targetAddr = common.HexToAddress("0x00000000000000000000000000000000000000D0")
)

var testChainDef = web3.ChainDefinition{
	NetworkID:      "base-mainnet",
	NativeCurrency: "ETH",
	NativeDecimals: 18,
	Token: web3.TokenDefinition{
		Symbol:   "USDC",
		Address:  "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
		Decimals: 6,
	},
}

// fakeChain 以内存表模拟链上余额查询。
type fakeChain struct {
	balances      map[common.Address]*big.Int
	tokenBalances map[common.Address]*big.Int
	err           error
}

func (f *fakeChain) ChainID(_ context.Context) (*big.Int, error) {
	return big.NewInt(8453), nil
}

func (f *fakeChain) BalanceAt(_ context.Context, address common.Address) (*big.Int, error) {
	if f.err != nil {
		return nil, f.err
	}
	if balance, ok := f.balances[address]; ok {
		return balance, nil
	}
	return big.NewInt(0), nil
}

func (f *fakeChain) TokenBalance(_ context.Context, _ common.Address, address common.Address) (*big.Int, error) {
	if f.err != nil {
		return nil, f.err
	}
	if balance, ok := f.tokenBalances[address]; ok {
		return balance, nil
	}
	return big.NewInt(0), nil
}

func (f *fakeChain) CallContract(_ context.Context, _ common.Address, _ []byte) ([]byte, error) {
	return nil, agenterrors.New(agenterrors.CodeChainFailure, "测试替身不支持合约调用")
}

func (f *fakeChain) Close() {}

var _ web3.Client = (*fakeChain)(nil)

// fakeResolver 以内存表模拟名称解析。
type fakeResolver struct {
	addresses map[string]common.Address
	names     map[common.Address]string
}

func (f *fakeResolver) ResolveAddress(_ context.Context, name string) (common.Address, error) {
	if common.IsHexAddress(name) {
		return common.HexToAddress(name), nil
	}
	if address, ok := f.addresses[name]; ok {
		return address, nil
	}
	return common.Address{}, agenterrors.New(agenterrors.CodeResolutionFailure,
		fmt.Sprintf("名称 %s 未注册", name))
}

func (f *fakeResolver) ResolveName(_ context.Context, address common.Address) (string, error) {
	return f.names[address], nil
}

// newTestConversation 返回一个可检视出站消息的会话。
func newTestConversation(t *testing.T, kind transport.ConversationKind) (*transport.MemoryClient, transport.Conversation) {
	t.Helper()
	client := transport.NewMemoryClient("agent-inbox")
	t.Cleanup(func() { client.Close() })
	client.AddConversation("conv", kind, nil)
	conv, err := client.ConversationByID(context.Background(), "conv")
	if err != nil {
		t.Fatalf("查找会话失败: %v", err)
	}
	return client, conv
}
