package names

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	agenterrors "DeSmond-Agent/internal/errors"
	"DeSmond-Agent/internal/web3"
)

// Resolver 定义名称解析能力, 支持正向与反向两个方向。
type Resolver interface {
	// ResolveAddress 将 ENS 或 basename 名称解析为地址。
	ResolveAddress(ctx context.Context, name string) (common.Address, error)
	// ResolveName 将地址反向解析为链上注册的名称, 未注册时返回空串。
	ResolveName(ctx context.Context, address common.Address) (string, error)
}

// contractReader 约束解析器依赖的链上只读调用能力。
type contractReader interface {
	CallContract(ctx context.Context, to common.Address, data []byte) ([]byte, error)
}

var _ contractReader = (web3.Client)(nil)

const nameResolverABIJSON = `[
  {"constant":true,"inputs":[{"name":"node","type":"bytes32"}],"name":"resolver","outputs":[{"name":"","type":"address"}],"stateMutability":"view","type":"function"},
  {"constant":true,"inputs":[{"name":"node","type":"bytes32"}],"name":"addr","outputs":[{"name":"","type":"address"}],"stateMutability":"view","type":"function"},
  {"constant":true,"inputs":[{"name":"node","type":"bytes32"}],"name":"name","outputs":[{"name":"","type":"string"}],"stateMutability":"view","type":"function"}
]`

var (
	nameABIOnce sync.Once
	nameABI     abi.ABI
	nameABIErr  error
)

func resolverABI() (abi.ABI, error) {
	nameABIOnce.Do(func() {
		nameABI, nameABIErr = abi.JSON(strings.NewReader(nameResolverABIJSON))
	})
	return nameABI, nameABIErr
}

// ChainResolver 基于 ENS 兼容合约实现 Resolver。
type ChainResolver struct {
	reader          contractReader
	chainID         int64
	suffix          string
	registry        common.Address
	reverseResolver common.Address
}

// Config 描述一条链上的名称服务部署位置。
type Config struct {
	ChainID         int64
	Suffix          string
	Registry        string
	ReverseResolver string
}

// NewChainResolver 构造链上名称解析器。
func NewChainResolver(reader contractReader, cfg Config) (*ChainResolver, error) {
	if reader == nil {
		return nil, agenterrors.New(agenterrors.CodeInvalidArgument, "名称解析器缺少链上读取能力")
	}
	resolver := &ChainResolver{
		reader:  reader,
		chainID: cfg.ChainID,
		suffix:  strings.TrimSpace(cfg.Suffix),
	}
	if cfg.Registry != "" {
		resolver.registry = common.HexToAddress(cfg.Registry)
	}
	if cfg.ReverseResolver != "" {
		resolver.reverseResolver = common.HexToAddress(cfg.ReverseResolver)
	}
	return resolver, nil
}

// Namehash 按 ENS 规范递归计算名称节点哈希。
func Namehash(name string) common.Hash {
	node := common.Hash{}
	if name == "" {
		return node
	}
	labels := strings.Split(strings.ToLower(name), ".")
	for i := len(labels) - 1; i >= 0; i-- {
		labelHash := crypto.Keccak256([]byte(labels[i]))
		node = common.BytesToHash(crypto.Keccak256(node.Bytes(), labelHash))
	}
	return node
}

// reverseCoinType 计算 ENSIP-19 中反向解析使用的币种标签。
// 主网沿用历史的 addr 标签, 其余 EVM 链使用 0x80000000|chainId 的大写十六进制。
func reverseCoinType(chainID int64) string {
	if chainID == 1 {
		return "addr"
	}
	coinType := uint32(0x80000000) | uint32(chainID)
	return strings.ToUpper(fmt.Sprintf("%x", coinType))
}

// ReverseNode 计算某地址在指定链上的反向解析节点。
func ReverseNode(address common.Address, chainID int64) common.Hash {
	addressHash := crypto.Keccak256([]byte(strings.ToLower(address.Hex())[2:]))
	baseNode := Namehash(reverseCoinType(chainID) + ".reverse")
	return common.BytesToHash(crypto.Keccak256(baseNode.Bytes(), addressHash))
}

// ResolveName 查询反向解析合约, 返回地址注册的主名称。
func (r *ChainResolver) ResolveName(ctx context.Context, address common.Address) (string, error) {
	if (r.reverseResolver == common.Address{}) {
		return "", nil
	}
	parsed, err := resolverABI()
	if err != nil {
		return "", agenterrors.Wrap(agenterrors.CodeResolutionFailure, err, "解析名称服务 ABI 失败")
	}
	node := ReverseNode(address, r.chainID)
	data, err := parsed.Pack("name", node)
	if err != nil {
		return "", agenterrors.Wrap(agenterrors.CodeResolutionFailure, err, "编码反向解析调用失败")
	}
	output, err := r.reader.CallContract(ctx, r.reverseResolver, data)
	if err != nil {
		return "", agenterrors.Wrap(agenterrors.CodeResolutionFailure, err, "反向解析调用失败")
	}
	if len(output) == 0 {
		return "", nil
	}
	values, err := parsed.Unpack("name", output)
	if err != nil {
		return "", agenterrors.Wrap(agenterrors.CodeResolutionFailure, err, "解析反向解析返回值失败")
	}
	name, ok := values[0].(string)
	if !ok {
		return "", agenterrors.New(agenterrors.CodeResolutionFailure, "反向解析返回值类型异常")
	}
	return name, nil
}

// ResolveAddress 先通过注册表定位 resolver 合约, 再读取名称指向的地址。
// 输入若本身是十六进制地址则直接返回, 便于调用方统一入口。
func (r *ChainResolver) ResolveAddress(ctx context.Context, name string) (common.Address, error) {
	name = strings.TrimSpace(name)
	if common.IsHexAddress(name) {
		return common.HexToAddress(name), nil
	}
	if name == "" {
		return common.Address{}, agenterrors.New(agenterrors.CodeInvalidArgument, "名称不能为空")
	}
	if (r.registry == common.Address{}) {
		return common.Address{}, agenterrors.New(agenterrors.CodeResolutionFailure,
			fmt.Sprintf("当前链未配置名称注册表, 无法解析 %s", name))
	}
	parsed, err := resolverABI()
	if err != nil {
		return common.Address{}, agenterrors.Wrap(agenterrors.CodeResolutionFailure, err, "解析名称服务 ABI 失败")
	}

	node := Namehash(name)
	lookup, err := parsed.Pack("resolver", node)
	if err != nil {
		return common.Address{}, agenterrors.Wrap(agenterrors.CodeResolutionFailure, err, "编码 resolver 查询失败")
	}
	output, err := r.reader.CallContract(ctx, r.registry, lookup)
	if err != nil {
		return common.Address{}, agenterrors.Wrap(agenterrors.CodeResolutionFailure, err,
			fmt.Sprintf("查询 %s 的 resolver 失败", name))
	}
	resolverAddr, err := unpackAddress(parsed, "resolver", output)
	if err != nil {
		return common.Address{}, err
	}
	if (resolverAddr == common.Address{}) {
		return common.Address{}, agenterrors.New(agenterrors.CodeResolutionFailure,
			fmt.Sprintf("名称 %s 未注册", name))
	}

	query, err := parsed.Pack("addr", node)
	if err != nil {
		return common.Address{}, agenterrors.Wrap(agenterrors.CodeResolutionFailure, err, "编码 addr 查询失败")
	}
	output, err = r.reader.CallContract(ctx, resolverAddr, query)
	if err != nil {
		return common.Address{}, agenterrors.Wrap(agenterrors.CodeResolutionFailure, err,
			fmt.Sprintf("查询 %s 的地址失败", name))
	}
	resolved, err := unpackAddress(parsed, "addr", output)
	if err != nil {
		return common.Address{}, err
	}
	if (resolved == common.Address{}) {
		return common.Address{}, agenterrors.New(agenterrors.CodeResolutionFailure,
			fmt.Sprintf("名称 %s 未指向任何地址", name))
	}
	return resolved, nil
}

// Suffix 返回当前链名称服务的后缀, 例如 base.eth。
func (r *ChainResolver) Suffix() string {
	return r.suffix
}

func unpackAddress(parsed abi.ABI, method string, output []byte) (common.Address, error) {
	if len(output) == 0 {
		return common.Address{}, nil
	}
	values, err := parsed.Unpack(method, output)
	if err != nil {
		return common.Address{}, agenterrors.Wrap(agenterrors.CodeResolutionFailure, err,
			fmt.Sprintf("解析 %s 返回值失败", method))
	}
	addr, ok := values[0].(common.Address)
	if !ok {
		return common.Address{}, agenterrors.New(agenterrors.CodeResolutionFailure,
			fmt.Sprintf("%s 返回值类型异常", method))
	}
	return addr, nil
}
