package capability

import (
	"context"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"DeSmond-Agent/internal/names"
)

// resolveRecipient 把用户给出的收款方转换为链上地址。
// 十六进制地址直接通过; 带点号的输入按名称解析; 其余输入视为无法确认,
// 返回 ok=false, 调用方应跳过该笔提案而不是报错。
func resolveRecipient(ctx context.Context, resolver names.Resolver, raw string) (addr common.Address, display string, ok bool) {
	raw = strings.TrimSpace(raw)
	if common.IsHexAddress(raw) {
		addr = common.HexToAddress(raw)
		return addr, addr.Hex(), true
	}
	if resolver == nil || !strings.Contains(raw, ".") {
		return common.Address{}, raw, false
	}
	resolved, err := resolver.ResolveAddress(ctx, raw)
	if err != nil {
		return common.Address{}, raw, false
	}
	return resolved, raw, true
}

// displayName 反向解析地址的主名称, 未注册或解析失败时退回地址本身。
func displayName(ctx context.Context, resolver names.Resolver, address common.Address) string {
	if resolver == nil {
		return address.Hex()
	}
	name, err := resolver.ResolveName(ctx, address)
	if err != nil || name == "" {
		return address.Hex()
	}
	return name
}
