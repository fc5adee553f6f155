package capability

import (
	"context"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	agenterrors "DeSmond-Agent/internal/errors"
	"DeSmond-Agent/internal/llm"
	"DeSmond-Agent/internal/names"
	"DeSmond-Agent/internal/web3"
)

// balancePlaces 是余额展示的小数位数。
const balancePlaces = 6

// NewGetBalance 查询发送者的原生币余额。
func NewGetBalance(client web3.Client, def web3.ChainDefinition) Capability {
	return newFunc(Descriptor{
		Name: "get_balance",
		Description: "This tool allows users to retrieve accurate and up-to-date Ethereum (ETH) balance information " +
			"on the Base mainnet. It activates whenever the user explicitly requests their ETH balance, checks wallet " +
			"holdings, or mentions terms like 'balance,' 'ETH,' or 'Base mainnet' in relation to their account status.",
		Parameters: llm.ObjectSchema(nil),
		Effect:     EffectPure,
	}, func(ctx context.Context, inv Invocation) (Result, error) {
		balance, err := client.BalanceAt(ctx, inv.SenderAddress)
		if err != nil {
			return Result{}, agenterrors.Wrap(agenterrors.CodeChainFailure, err, "查询原生币余额失败",
				agenterrors.WithRetryable(true))
		}
		formatted := web3.FormatUnitsFixed(balance, nativeDecimals(def), balancePlaces)
		return Result{Content: fmt.Sprintf(
			"The user's %s (Base Mainnet) balance is %s %s. Don't round or modify the balance.",
			currencyName(def), formatted, currencyName(def))}, nil
	})
}

// NewGetBalanceToken 查询发送者的代币余额。
func NewGetBalanceToken(client web3.Client, token web3.TokenDefinition) Capability {
	return newFunc(Descriptor{
		Name: "get_balance_usdc",
		Description: "This tool allows users to retrieve accurate and up-to-date USD Coin (USDC) balance information " +
			"on the Base mainnet. It activates whenever the user explicitly requests their USDC balance, checks wallet " +
			"holdings, or mentions terms like 'balance,' 'USDC,' or 'Base mainnet' in relation to their account status.",
		Parameters: llm.ObjectSchema(nil),
		Effect:     EffectPure,
	}, func(ctx context.Context, inv Invocation) (Result, error) {
		balance, err := client.TokenBalance(ctx, common.HexToAddress(token.Address), inv.SenderAddress)
		if err != nil {
			return Result{}, agenterrors.Wrap(agenterrors.CodeChainFailure, err, "查询代币余额失败",
				agenterrors.WithRetryable(true))
		}
		formatted := web3.FormatUnitsFixed(balance, token.Decimals, balancePlaces)
		return Result{Content: fmt.Sprintf(
			"The user's %s (Base Mainnet) balance is %s %s. Don't round or modify the balance.",
			token.Symbol, formatted, token.Symbol)}, nil
	})
}

// NewGetBalances 并发查询群内全部成员的原生币余额。
func NewGetBalances(client web3.Client, resolver names.Resolver, def web3.ChainDefinition) Capability {
	return newFunc(Descriptor{
		Name: "get_balances",
		Description: "This tool allows users to retrieve accurate and up-to-date Ethereum (ETH) balances information " +
			"on the Base mainnet. It activates whenever the user explicitly requests the group ETH balances, checks " +
			"wallet holdings, or mentions terms like 'balances,' 'ETH,' or 'Base mainnet' in relation to their accounts " +
			"on the group status.",
		Parameters: llm.ObjectSchema(nil),
		Effect:     EffectPure,
	}, func(ctx context.Context, inv Invocation) (Result, error) {
		lines, err := collectBalances(ctx, inv.Members, resolver, currencyName(def),
			func(ctx context.Context, member common.Address) (string, error) {
				balance, err := client.BalanceAt(ctx, member)
				if err != nil {
					return "", err
				}
				return web3.FormatUnitsFixed(balance, nativeDecimals(def), balancePlaces), nil
			})
		if err != nil {
			return Result{}, err
		}
		return Result{Content: balanceList(currencyName(def), lines)}, nil
	})
}

// NewGetBalancesToken 并发查询群内全部成员的代币余额。
func NewGetBalancesToken(client web3.Client, resolver names.Resolver, token web3.TokenDefinition) Capability {
	return newFunc(Descriptor{
		Name: "get_balances_usdc",
		Description: "This tool allows users to retrieve accurate and up-to-date USD Coin (USDC) balances information " +
			"on the Base mainnet. It activates whenever the user explicitly requests the group USDC balances, checks " +
			"wallet holdings, or mentions terms like 'balances,' 'USDC,' or 'Base mainnet' in relation to their " +
			"accounts on the group status.",
		Parameters: llm.ObjectSchema(nil),
		Effect:     EffectPure,
	}, func(ctx context.Context, inv Invocation) (Result, error) {
		tokenAddress := common.HexToAddress(token.Address)
		lines, err := collectBalances(ctx, inv.Members, resolver, token.Symbol,
			func(ctx context.Context, member common.Address) (string, error) {
				balance, err := client.TokenBalance(ctx, tokenAddress, member)
				if err != nil {
					return "", err
				}
				return web3.FormatUnitsFixed(balance, token.Decimals, balancePlaces), nil
			})
		if err != nil {
			return Result{}, err
		}
		return Result{Content: balanceList(token.Symbol, lines)}, nil
	})
}

// collectBalances 并发读取成员余额, 任一失败立即整体失败。
// 行顺序与成员顺序一致。
func collectBalances(ctx context.Context, members []common.Address, resolver names.Resolver,
	currency string, read func(context.Context, common.Address) (string, error)) ([]string, error) {
	if len(members) == 0 {
		return nil, agenterrors.New(agenterrors.CodeCapabilityFailure, "会话没有可查询的成员")
	}
	lines := make([]string, len(members))
	g, gctx := errgroup.WithContext(ctx)
	for i, member := range members {
		i, member := i, member
		g.Go(func() error {
			formatted, err := read(gctx, member)
			if err != nil {
				return agenterrors.Wrap(agenterrors.CodeChainFailure, err,
					fmt.Sprintf("查询成员 %s 余额失败", member.Hex()),
					agenterrors.WithRetryable(true))
			}
			lines[i] = fmt.Sprintf("- %s => %s %s (Base Mainnet)",
				displayName(gctx, resolver, member), formatted, currency)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return lines, nil
}

func balanceList(currency string, lines []string) string {
	return fmt.Sprintf(
		"The %s (Base Mainnet) balance of the addresses in this chat are:\n\n%s\n\n"+
			"Return this list exactly as it is. Do not include any statements such as 'Please note that these "+
			"balances are subject to change and may not reflect the current balance.' Return this list exactly "+
			"as it is. The values on this list are entirely real and up-to-date. Return this list exactly as it is.",
		currency, strings.Join(lines, "\n"))
}

func currencyName(def web3.ChainDefinition) string {
	if def.NativeCurrency != "" {
		return def.NativeCurrency
	}
	return "ETH"
}

func nativeDecimals(def web3.ChainDefinition) int {
	if def.NativeDecimals > 0 {
		return def.NativeDecimals
	}
	return 18
}
