package capability

import (
	"context"
	"fmt"
	"strconv"

	"golang.org/x/time/rate"

	agenterrors "DeSmond-Agent/internal/errors"
	"DeSmond-Agent/internal/llm"
	"DeSmond-Agent/internal/names"
	"DeSmond-Agent/internal/proposal"
	"DeSmond-Agent/internal/web3"
)

// NewSplitPayment 构造拆分付款能力。群内每名成员按均摊份额各出一笔
// 代币转账给同一收款方, 提案逐笔限速投递, 避免压垮消息网络。
func NewSplitPayment(builder *proposal.Builder, resolver names.Resolver, token web3.TokenDefinition, limiter *rate.Limiter) Capability {
	return newFunc(Descriptor{
		Name: "split_payment",
		Description: "This tool facilitates splitting a USDC payment among all group members, ensuring that each " +
			"user signs their transaction correctly. It activates whenever users explicitly request to split a " +
			"payment, distribute funds among group members, or mention terms like 'split payment,' 'USDC,' or " +
			"'group transaction' in relation to their financial activities.",
		Parameters: llm.ObjectSchema(map[string]llm.Property{
			"amount":    {Type: "string", Description: "Total decimal amount of USDC to split across the group."},
			"toAddress": {Type: "string", Description: "Recipient address or basename receiving every share."},
		}, "amount", "toAddress"),
		Effect: EffectProposal,
	}, func(ctx context.Context, inv Invocation) (Result, error) {
		var args transferArgs
		if err := decodeArgs(inv.Args, &args); err != nil {
			return Result{}, err
		}
		if len(inv.Members) == 0 {
			return Result{}, agenterrors.New(agenterrors.CodeCapabilityFailure, "会话没有可拆分的成员")
		}
		total, err := strconv.ParseFloat(args.Amount, 64)
		if err != nil || total <= 0 {
			return Result{}, agenterrors.New(agenterrors.CodeInvalidArgument,
				fmt.Sprintf("拆分总额非法: %s", args.Amount))
		}

		share := proposal.FormatShare(proposal.RoundShare(total / float64(len(inv.Members))))
		recipient, display, resolved := resolveRecipient(ctx, resolver, args.ToAddress)

		sent := 0
		for _, payer := range inv.Members {
			// 每笔之间保持固定间隔, 收款方未确认的笔同样计入节拍。
			if err := limiter.Wait(ctx); err != nil {
				return Result{}, agenterrors.Wrap(agenterrors.CodeTimeout, err, "拆分付款被中断")
			}
			if !resolved {
				continue
			}
			description := fmt.Sprintf("Transfer %s %s on Base Mainnet to %s. Signing required from %s.",
				share, token.Symbol, display, displayName(ctx, resolver, payer))
			calls, err := builder.TokenTransfer(token, payer, recipient, share, description)
			if err != nil {
				return Result{}, err
			}
			if err := inv.Conversation.SendProposal(ctx, calls); err != nil {
				return Result{}, agenterrors.Wrap(agenterrors.CodeTransportFailure, err, "投递拆分提案失败",
					agenterrors.WithRetryable(true))
			}
			sent++
		}

		// 汇总语按成员总数表述, 与是否有笔被跳过无关。
		return Result{
			Content: fmt.Sprintf("I've sent a transaction to each of the %d recipients. "+
				"Each one needs to review and sign their transaction.", len(inv.Members)),
			ProposalsSent: sent,
		}, nil
	})
}
