package capability

import (
	"context"
	"fmt"

	agenterrors "DeSmond-Agent/internal/errors"
	"DeSmond-Agent/internal/llm"
	"DeSmond-Agent/internal/names"
	"DeSmond-Agent/internal/proposal"
	"DeSmond-Agent/internal/web3"
)

// transferAck 是转账提案投递后的统一回复, 提案被跳过时同样返回,
// 由钱包侧的缺席让用户察觉收款方没有确认。
const transferAck = "I have sent the transaction. Please review and sign it when you're ready."

type transferArgs struct {
	Amount    string `json:"amount"`
	ToAddress string `json:"toAddress"`
}

// NewTransferNative 构造原生币转账能力。提案的付款方是消息发送者。
func NewTransferNative(builder *proposal.Builder, resolver names.Resolver, def web3.ChainDefinition) Capability {
	return newFunc(Descriptor{
		Name: "transfer_native",
		Description: "This tool facilitates native Ethereum (ETH) transfers on the Base mainnet. It activates " +
			"whenever the user explicitly requests to send ETH, initiates a transaction, or mentions terms like " +
			"'transfer,' 'ETH,' or 'Base mainnet' in relation to their wallet activity.",
		Parameters: llm.ObjectSchema(map[string]llm.Property{
			"amount":    {Type: "string", Description: "Decimal amount of ETH to transfer."},
			"toAddress": {Type: "string", Description: "Recipient address or basename."},
		}, "amount", "toAddress"),
		Effect: EffectProposal,
	}, func(ctx context.Context, inv Invocation) (Result, error) {
		var args transferArgs
		if err := decodeArgs(inv.Args, &args); err != nil {
			return Result{}, err
		}
		recipient, display, ok := resolveRecipient(ctx, resolver, args.ToAddress)
		if !ok {
			return Result{Content: transferAck}, nil
		}
		description := fmt.Sprintf("Transfer %s %s on Base Mainnet to %s. Signing required from %s.",
			args.Amount, currencyName(def), display, displayName(ctx, resolver, inv.SenderAddress))
		calls, err := builder.NativeTransfer(inv.SenderAddress, recipient, args.Amount, description)
		if err != nil {
			return Result{}, err
		}
		if err := inv.Conversation.SendProposal(ctx, calls); err != nil {
			return Result{}, agenterrors.Wrap(agenterrors.CodeTransportFailure, err, "投递转账提案失败",
				agenterrors.WithRetryable(true))
		}
		return Result{Content: transferAck, ProposalsSent: 1}, nil
	})
}

// NewTransferToken 构造代币转账能力。
func NewTransferToken(builder *proposal.Builder, resolver names.Resolver, token web3.TokenDefinition) Capability {
	return newFunc(Descriptor{
		Name: "transfer_usdc",
		Description: "This tool facilitates USD Coin (USDC) transfers on the Base mainnet. It activates whenever " +
			"the user explicitly requests to send USDC, initiates a transaction, or mentions terms like 'transfer,' " +
			"'USDC,' or 'Base mainnet' in relation to their wallet activity.",
		Parameters: llm.ObjectSchema(map[string]llm.Property{
			"amount":    {Type: "string", Description: "Decimal amount of USDC to transfer."},
			"toAddress": {Type: "string", Description: "Recipient address or basename."},
		}, "amount", "toAddress"),
		Effect: EffectProposal,
	}, func(ctx context.Context, inv Invocation) (Result, error) {
		var args transferArgs
		if err := decodeArgs(inv.Args, &args); err != nil {
			return Result{}, err
		}
		recipient, display, ok := resolveRecipient(ctx, resolver, args.ToAddress)
		if !ok {
			return Result{Content: transferAck}, nil
		}
		description := fmt.Sprintf("Transfer %s %s on Base Mainnet to %s. Signing required from %s.",
			args.Amount, token.Symbol, display, displayName(ctx, resolver, inv.SenderAddress))
		calls, err := builder.TokenTransfer(token, inv.SenderAddress, recipient, args.Amount, description)
		if err != nil {
			return Result{}, err
		}
		if err := inv.Conversation.SendProposal(ctx, calls); err != nil {
			return Result{}, agenterrors.Wrap(agenterrors.CodeTransportFailure, err, "投递转账提案失败",
				agenterrors.WithRetryable(true))
		}
		return Result{Content: transferAck, ProposalsSent: 1}, nil
	})
}
