package capability

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"DeSmond-Agent/internal/proposal"
	"DeSmond-Agent/internal/transport"
)

func newTestTransferInvocation(t *testing.T, args string) (*transport.MemoryClient, Invocation) {
	t.Helper()
	client, conv := newTestConversation(t, transport.KindDirect)
	return client, Invocation{
		Args:          json.RawMessage(args),
		Kind:          transport.KindDirect,
		AgentAddress:  agentAddr,
		SenderAddress: senderAddr,
		Conversation:  conv,
	}
}

func TestTransferNativeSendsProposal(t *testing.T) {
	builder := proposal.NewBuilder(8453, testChainDef)
	resolver := &fakeResolver{names: map[common.Address]string{senderAddr: "alice.base.eth"}}
	tool := NewTransferNative(builder, resolver, testChainDef)

	client, inv := newTestTransferInvocation(t, `{"amount":"1.5","toAddress":"`+targetAddr.Hex()+`"}`)
	result, err := tool.Invoke(context.Background(), inv)
	if err != nil {
		t.Fatalf("转账能力失败: %v", err)
	}
	if result.Content != transferAck {
		t.Fatalf("回复 = %q, 期望统一确认语", result.Content)
	}
	if result.ProposalsSent != 1 {
		t.Fatalf("投递提案数 = %d, 期望 1", result.ProposalsSent)
	}

	sent := client.Sent()
	if len(sent) != 1 || sent[0].ContentType != transport.ContentTypeProposal {
		t.Fatalf("出站消息异常: %+v", sent)
	}
	calls := sent[0].Proposal
	if calls.Version != proposal.VersionCurrent || calls.From != senderAddr.Hex() {
		t.Fatalf("提案头异常: %+v", calls)
	}
	if calls.Calls[0].To != targetAddr.Hex() || calls.Calls[0].Value != "0x14d1120d7b160000" {
		t.Fatalf("提案调用异常: %+v", calls.Calls[0])
	}
}

func TestTransferNativeResolvesName(t *testing.T) {
	builder := proposal.NewBuilder(8453, testChainDef)
	resolver := &fakeResolver{addresses: map[string]common.Address{"bob.base.eth": targetAddr}}
	tool := NewTransferNative(builder, resolver, testChainDef)

	client, inv := newTestTransferInvocation(t, `{"amount":"1","toAddress":"bob.base.eth"}`)
	if _, err := tool.Invoke(context.Background(), inv); err != nil {
		t.Fatalf("转账能力失败: %v", err)
	}
	sent := client.Sent()
	if len(sent) != 1 {
		t.Fatalf("出站消息数量 = %d, 期望 1", len(sent))
	}
	if sent[0].Proposal.Calls[0].To != targetAddr.Hex() {
		t.Fatalf("名称应被解析为地址: %+v", sent[0].Proposal.Calls[0])
	}
	if got := sent[0].Proposal.Calls[0].Metadata.Description; got == "" || !strings.Contains(got, "bob.base.eth") {
		t.Fatalf("提案描述应保留原始名称: %s", got)
	}
}

func TestTransferNativeSkipsUnresolvedRecipient(t *testing.T) {
	builder := proposal.NewBuilder(8453, testChainDef)
	resolver := &fakeResolver{}
	tool := NewTransferNative(builder, resolver, testChainDef)

	client, inv := newTestTransferInvocation(t, `{"amount":"1","toAddress":"ghost.base.eth"}`)
	result, err := tool.Invoke(context.Background(), inv)
	if err != nil {
		t.Fatalf("未确认收款方不应报错: %v", err)
	}
	if result.Content != transferAck {
		t.Fatalf("回复 = %q, 期望统一确认语", result.Content)
	}
	if result.ProposalsSent != 0 {
		t.Fatal("未确认收款方不应投递提案")
	}
	if len(client.Sent()) != 0 {
		t.Fatal("未确认收款方不应有出站消息")
	}
}

func TestTransferTokenSendsProposal(t *testing.T) {
	builder := proposal.NewBuilder(8453, testChainDef)
	tool := NewTransferToken(builder, &fakeResolver{}, testChainDef.Token)

	client, inv := newTestTransferInvocation(t, `{"amount":"20","toAddress":"`+targetAddr.Hex()+`"}`)
	result, err := tool.Invoke(context.Background(), inv)
	if err != nil {
		t.Fatalf("代币转账能力失败: %v", err)
	}
	if result.ProposalsSent != 1 {
		t.Fatalf("投递提案数 = %d, 期望 1", result.ProposalsSent)
	}
	call := client.Sent()[0].Proposal.Calls[0]
	if call.To != common.HexToAddress(testChainDef.Token.Address).Hex() {
		t.Fatalf("代币转账应指向代币合约: %s", call.To)
	}
	if call.Metadata.Amount != "20" {
		t.Fatalf("代币数量 = %s, 期望保留十进制原文 20", call.Metadata.Amount)
	}
}

func TestTransferRejectsBadAmount(t *testing.T) {
	builder := proposal.NewBuilder(8453, testChainDef)
	tool := NewTransferNative(builder, &fakeResolver{}, testChainDef)

	_, inv := newTestTransferInvocation(t, `{"amount":"-5","toAddress":"`+targetAddr.Hex()+`"}`)
	if _, err := tool.Invoke(context.Background(), inv); err == nil {
		t.Fatal("负数金额应当被拒绝")
	}
}
