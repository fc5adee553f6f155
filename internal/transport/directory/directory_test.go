package directory

import (
	"context"
	"testing"
)

func TestMemoryDirectory(t *testing.T) {
	dir := NewMemory()
	ctx := context.Background()

	if _, err := dir.Lookup(ctx, "conv-1"); err == nil {
		t.Fatal("未知会话应当返回错误")
	}
	if err := dir.Upsert(ctx, Info{}); err == nil {
		t.Fatal("空会话标识应当被拒绝")
	}

	info := Info{
		ID:   "conv-1",
		Kind: "group",
		Members: []Member{
			{InboxID: "a", Address: "0x0000000000000000000000000000000000000001"},
			{InboxID: "b", Address: "0x0000000000000000000000000000000000000002"},
		},
	}
	if err := dir.Upsert(ctx, info); err != nil {
		t.Fatalf("写入目录失败: %v", err)
	}

	got, err := dir.Lookup(ctx, "conv-1")
	if err != nil {
		t.Fatalf("查询目录失败: %v", err)
	}
	if got.Kind != "group" || len(got.Members) != 2 {
		t.Fatalf("目录条目异常: %+v", got)
	}

	// 更新后应覆盖旧条目。
	info.Kind = "direct"
	if err := dir.Upsert(ctx, info); err != nil {
		t.Fatalf("更新目录失败: %v", err)
	}
	got, _ = dir.Lookup(ctx, "conv-1")
	if got.Kind != "direct" {
		t.Fatalf("更新后的类型 = %s, 期望 direct", got.Kind)
	}
}
