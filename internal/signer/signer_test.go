package signer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"DeSmond-Agent/internal/config"
)

func TestNewRemoteValidation(t *testing.T) {
	if _, err := NewRemote(config.SignerConfig{Address: "0x0000000000000000000000000000000000000001"}); err == nil {
		t.Fatal("缺少服务地址时应当返回错误")
	}
	if _, err := NewRemote(config.SignerConfig{Endpoint: "http://localhost:9000", Address: "not-an-address"}); err == nil {
		t.Fatal("非法身份地址应当返回错误")
	}
}

func TestRemoteSign(t *testing.T) {
	var got signRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("请求方法 = %s, 期望 POST", r.Method)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("解析请求体失败: %v", err)
		}
		json.NewEncoder(w).Encode(signResponse{Signature: "0x01020304"})
	}))
	defer server.Close()

	remote, err := NewRemote(config.SignerConfig{
		Endpoint: server.URL,
		User:     "desmond",
		Address:  "0x0000000000000000000000000000000000000001",
		ChainID:  8453,
	})
	if err != nil {
		t.Fatalf("构造远程签名器失败: %v", err)
	}

	signature, err := remote.Sign(context.Background(), "hello")
	if err != nil {
		t.Fatalf("签名失败: %v", err)
	}
	if len(signature) != 4 || signature[0] != 0x01 || signature[3] != 0x04 {
		t.Fatalf("签名内容异常: %x", signature)
	}
	if got.Command != "createSignature" || got.User != "desmond" || got.Message != "hello" {
		t.Fatalf("签名请求内容异常: %+v", got)
	}
	if remote.ChainID().Int64() != 8453 {
		t.Fatalf("链 ID = %d, 期望 8453", remote.ChainID().Int64())
	}
}

func TestRemoteSignServiceError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(signResponse{Error: "key unavailable"})
	}))
	defer server.Close()

	remote, err := NewRemote(config.SignerConfig{
		Endpoint: server.URL,
		Address:  "0x0000000000000000000000000000000000000001",
	})
	if err != nil {
		t.Fatalf("构造远程签名器失败: %v", err)
	}
	if _, err := remote.Sign(context.Background(), "hello"); err == nil {
		t.Fatal("服务端报错时应当返回错误")
	}
}

func TestRemoteSignBadStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	remote, err := NewRemote(config.SignerConfig{
		Endpoint: server.URL,
		Address:  "0x0000000000000000000000000000000000000001",
	})
	if err != nil {
		t.Fatalf("构造远程签名器失败: %v", err)
	}
	if _, err := remote.Sign(context.Background(), "hello"); err == nil {
		t.Fatal("非 200 状态码应当返回错误")
	}
}
