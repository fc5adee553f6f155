package web3

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ChainDefinitions models the structure of configs/chains.yaml.
type ChainDefinitions struct {
	Chains map[string]ChainDefinition `yaml:"chains"`
}

// ChainDefinition describes a single chain endpoint definition together with
// the token and name-resolution contracts the agent interacts with on it.
type ChainDefinition struct {
	Type           string          `yaml:"type"`
	RPCURL         string          `yaml:"rpc_url"`
	ChainID        int64           `yaml:"chain_id"`
	NetworkID      string          `yaml:"network_id"`
	NativeCurrency string          `yaml:"native_currency"`
	NativeDecimals int             `yaml:"native_decimals"`
	Description    string          `yaml:"description"`
	Token          TokenDefinition `yaml:"token"`
	Names          NamesDefinition `yaml:"names"`
}

// TokenDefinition describes the ERC20 token supported for transfers.
type TokenDefinition struct {
	Symbol   string `yaml:"symbol"`
	Address  string `yaml:"address"`
	Decimals int    `yaml:"decimals"`
}

// NamesDefinition locates the contracts used for human-readable names.
type NamesDefinition struct {
	Suffix          string `yaml:"suffix"`
	Registry        string `yaml:"registry"`
	ReverseResolver string `yaml:"reverse_resolver"`
}

// LoadChainDefinitions parses the YAML file containing chain metadata.
func LoadChainDefinitions(path string) (ChainDefinitions, error) {
	if strings.TrimSpace(path) == "" {
		return ChainDefinitions{Chains: map[string]ChainDefinition{}}, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return ChainDefinitions{}, fmt.Errorf("读取链配置失败: %w", err)
	}

	var defs ChainDefinitions
	if err := yaml.Unmarshal(content, &defs); err != nil {
		return ChainDefinitions{}, fmt.Errorf("解析链配置失败: %w", err)
	}
	if defs.Chains == nil {
		defs.Chains = map[string]ChainDefinition{}
	}
	for name, chain := range defs.Chains {
		if chain.NativeDecimals <= 0 {
			chain.NativeDecimals = 18
		}
		if chain.NativeCurrency == "" {
			chain.NativeCurrency = "ETH"
		}
		defs.Chains[name] = chain
	}
	return defs, nil
}
