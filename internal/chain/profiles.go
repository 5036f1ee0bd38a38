package chain

import "github.com/ethereum/go-ethereum/common"

// 金库基础合约在各公共网络上使用相同的确定性部署地址。
var defaultVaultContracts = VaultContracts{
	Singleton:       common.HexToAddress("0x3E5c63644E683549055b9Be8653de26E0B4CD36E"),
	ProxyFactory:    common.HexToAddress("0xa6B71E26C5e0845f74c812102Ca7114b6a896AB2"),
	MultiSend:       common.HexToAddress("0xA238CBeb142c10Ef7Ad8442C6D1f9E89e07e7761"),
	FallbackHandler: common.HexToAddress("0xf48f2B2d2a534e402487b3ee7C18c33Aec0Fe5e4"),
}

// builtinProfiles 返回内置支持的网络列表。
// 地址表是静态配置：缺少 swap/lending 配置即表示该集成在此网络不可用。
func builtinProfiles() map[uint64]NetworkProfile {
	profiles := []NetworkProfile{
		{
			ChainID:      1,
			Name:         "mainnet",
			NativeSymbol: "ETH",
			RPCURL:       "https://eth.llamarpc.com",
			TxServiceURL: "https://safe-transaction-mainnet.safe.global",
			YieldIndex:   "Ethereum",
			DefaultAssets: []Asset{
				{Symbol: "WETH", Address: common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"), Decimals: 18},
				{Symbol: "USDC", Address: common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"), Decimals: 6},
				{Symbol: "USDT", Address: common.HexToAddress("0xdAC17F958D2ee523a2206206994597C13D831ec7"), Decimals: 6},
				{Symbol: "DAI", Address: common.HexToAddress("0x6B175474E89094C44Da98b954EedeAC495271d0F"), Decimals: 18},
			},
			Swap: &SwapConfig{
				Router:        common.HexToAddress("0x7a250d5630B4cF539739dF2C5dAcb4c659F2488D"),
				Factory:       common.HexToAddress("0x5C69bEe701ef814a2B6a3EDD4B1652CB9cc5aA6f"),
				WrappedNative: common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"),
			},
			Lending: &LendingConfig{
				Pool: common.HexToAddress("0x87870Bca3F3fD6335C3F4ce8392D69350B4fA4E2"),
			},
			Vault: VaultContracts{
				Singleton:       common.HexToAddress("0xd9Db270c1B5E3Bd161E8c8503c55cEABeE709552"),
				ProxyFactory:    defaultVaultContracts.ProxyFactory,
				MultiSend:       defaultVaultContracts.MultiSend,
				FallbackHandler: defaultVaultContracts.FallbackHandler,
			},
		},
		{
			ChainID:      8453,
			Name:         "base",
			NativeSymbol: "ETH",
			RPCURL:       "https://mainnet.base.org",
			TxServiceURL: "https://safe-transaction-base.safe.global",
			YieldIndex:   "Base",
			DefaultAssets: []Asset{
				{Symbol: "WETH", Address: common.HexToAddress("0x4200000000000000000000000000000000000006"), Decimals: 18},
				{Symbol: "USDC", Address: common.HexToAddress("0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"), Decimals: 6},
				{Symbol: "DAI", Address: common.HexToAddress("0x50c5725949A6F0c72E6C4a641F24049A917DB0Cb"), Decimals: 18},
			},
			Swap: &SwapConfig{
				Router:        common.HexToAddress("0x4752ba5DBc23f44D87826276BF6Fd6b1C372aD24"),
				Factory:       common.HexToAddress("0x8909Dc15e40173Ff4699343b6eB8132c65e18eC6"),
				WrappedNative: common.HexToAddress("0x4200000000000000000000000000000000000006"),
			},
			Lending: &LendingConfig{
				Pool: common.HexToAddress("0xA238Dd80C259a72e81d7e4664a9801593F98d1c5"),
			},
			Vault: defaultVaultContracts,
		},
		{
			ChainID:      42161,
			Name:         "arbitrum",
			NativeSymbol: "ETH",
			RPCURL:       "https://arb1.arbitrum.io/rpc",
			TxServiceURL: "https://safe-transaction-arbitrum.safe.global",
			YieldIndex:   "Arbitrum",
			DefaultAssets: []Asset{
				{Symbol: "WETH", Address: common.HexToAddress("0x82aF49447D8a07e3bd95BD0d56f35241523fBab1"), Decimals: 18},
				{Symbol: "USDC", Address: common.HexToAddress("0xaf88d065e77c8cC2239327C5EDb3A432268e5831"), Decimals: 6},
				{Symbol: "DAI", Address: common.HexToAddress("0xDA10009cBd5D07dd0CeCc66161FC93D7c9000da1"), Decimals: 18},
			},
			Swap: &SwapConfig{
				Router:        common.HexToAddress("0x4752ba5DBc23f44D87826276BF6Fd6b1C372aD24"),
				Factory:       common.HexToAddress("0xf1D7CC64Fb4452F05c498126312eBE29f30Fbcf9"),
				WrappedNative: common.HexToAddress("0x82aF49447D8a07e3bd95BD0d56f35241523fBab1"),
			},
			Lending: &LendingConfig{
				Pool: common.HexToAddress("0x794a61358D6845594F94dc1DB02A252b5b4814aD"),
			},
			Vault: defaultVaultContracts,
		},
		{
			// 测试网仅开放 lending：swap 配置缺省即表示不可用。
			ChainID:      11155111,
			Name:         "sepolia",
			NativeSymbol: "ETH",
			RPCURL:       "https://ethereum-sepolia-rpc.publicnode.com",
			TxServiceURL: "https://safe-transaction-sepolia.safe.global",
			DefaultAssets: []Asset{
				{Symbol: "WETH", Address: common.HexToAddress("0xfFf9976782d46CC05630D1f6eBAb18b2324d6B14"), Decimals: 18},
				{Symbol: "USDC", Address: common.HexToAddress("0x94a9D9AC8a22534E3FaCa9F4e7F2E2cf85d5E4C8"), Decimals: 6},
				{Symbol: "DAI", Address: common.HexToAddress("0xFF34B3d4Aee8ddCd6F9AFFFB6Fe49bD371b8a357"), Decimals: 18},
			},
			Lending: &LendingConfig{
				Pool: common.HexToAddress("0x6Ae43d3271ff6888e7Fc43Fd7321a503ff738951"),
			},
			Vault: defaultVaultContracts,
		},
	}

	out := make(map[uint64]NetworkProfile, len(profiles))
	for _, profile := range profiles {
		out[profile.ChainID] = profile
	}
	return out
}
