package main

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"strings"
	"time"

	"CoVault/internal/chain"
	"CoVault/internal/config"
	xerrors "CoVault/internal/errors"
	"CoVault/internal/identity"
	"CoVault/internal/integrations/lending"
	"CoVault/internal/integrations/swap"
	"CoVault/internal/notify"
	"CoVault/internal/onboarding"
	"CoVault/internal/orchestrator"
	"CoVault/internal/store"
	"CoVault/internal/txservice"
	"CoVault/internal/vault"
	"CoVault/internal/web3"
	"CoVault/internal/web3/evm"

	"github.com/spf13/cobra"
)

// app 汇集一次命令执行所需的全部依赖，子命令先 newApp 再干活。
type app struct {
	cfg     *config.Config
	profile chain.NetworkProfile
	store   store.Store
	client  web3.Client
	keys    *identity.Manager
	events  notify.Publisher
	service txservice.Service
}

// newApp 按配置完成依赖装配: 网络档案、持久化存储、节点客户端、
// 事件通道与协调服务客户端。失败时已创建的资源会被回收。
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	registry, err := chain.NewRegistry(cfg.Network.ProfilesFile)
	if err != nil {
		return nil, err
	}
	profile, err := registry.Resolve(cfg.Network.ChainID)
	if err != nil {
		return nil, err
	}

	st, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	client, err := evm.NewClient(ctx, evm.Config{
		Name:   profile.Name,
		RPCURL: profile.RPCURL,
	})
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	events, err := openPublisher(cfg)
	if err != nil {
		client.Close()
		_ = st.Close()
		return nil, err
	}

	baseURL := cfg.Coordination.BaseURL
	if baseURL == "" {
		baseURL = profile.TxServiceURL
	}
	service, err := txservice.NewClient(txservice.Config{
		BaseURL: baseURL,
		Timeout: time.Duration(cfg.Coordination.TimeoutSeconds) * time.Second,
	})
	if err != nil {
		_ = events.Close()
		client.Close()
		_ = st.Close()
		return nil, err
	}

	return &app{
		cfg:     cfg,
		profile: profile,
		store:   st,
		client:  client,
		keys:    identity.NewManager(cfg.Keystore.Dir, cfg.Keystore.ResolvePassphrase()),
		events:  events,
		service: service,
	}, nil
}

func (a *app) Close() {
	_ = a.events.Close()
	a.client.Close()
	_ = a.store.Close()
}

// machine 构造入驻状态机。
func (a *app) machine() *onboarding.Machine {
	return onboarding.NewMachine(&a.profile, a.store, a.keys, a.client, a.events)
}

// orchestrator 构造编排器。要求智能体身份已经存在;
// 活跃金库未部署时编排器仍可用，但提案操作会被前置条件拒绝。
func (a *app) orchestrator(ctx context.Context) (*orchestrator.Orchestrator, error) {
	if !a.keys.Exists() {
		return nil, xerrors.New(xerrors.CodePrecondition,
			"智能体身份尚未创建，请先执行 covaultd onboard start")
	}
	agent, err := a.keys.Load()
	if err != nil {
		return nil, err
	}

	var account vault.Account
	state, err := a.store.LoadState(ctx)
	if err == nil {
		if addr, ok := state.ActiveVaults[a.profile.ChainID]; ok {
			account = vault.NewSafe(a.client, agent, addr, a.profile.Vault)
		}
	} else if !xerrors.Is(err, xerrors.CodeNotFound) {
		return nil, err
	}

	opts := orchestrator.Options{
		Profile: &a.profile,
		Store:   a.store,
		Client:  a.client,
		Agent:   agent,
		Account: account,
		Service: a.service,
		Events:  a.events,
	}
	if a.profile.SwapEnabled() {
		opts.Swap = swap.NewBuilder(a.client, *a.profile.Swap)
	}
	if a.profile.LendingEnabled() {
		opts.Lending = lending.NewBuilder(*a.profile.Lending)
	}
	return orchestrator.New(opts)
}

func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch cfg.Storage.Driver {
	case "", "file":
		return store.NewFileStore(cfg.Storage.DataDir)
	case "memory":
		return store.NewMemoryStore(), nil
	case "mysql":
		return store.NewMySQLStore(ctx, cfg.Storage.DSN)
	default:
		return nil, fmt.Errorf("未知的存储驱动: %s", cfg.Storage.Driver)
	}
}

func openPublisher(cfg *config.Config) (notify.Publisher, error) {
	switch cfg.Notify.Driver {
	case "", "log":
		return notify.NewLogPublisher(), nil
	case "redis":
		return notify.NewRedisPublisher(notify.RedisConfig{
			Address:  cfg.Notify.Redis.Address,
			Password: cfg.Notify.Redis.Password,
			DB:       cfg.Notify.Redis.DB,
			Channel:  cfg.Notify.Redis.Channel,
		})
	case "rabbitmq":
		return notify.NewRabbitMQPublisher(notify.RabbitMQConfig{
			URL:     cfg.Notify.RabbitMQ.URL,
			Queue:   cfg.Notify.RabbitMQ.Queue,
			Durable: cfg.Notify.RabbitMQ.Durable,
		})
	default:
		return nil, fmt.Errorf("未知的事件通道驱动: %s", cfg.Notify.Driver)
	}
}

// withApp 是子命令的公共外壳: 加载配置、装配依赖、收尾释放。
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

// parseWei 解析十进制 wei 数值，要求为正。
func parseWei(raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("无法解析数额: %q", raw)
	}
	if amount.Sign() <= 0 {
		return nil, fmt.Errorf("数额必须为正: %q", raw)
	}
	return amount, nil
}

// printJSON 把结果以缩进 JSON 输出到标准输出，方便脚本消费。
func printJSON(v any) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}
