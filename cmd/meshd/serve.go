package main

import (
	"github.com/KOMKZ/go-yogan-mesh/config"
	"github.com/KOMKZ/go-yogan-mesh/di"
	"github.com/KOMKZ/go-yogan-mesh/flagx"
	"github.com/spf13/cobra"
)

// serveFlags 带 config tag 的参数覆盖配置文件与环境变量
type serveFlags struct {
	ConfigFile string `flag:"config,c" usage:"配置文件（必须存在）"`
	ConfigDir  string `flag:"config-dir" usage:"配置目录，读取 config.yaml 与 <env>.yaml"`
	EnvPrefix  string `flag:"env-prefix" default:"MESH" usage:"环境变量前缀"`

	LogLevel      string   `flag:"log-level" config:"logger.level" usage:"日志级别"`
	HTTPAddr      string   `flag:"http-addr" config:"http.addr" usage:"HTTP API 监听地址"`
	DNS           bool     `flag:"dns" config:"dns.enabled" usage:"启用 DNS 接口"`
	DNSAddr       string   `flag:"dns-addr" config:"dns.addr" usage:"DNS 监听地址"`
	DNSDomain     string   `flag:"dns-domain" config:"dns.domain" usage:"DNS 域"`
	GRPC          bool     `flag:"grpc" config:"grpc.enabled" usage:"启用 gRPC 服务端"`
	GRPCAddr      string   `flag:"grpc-addr" config:"grpc.addr" usage:"gRPC 监听地址"`
	EtcdEndpoints []string `flag:"etcd-endpoints" config:"mirror.etcd.endpoints" usage:"etcd 镜像地址"`
	KafkaBrokers  []string `flag:"kafka-brokers" config:"event.kafka.brokers" usage:"事件 Kafka brokers"`
}

func newServeCmd() *cobra.Command {
	var f serveFlags
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "启动网格守护进程",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := flagx.ParseFlags(cmd, &f); err != nil {
				return err
			}

			flags := config.NewFlagSource(cmd.Flags(), config.PriorityFlag)
			for name, key := range flagx.ConfigKeys(&f) {
				flags.Bind(name, key)
			}

			app := di.NewApplication(
				di.WithConfigFile(f.ConfigFile),
				di.WithConfigPath(f.ConfigDir),
				di.WithEnvPrefix(f.EnvPrefix),
				di.WithFlags(flags),
				di.WithVersion(Version),
			)
			return app.Run(cmd.Context())
		},
	}
	cobra.CheckErr(flagx.BindFlags(cmd, &f))
	return cmd
}
