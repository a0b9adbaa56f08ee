package main

import (
	"encoding/json"
	"time"

	"github.com/KOMKZ/go-yogan-mesh/httpclient"
	"github.com/KOMKZ/go-yogan-mesh/logger"
	"github.com/spf13/cobra"
)

// apiFlags 管理命令共用的连接参数
type apiFlags struct {
	Server  string        `flag:"server" default:"http://127.0.0.1:8500" usage:"meshd HTTP API 地址"`
	Token   string        `flag:"token" usage:"Bearer Token（服务端开启 JWT 时需要）"`
	Timeout time.Duration `flag:"timeout" default:"5s" usage:"单次请求超时"`
}

func (f apiFlags) client() *httpclient.Client {
	opts := []httpclient.Option{
		httpclient.WithTimeout(f.Timeout),
		httpclient.WithLogger(logger.NewNop()),
	}
	if f.Token != "" {
		opts = append(opts, httpclient.WithToken(f.Token))
	}
	return httpclient.NewClient(f.Server, opts...)
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "meshd",
		Short: "服务注册、发现与调用治理",
		Long: `meshd 运行服务治理网格（注册表、发现、熔断、限流、重试、连接池），
通过 HTTP 管理 API 与 DNS 对外提供服务发现。

其余子命令是管理 API 的客户端：

  meshd serve --config configs/meshd.yaml
  meshd discover orders --strategy random --tag canary
  meshd instances orders --healthy`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		newServeCmd(),
		newRegisterCmd(),
		newDeregisterCmd(),
		newDiscoverCmd(),
		newServicesCmd(),
		newInstancesCmd(),
		newHealthCmd(),
		newVersionCmd(),
	)
	return root
}

// printJSON 缩进输出到命令的 stdout
func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
