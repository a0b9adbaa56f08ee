package main

import (
	"fmt"

	"github.com/KOMKZ/go-yogan-mesh/flagx"
	"github.com/KOMKZ/go-yogan-mesh/httpapi"
	"github.com/spf13/cobra"
)

// withAPI 为管理命令注册连接参数，并在执行前解析
func withAPI(cmd *cobra.Command, run func(cmd *cobra.Command, args []string, api apiFlags) error) *cobra.Command {
	var api apiFlags
	cobra.CheckErr(flagx.BindFlags(cmd, &api))
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		if err := flagx.ParseFlags(cmd, &api); err != nil {
			return err
		}
		return run(cmd, args, api)
	}
	return cmd
}

type registerFlags struct {
	Service   string            `flag:"service,s" required:"true" usage:"服务名"`
	ID        string            `flag:"id" usage:"实例 ID（为空时由服务端生成）"`
	Host      string            `flag:"host" required:"true" usage:"主机"`
	Port      int               `flag:"port,p" required:"true" usage:"端口"`
	Weight    int               `flag:"weight" default:"1" usage:"权重"`
	Tags      []string          `flag:"tag" usage:"标签"`
	Metadata  map[string]string `flag:"meta" usage:"元数据 k=v"`
	HealthURL string            `flag:"health-url" usage:"HTTP 健康检查地址"`
}

func newRegisterCmd() *cobra.Command {
	var f registerFlags
	cmd := &cobra.Command{
		Use:   "register",
		Short: "注册服务实例",
		Args:  cobra.NoArgs,
	}
	cobra.CheckErr(flagx.BindFlags(cmd, &f))
	return withAPI(cmd, func(cmd *cobra.Command, _ []string, api apiFlags) error {
		if err := flagx.ParseFlags(cmd, &f); err != nil {
			return err
		}
		req := httpapi.RegisterRequest{
			ServiceName:    f.Service,
			InstanceID:     f.ID,
			Host:           f.Host,
			Port:           f.Port,
			Metadata:       f.Metadata,
			Tags:           f.Tags,
			Weight:         f.Weight,
			HealthCheckURL: f.HealthURL,
		}
		if err := req.Validate(); err != nil {
			return err
		}
		inst, err := api.client().Register(cmd.Context(), req)
		if err != nil {
			return err
		}
		return printJSON(cmd, inst)
	})
}

func newDeregisterCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deregister <service> <instance-id>",
		Short: "注销服务实例",
		Args:  cobra.ExactArgs(2),
	}
	return withAPI(cmd, func(cmd *cobra.Command, args []string, api apiFlags) error {
		if err := api.client().Deregister(cmd.Context(), args[0], args[1]); err != nil {
			return err
		}
		_, err := fmt.Fprintf(cmd.OutOrStdout(), "deregistered %s/%s\n", args[0], args[1])
		return err
	})
}

type discoverFlags struct {
	Strategy string   `flag:"strategy" usage:"负载均衡策略（为空时使用服务端默认）"`
	Tags     []string `flag:"tag" usage:"实例必须包含的标签"`
}

func newDiscoverCmd() *cobra.Command {
	var f discoverFlags
	cmd := &cobra.Command{
		Use:   "discover <service>",
		Short: "按策略选出一个健康实例",
		Args:  cobra.ExactArgs(1),
	}
	cobra.CheckErr(flagx.BindFlags(cmd, &f))
	return withAPI(cmd, func(cmd *cobra.Command, args []string, api apiFlags) error {
		if err := flagx.ParseFlags(cmd, &f); err != nil {
			return err
		}
		inst, err := api.client().Discover(cmd.Context(), args[0], f.Strategy, f.Tags...)
		if err != nil {
			return err
		}
		return printJSON(cmd, inst)
	})
}

func newServicesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "services",
		Short: "列出已注册的服务",
		Args:  cobra.NoArgs,
	}
	return withAPI(cmd, func(cmd *cobra.Command, _ []string, api apiFlags) error {
		services, err := api.client().Services(cmd.Context())
		if err != nil {
			return err
		}
		for _, s := range services {
			if _, err := fmt.Fprintln(cmd.OutOrStdout(), s); err != nil {
				return err
			}
		}
		return nil
	})
}

type instancesFlags struct {
	Healthy bool `flag:"healthy" usage:"只显示健康实例"`
}

func newInstancesCmd() *cobra.Command {
	var f instancesFlags
	cmd := &cobra.Command{
		Use:   "instances <service>",
		Short: "列出服务的实例",
		Args:  cobra.ExactArgs(1),
	}
	cobra.CheckErr(flagx.BindFlags(cmd, &f))
	return withAPI(cmd, func(cmd *cobra.Command, args []string, api apiFlags) error {
		if err := flagx.ParseFlags(cmd, &f); err != nil {
			return err
		}
		instances, err := api.client().Instances(cmd.Context(), args[0], f.Healthy)
		if err != nil {
			return err
		}
		return printJSON(cmd, instances)
	})
}

func newHealthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "health",
		Short: "查看守护进程的健康状态",
		Args:  cobra.NoArgs,
	}
	return withAPI(cmd, func(cmd *cobra.Command, _ []string, api apiFlags) error {
		report, err := api.client().Health(cmd.Context())
		if err != nil {
			return err
		}
		if err := printJSON(cmd, report); err != nil {
			return err
		}
		if !report.IsHealthy() {
			return fmt.Errorf("meshd is %s", report.Status)
		}
		return nil
	})
}
