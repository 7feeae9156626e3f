package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/any-hub/pkg-cdn/internal/cache"
	"github.com/any-hub/pkg-cdn/internal/config"
	"github.com/any-hub/pkg-cdn/internal/fetch"
	"github.com/any-hub/pkg-cdn/internal/gateway"
	"github.com/any-hub/pkg-cdn/internal/logging"
	"github.com/any-hub/pkg-cdn/internal/registry"
	"github.com/any-hub/pkg-cdn/internal/server"
	"github.com/any-hub/pkg-cdn/internal/server/routes"
	"github.com/any-hub/pkg-cdn/internal/version"
)

const configEnv = "PKG_CDN_CONFIG"

// cliOptions 汇总 CLI 标志解析后的结果，便于在测试中注入。
type cliOptions struct {
	configPath  string
	checkOnly   bool
	showVersion bool
}

var (
	stdOut io.Writer = os.Stdout
	stdErr io.Writer = os.Stderr
)

func main() {
	exitCode := 0
	cmd := newRootCommand(&exitCode)
	cmd.SetArgs(os.Args[1:])
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(stdErr, err.Error())
		os.Exit(2)
	}
	os.Exit(exitCode)
}

// newRootCommand 构造 pkg-cdn 根命令，执行结果写入 exitCode。
func newRootCommand(exitCode *int) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "pkg-cdn",
		Short:         "Serve files from npm packages over HTTP",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts, err := optionsFromCommand(cmd)
			if err != nil {
				return err
			}
			if exitCode != nil {
				*exitCode = run(opts)
			}
			return nil
		},
	}
	cmd.SetOut(stdOut)
	cmd.SetErr(stdErr)

	flags := cmd.Flags()
	flags.String("config", "", "配置文件路径（默认 ./config.toml，可被 "+configEnv+" 覆盖）")
	flags.Bool("check-config", false, "仅校验配置后退出")
	flags.Bool("version", false, "显示版本信息")
	return cmd
}

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径。
func parseCLIFlags(args []string) (cliOptions, error) {
	cmd := newRootCommand(nil)
	if err := cmd.ParseFlags(args); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}
	return optionsFromCommand(cmd)
}

func optionsFromCommand(cmd *cobra.Command) (cliOptions, error) {
	flags := cmd.Flags()
	configFlag, err := flags.GetString("config")
	if err != nil {
		return cliOptions{}, err
	}
	checkOnly, err := flags.GetBool("check-config")
	if err != nil {
		return cliOptions{}, err
	}
	showVer, err := flags.GetBool("version")
	if err != nil {
		return cliOptions{}, err
	}

	path := os.Getenv(configEnv)
	if configFlag != "" {
		path = configFlag
	}
	if path == "" {
		path = config.DefaultPath
	}

	return cliOptions{
		configPath:  path,
		checkOnly:   checkOnly,
		showVersion: showVer,
	}, nil
}

// run 根据解析到的 CLI 选项执行业务流程，并返回退出码，方便测试。
func run(opts cliOptions) int {
	if opts.showVersion {
		printVersion()
		return 0
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(stdErr, "加载配置失败: %v\n", err)
		return 1
	}

	logger, err := logging.InitLogger(cfg.Global)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化日志失败: %v\n", err)
		return 1
	}

	if opts.checkOnly {
		fields := logging.BaseFields("check_config", opts.configPath)
		fields["registry"] = cfg.Registry.URL
		fields["credentials"] = cfg.Registry.AuthMode()
		fields["blocked_packages"] = len(cfg.Serve.BlockedPackages)
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return 0
	}

	// 启动顺序：配置 → 日志 → 磁盘缓存 → registry 元数据 → 下载 → 编排 → Fiber server。
	store, err := cache.NewStore(cfg.Global.StoragePath)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化缓存目录失败: %v\n", err)
		return 1
	}

	var clientOpts []registry.ClientOption
	if cfg.Registry.HasCredentials() {
		clientOpts = append(clientOpts, registry.WithBasicAuth(cfg.Registry.Username, cfg.Registry.Password))
	}
	registryClient := registry.NewClient(server.NewRegistryClient(cfg), cfg.Registry.URL, clientOpts...)
	metadata := registry.NewCache(registryClient.Fetch, registry.CacheOptions{
		RegistryURL: registryClient.BaseURL(),
		TTL:         cfg.Registry.MetadataTTL.DurationValue(),
		MaxEntries:  cfg.Registry.MetadataMaxEntries,
		Timeout:     cfg.Global.UpstreamTimeout.DurationValue(),
		Logger:      logger,
	})
	fetcher := fetch.New(server.NewDownloadClient(cfg), logger)

	gw := gateway.New(store, metadata, fetcher, logger, gateway.Options{
		BowerBundlePath: cfg.Serve.BowerBundlePath,
		AutoIndex:       cfg.Serve.AutoIndex,
		MaximumDepth:    cfg.Serve.MaximumDepth,
		BlockedPackages: cfg.Serve.BlockedPackages,
		FetchTimeout:    cfg.Global.DownloadTimeout.DurationValue(),
	})
	handler := gateway.NewHandler(gw, logger, gateway.HandlerOptions{
		RedirectMaxAge: cfg.Serve.RedirectMaxAge.DurationValue(),
		FileMaxAge:     cfg.Serve.FileMaxAge.DurationValue(),
	})

	fields := logging.BaseFields("startup", opts.configPath)
	fields["listen_port"] = cfg.Global.ListenPort
	fields["registry"] = registryClient.BaseURL()
	fields["credentials"] = cfg.Registry.AuthMode()
	fields["storage"] = store.Root()
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("配置加载完成")

	sources := routes.StatusSources{
		Registry:    metadata,
		Fetch:       fetcher,
		Gateway:     gw,
		RegistryURL: registryClient.BaseURL(),
		StartedAt:   time.Now(),
	}
	if err := startHTTPServer(cfg, handler, sources, logger); err != nil {
		fmt.Fprintf(stdErr, "HTTP 服务启动失败: %v\n", err)
		return 1
	}
	return 0
}

func startHTTPServer(cfg *config.Config, handler server.RequestHandler, sources routes.StatusSources, logger *logrus.Logger) error {
	port := cfg.Global.ListenPort
	app, err := server.NewApp(server.AppOptions{
		Logger:     logger,
		Handler:    handler,
		ListenPort: port,
		Register: func(app *fiber.App) {
			routes.RegisterStatusRoutes(app, sources)
		},
	})
	if err != nil {
		return err
	}

	logger.WithFields(logrus.Fields{
		"action": "listen",
		"port":   port,
	}).Info("Fiber 服务启动")

	return app.Listen(fmt.Sprintf(":%d", port))
}
