package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/any-asset/internal/cache"
	"github.com/any-hub/any-asset/internal/config"
	"github.com/any-hub/any-asset/internal/fetch"
	"github.com/any-hub/any-asset/internal/logging"
	"github.com/any-hub/any-asset/internal/metrics"
	"github.com/any-hub/any-asset/internal/proxy"
	"github.com/any-hub/any-asset/internal/server"
	"github.com/any-hub/any-asset/internal/server/routes"
	"github.com/any-hub/any-asset/internal/upstream"
	"github.com/any-hub/any-asset/internal/version"
)

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
	opts, err := parseCLIFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(stdErr, err.Error())
		os.Exit(2)
	}
	os.Exit(run(opts))
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
		fields["origins"] = len(cfg.Origins)
		fields["credentials"] = config.CredentialModes(cfg.Origins)
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return 0
	}

	app, cleanup, err := buildApp(cfg, logger)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化服务失败: %v\n", err)
		return 1
	}
	defer cleanup()

	fields := logging.BaseFields("startup", opts.configPath)
	fields["origins"] = len(cfg.Origins)
	fields["listen_port"] = cfg.Global.ListenPort
	fields["credentials"] = config.CredentialModes(cfg.Origins)
	fields["dispatch"] = cfg.Global.DispatchMode
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("配置加载完成")

	if err := startHTTPServer(cfg, app, logger); err != nil {
		fmt.Fprintf(stdErr, "HTTP 服务启动失败: %v\n", err)
		return 1
	}
	return 0
}

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径。
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := flag.NewFlagSet("any-asset", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configFlag string
		checkOnly  bool
		showVer    bool
	)

	fs.StringVar(&configFlag, "config", "", "配置文件路径（默认 ./config.toml，可被 ANY_ASSET_CONFIG 覆盖）")
	fs.BoolVar(&checkOnly, "check-config", false, "仅校验配置后退出")
	fs.BoolVar(&showVer, "version", false, "显示版本信息")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}

	path := os.Getenv("ANY_ASSET_CONFIG")
	if configFlag != "" {
		path = configFlag
	}
	if path == "" {
		path = "config.toml"
	}

	return cliOptions{
		configPath:  path,
		checkOnly:   checkOnly,
		showVersion: showVer,
	}, nil
}

// buildApp 遵循“配置 → OriginRegistry → 磁盘缓存/主循环 → Coordinator → Fiber”顺序，
// 所有源站共享同一个磁盘缓存与主执行上下文。
func buildApp(cfg *config.Config, logger *logrus.Logger) (*appBundle, func(), error) {
	registry, err := server.NewOriginRegistry(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("构建 Origin 注册表失败: %w", err)
	}

	store, err := cache.NewStore(cfg.Global.StoragePath)
	if err != nil {
		return nil, nil, fmt.Errorf("初始化缓存目录失败: %w", err)
	}

	var collector *metrics.Collector
	var engineMetrics fetch.Metrics
	if cfg.Global.EnableMetrics {
		collector = metrics.New()
		engineMetrics = collector
	}

	mainLoop := fetch.NewMainLoop(logger)
	err = registry.Bootstrap(cfg, server.Dependencies{
		Store:      store,
		Main:       mainLoop,
		HTTPClient: upstream.NewHTTPClient(cfg),
		Logger:     logger,
		Metrics:    engineMetrics,
	})
	if err != nil {
		registry.Close()
		mainLoop.Close()
		return nil, nil, err
	}
	cleanup := func() {
		registry.Close()
		mainLoop.Close()
	}

	forwarder, err := proxy.NewOriginForwarder(logger, waitTimeout(cfg))
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	app, err := server.NewApp(server.AppOptions{
		Logger:     logger,
		Registry:   registry,
		Proxy:      forwarder,
		ListenPort: cfg.Global.ListenPort,
	})
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	routes.RegisterOriginRoutes(app, registry)
	routes.RegisterCacheRoutes(app, registry)
	if cfg.Global.EnableStubAPI {
		routes.RegisterStubRoutes(app, registry)
	}
	if collector != nil {
		routes.RegisterMetricsRoute(app, collector.Handler())
	}

	return &appBundle{App: app, Registry: registry}, cleanup, nil
}

func startHTTPServer(cfg *config.Config, bundle *appBundle, logger *logrus.Logger) error {
	port := cfg.Global.ListenPort
	logger.WithFields(logrus.Fields{
		"action": "listen",
		"port":   port,
	}).Info("Fiber 服务启动")

	return bundle.App.Listen(fmt.Sprintf(":%d", port))
}
