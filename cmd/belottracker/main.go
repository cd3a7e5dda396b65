package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/zoeyai/belottracker/internal/logger"
	"github.com/zoeyai/belottracker/pkg/api"
	"github.com/zoeyai/belottracker/pkg/assets"
	"github.com/zoeyai/belottracker/pkg/card"
	"github.com/zoeyai/belottracker/pkg/config"
	"github.com/zoeyai/belottracker/pkg/engine"
	"github.com/zoeyai/belottracker/pkg/feed"
	"github.com/zoeyai/belottracker/pkg/mapping"
	"github.com/zoeyai/belottracker/pkg/resolver"
	"github.com/zoeyai/belottracker/pkg/session"
	"github.com/zoeyai/belottracker/pkg/store"
	"github.com/zoeyai/belottracker/pkg/tracker"
	"github.com/zoeyai/belottracker/pkg/vision/ocr"
)

// 版本信息 (可通过 ldflags 注入)
var (
	Version   = "1.0.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	var (
		configFile  = flag.String("config", "", "配置文件路径 (默认 ~/.belot-tracker/config.toml)")
		envFile     = flag.String("env", ".env", "环境变量文件")
		pagePath    = flag.String("page", "", "页面快照文件")
		storeDriver = flag.String("store", "", "存储驱动: memory|file|sqlite|postgres|redis")
		storeDSN    = flag.String("dsn", "", "postgres/redis 连接串")
		listen      = flag.String("listen", "", "HTTP 接口监听地址")
		serverURL   = flag.String("server", "", "推送服务端地址 (例: localhost:3001)")
		accessKey   = flag.String("access-key", "", "推送访问密钥")
		secretKey   = flag.String("secret-key", "", "推送秘密密钥")
		logLevel    = flag.String("log-level", "", "日志级别: DEBUG|INFO|WARN|ERROR")
		exportFile  = flag.String("export", "", "导出状态到文件后退出")
		importFile  = flag.String("import", "", "从文件导入状态后退出")
		resolveTok  = flag.String("resolve", "", "解析单个引用后退出")
		recognize   = flag.String("recognize", "", "识别一张牌面图后退出")
		saveConfig  = flag.Bool("save", false, "保存配置到本地")
		showVersion = flag.Bool("version", false, "显示版本信息")
		showHelp    = flag.Bool("help", false, "显示帮助信息")
	)
	flag.Parse()

	if *showVersion {
		printVersion()
		return
	}
	if *showHelp {
		printHelp()
		return
	}

	if err := config.LoadDotEnv(*envFile); err != nil {
		fmt.Printf("[WARN] %v\n", err)
	}

	manager := config.GetDefaultManager()
	if *configFile != "" {
		manager = config.NewManagerWithFile(*configFile)
	}
	cfg, err := manager.Load()
	if err != nil {
		fmt.Printf("[WARN] 加载配置失败: %v\n", err)
	}
	if err := config.ApplyEnv(cfg); err != nil {
		fmt.Printf("[WARN] 环境变量无效: %v\n", err)
	}

	// 命令行参数优先级最高
	if *pagePath != "" {
		cfg.Page.Path = *pagePath
	}
	if *storeDriver != "" {
		cfg.Store.Driver = store.Driver(*storeDriver)
	}
	if *storeDSN != "" {
		cfg.Store.DSN = *storeDSN
	}
	if *listen != "" {
		cfg.API.Listen = *listen
	}
	if *serverURL != "" {
		cfg.Feed.Enabled = true
		cfg.Feed.ServerURL = *serverURL
	}
	if *accessKey != "" {
		cfg.Feed.AccessKey = *accessKey
	}
	if *secretKey != "" {
		cfg.Feed.SecretKey = *secretKey
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}

	if err := cfg.Validate(); err != nil {
		fmt.Printf("[ERROR] 配置无效: %v\n", err)
		os.Exit(1)
	}

	if *saveConfig {
		if err := manager.Save(cfg); err != nil {
			fmt.Printf("[WARN] 保存配置失败: %v\n", err)
		} else {
			fmt.Printf("[INFO] 配置已保存到 %s\n", manager.GetConfigFile())
		}
	}

	if err := logger.Configure(logger.Options{
		Level:   cfg.Log.Level,
		Console: cfg.Log.Console,
		File:    cfg.Log.File,
	}); err != nil {
		fmt.Printf("[WARN] 日志文件不可用: %v\n", err)
	}

	if *recognize != "" {
		os.Exit(runRecognize(*recognize))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	kv, err := store.Open(ctx, cfg.Store)
	if err != nil {
		fmt.Printf("[ERROR] 打开存储失败: %v\n", err)
		os.Exit(1)
	}
	defer kv.Close()

	router := assets.NewRouter(
		assets.WithTimeout(cfg.AssetTimeout()),
		assets.WithRateInterval(cfg.AssetRateInterval()),
		assets.WithUserAgent(cfg.Assets.UserAgent),
	)
	router.File = &assets.FileLoader{Root: cfg.Assets.Root}
	pipe := resolver.New(mapping.New(), router,
		resolver.WithOCR(cfg.OCR.Enabled),
		resolver.WithOCRBudget(cfg.OCR.Budget),
		resolver.WithPolicy(cfg.OCRPolicy()),
		resolver.WithLoadTimeout(cfg.AssetTimeout()),
	)

	var client *feed.Client
	var opts []engine.Option
	if cfg.Feed.Enabled {
		client = feed.NewClient(cfg.FeedClient())
		opts = append(opts, engine.WithPublisher(client))
	}
	eng := engine.New(kv, pipe, opts...)
	if err := eng.Load(ctx); err != nil {
		logger.Warn("加载持久化状态失败: %v", err)
	}

	code := -1
	switch {
	case *exportFile != "":
		code = runExport(eng, *exportFile)
	case *importFile != "":
		code = runImport(eng, *importFile)
	case *resolveTok != "":
		code = runResolve(ctx, eng, *resolveTok)
	}
	if code >= 0 {
		kv.Close()
		stop()
		os.Exit(code)
	}

	page := session.NewFilePage(cfg.Page.Path)
	sess := session.New(page, pipe, eng, session.WithPolicy(cfg.SessionPolicy()))
	eng.Attach(sess)

	fmt.Println("========================================")
	fmt.Printf("  Belot Tracker v%s\n", Version)
	fmt.Println("========================================")
	fmt.Printf("页面快照: %s\n", cfg.Page.Path)
	fmt.Printf("存储: %s\n", cfg.Store.Driver)
	if cfg.API.Enabled {
		fmt.Printf("HTTP 接口: %s\n", cfg.API.Listen)
	}
	fmt.Println()

	var wg sync.WaitGroup
	run := func(name string, fn func() error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("%s 退出: %v", name, err)
			}
		}()
	}

	run("engine", func() error { return eng.Run(ctx) })
	run("session", func() error { return sess.Run(ctx) })
	if cfg.Page.Watch {
		run("page", func() error { return page.Watch(ctx, sess.Trigger) })
	}

	if cfg.API.Enabled {
		srv := api.New(eng)
		run("api", func() error { return srv.Serve(ctx, cfg.API.Listen) })
		if cfg.API.GRPCListen != "" {
			health := api.NewHealth()
			run("health", func() error { return health.Serve(ctx, cfg.API.GRPCListen) })
			run("health-track", func() error {
				health.Track(ctx, sess.Running, 0)
				return nil
			})
		}
	}

	if client != nil {
		client.SetStatusCallback(func(status feed.ClientStatus) {
			logger.Info("[STATUS] %s", status)
		})
		client.SetHandler(eng)
		client.SetSummary(func() *feed.Summary {
			st := eng.Status()
			return &feed.Summary{
				Seen:      len(st.Seen),
				Remaining: st.Remaining.Total,
				MapKeys:   st.MapKeys,
				Running:   st.SessionRunning,
			}
		})
		run("feed", func() error { return client.Run(ctx) })
	}

	fmt.Println("[INFO] 按 Ctrl+C 退出")
	<-ctx.Done()

	fmt.Println()
	fmt.Println("[INFO] 正在退出...")
	wg.Wait()
	fmt.Println("[INFO] 已退出")
}

func runRecognize(path string) int {
	cand, err := ocr.RecognizeImage(path)
	if err != nil {
		fmt.Printf("[ERROR] 识别失败: %v\n", err)
		return 1
	}
	fmt.Printf("牌: %s, 分数: %.3f, 区分度: %.3f\n", cand.Card, cand.Score, cand.Delta)
	if !ocr.DefaultPolicy().Accept(cand.Score, cand.Delta, 1) {
		fmt.Println("[WARN] 单次识别未达到确认阈值")
	}
	return 0
}

func runExport(eng *engine.Engine, path string) int {
	data, err := tracker.MarshalDocument(eng.Export())
	if err != nil {
		fmt.Printf("[ERROR] 导出失败: %v\n", err)
		return 1
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		fmt.Printf("[ERROR] 写入 %s 失败: %v\n", path, err)
		return 1
	}
	fmt.Printf("[INFO] 已导出到 %s\n", path)
	return 0
}

func runImport(eng *engine.Engine, path string) int {
	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Printf("[ERROR] 读取 %s 失败: %v\n", path, err)
		return 1
	}
	if err := eng.Import(data); err != nil {
		fmt.Printf("[ERROR] 导入失败: %v\n", err)
		return 1
	}
	st := eng.Status()
	fmt.Printf("[INFO] 导入完成: 已出现 %d 张, 映射 %d 条\n", len(st.Seen), st.MapKeys)
	return 0
}

func runResolve(ctx context.Context, eng *engine.Engine, tok string) int {
	res := eng.Resolve(ctx, tok)
	out := map[string]any{"token": res.Token, "ok": res.OK}
	if res.OK {
		out["card"] = res.Card.ID()
		out["label"] = res.Card.Label()
		out["source"] = res.Source
		out["key"] = res.Key
	}
	data, _ := json.MarshalIndent(out, "", "  ")
	fmt.Println(string(data))
	if !res.OK {
		return 2
	}
	return 0
}

// printVersion 打印版本信息
func printVersion() {
	fmt.Printf("Belot Tracker v%s\n", Version)
	fmt.Printf("Build Time: %s\n", BuildTime)
	fmt.Printf("Git Commit: %s\n", GitCommit)
	fmt.Printf("Deck: %d 张\n", card.DeckSize)
}

// printHelp 打印帮助信息
func printHelp() {
	fmt.Println("Belot Tracker - 32 张牌记牌器")
	fmt.Println()
	fmt.Println("用法:")
	fmt.Println("  belottracker [选项]")
	fmt.Println()
	fmt.Println("选项:")
	flag.PrintDefaults()
	fmt.Println()
	fmt.Println("示例:")
	fmt.Println("  # 监听页面快照并提供本地接口")
	fmt.Println("  belottracker -page ./page.json")
	fmt.Println()
	fmt.Println("  # 使用 postgres 存储并推送到服务端")
	fmt.Println("  belottracker -store postgres -dsn postgres://u:p@localhost/belot -server localhost:3001 -access-key KEY -secret-key SECRET")
	fmt.Println()
	fmt.Println("  # 备份与恢复")
	fmt.Println("  belottracker -export backup.json")
	fmt.Println("  belottracker -import backup.json")
	fmt.Println()
	fmt.Printf("配置文件位置: %s\n", config.GetDefaultManager().GetConfigFile())
}
