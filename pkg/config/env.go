package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/zoeyai/belottracker/pkg/store"
)

// EnvPrefix 环境变量前缀
const EnvPrefix = "BELOT_"

// LoadDotEnv 加载 .env 文件，已存在的环境变量不会被覆盖；文件不存在时忽略
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("加载 %s 失败: %w", f, err)
		}
	}
	return nil
}

// ApplyEnv 用 BELOT_* 环境变量覆盖配置
func ApplyEnv(cfg *Config) error {
	str := func(name string, dst *string) {
		if v, ok := os.LookupEnv(EnvPrefix + name); ok {
			*dst = strings.TrimSpace(v)
		}
	}
	var errs []error
	boolean := func(name string, dst *bool) {
		v, ok := os.LookupEnv(EnvPrefix + name)
		if !ok {
			return
		}
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s%s 不是合法布尔值: %q", EnvPrefix, name, v))
			return
		}
		*dst = b
	}

	str("LOG_LEVEL", &cfg.Log.Level)
	str("LOG_FILE", &cfg.Log.File)

	str("PAGE_PATH", &cfg.Page.Path)
	boolean("PAGE_WATCH", &cfg.Page.Watch)
	str("ASSETS_ROOT", &cfg.Assets.Root)

	boolean("OCR_ENABLED", &cfg.OCR.Enabled)

	driver := string(cfg.Store.Driver)
	str("STORE_DRIVER", &driver)
	cfg.Store.Driver = store.Driver(driver)
	str("STORE_PATH", &cfg.Store.Path)
	str("STORE_DSN", &cfg.Store.DSN)
	str("STORE_PREFIX", &cfg.Store.Prefix)

	boolean("FEED_ENABLED", &cfg.Feed.Enabled)
	str("FEED_URL", &cfg.Feed.ServerURL)
	str("FEED_ACCESS_KEY", &cfg.Feed.AccessKey)
	str("FEED_SECRET_KEY", &cfg.Feed.SecretKey)

	boolean("API_ENABLED", &cfg.API.Enabled)
	str("API_LISTEN", &cfg.API.Listen)
	str("GRPC_LISTEN", &cfg.API.GRPCListen)

	return errors.Join(errs...)
}
