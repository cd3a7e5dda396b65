// Package api 提供本地 HTTP 控制接口与 gRPC 健康检查
package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/zoeyai/belottracker/internal/logger"
	"github.com/zoeyai/belottracker/pkg/card"
	"github.com/zoeyai/belottracker/pkg/engine"
	"github.com/zoeyai/belottracker/pkg/resolver"
	"github.com/zoeyai/belottracker/pkg/tracker"
)

// maxImportBytes 导入文档的大小上限
const maxImportBytes = 4 << 20

// Controller HTTP 接口依赖的引擎能力
type Controller interface {
	Status() engine.Status
	Tracker() *tracker.Tracker
	Reset()
	SetTrump(s card.Suit)
	Export() tracker.Document
	Import(data []byte) error
	Calibrate(tok string, c card.Card) ([]string, error)
	CalibrateDeck(ctx context.Context, start, end int) (*resolver.DeckReport, int, error)
	ClearMapping()
	Resolve(ctx context.Context, raw string) resolver.Result
}

// Server HTTP 控制接口
type Server struct {
	ctl    Controller
	router *gin.Engine
	log    *logger.Logger
}

// New 创建服务并注册路由
func New(ctl Controller) *Server {
	s := &Server{
		ctl:    ctl,
		router: gin.New(),
		log:    logger.Named("api"),
	}
	s.router.Use(gin.Recovery(), s.requestLog())
	s.routes()
	return s
}

// Handler 实现 http.Handler 的路由
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() {
	r := s.router
	r.GET("/status", s.handleStatus)
	r.GET("/seen", s.handleSeen)
	r.GET("/remaining", s.handleRemaining)
	r.GET("/search", s.handleSearch)
	r.POST("/reset", s.handleReset)
	r.PUT("/trump", s.handleTrump)
	r.GET("/export", s.handleExport)
	r.POST("/import", s.handleImport)
	r.POST("/calibrate", s.handleCalibrate)
	r.POST("/calibrate/deck", s.handleCalibrateDeck)
	r.DELETE("/mapping", s.handleClearMapping)
	r.POST("/resolve", s.handleResolve)
}

// requestLog 请求日志
func (s *Server) requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Debug("%s %s -> %d (%s)", c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start))
	}
}

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.ctl.Status())
}

func (s *Server) handleSeen(c *gin.Context) {
	t := s.ctl.Tracker()
	counts := make(map[string]int)
	for cd, n := range t.Counts() {
		counts[cd.ID()] = n
	}
	c.JSON(http.StatusOK, gin.H{
		"seen":   card.IDs(t.Seen()),
		"sorted": card.IDs(t.Sorted()),
		"counts": counts,
	})
}

func (s *Server) handleRemaining(c *gin.Context) {
	t := s.ctl.Tracker()
	c.JSON(http.StatusOK, gin.H{
		"remaining": t.Remaining(),
		"unseen":    card.IDs(t.Unseen()),
	})
}

func (s *Server) handleSearch(c *gin.Context) {
	q := strings.TrimSpace(c.Query("q"))
	c.JSON(http.StatusOK, gin.H{
		"query": q,
		"cards": card.IDs(s.ctl.Tracker().Search(q)),
	})
}

func (s *Server) handleReset(c *gin.Context) {
	s.ctl.Reset()
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (s *Server) handleTrump(c *gin.Context) {
	var req struct {
		Suit string `json:"suit"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	suit := card.SuitNone
	if strings.TrimSpace(req.Suit) != "" {
		matched, ok := card.MatchSuit(req.Suit)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("无效花色: %q", req.Suit)})
			return
		}
		suit = matched
	}
	s.ctl.SetTrump(suit)
	code := ""
	if suit.Valid() {
		code = suit.Code()
	}
	c.JSON(http.StatusOK, gin.H{"trumpSuit": code})
}

func (s *Server) handleExport(c *gin.Context) {
	doc := s.ctl.Export()
	data, err := tracker.MarshalDocument(doc)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	name := fmt.Sprintf("belot-tracker-%s.json", time.Now().Format("20060102-150405"))
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, name))
	c.Data(http.StatusOK, "application/json; charset=utf-8", data)
}

func (s *Server) handleImport(c *gin.Context) {
	data, err := io.ReadAll(io.LimitReader(c.Request.Body, maxImportBytes+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if len(data) > maxImportBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "导入文档过大"})
		return
	}
	if err := s.ctl.Import(data); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "status": s.ctl.Status()})
}

func (s *Server) handleCalibrate(c *gin.Context) {
	var req struct {
		Token string `json:"token" binding:"required"`
		Card  string `json:"card" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	cd, err := card.Parse(req.Card)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	keys, err := s.ctl.Calibrate(req.Token, cd)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"card": cd.ID(), "keys": keys})
}

func (s *Server) handleCalibrateDeck(c *gin.Context) {
	req := struct {
		Start int `json:"start"`
		End   int `json:"end"`
	}{Start: 1, End: card.DeckSize}
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	report, n, err := s.ctl.CalibrateDeck(c.Request.Context(), req.Start, req.End)
	if err != nil {
		code := http.StatusInternalServerError
		if errors.Is(err, resolver.ErrUnknownAsset) {
			code = http.StatusConflict
		}
		c.JSON(code, gin.H{"error": err.Error()})
		return
	}
	mapped := make(map[int]string, len(report.Mapping))
	for idx, cd := range report.Mapping {
		mapped[idx] = cd.ID()
	}
	c.JSON(http.StatusOK, gin.H{
		"mapping": mapped,
		"failed":  report.Failed,
		"written": n,
	})
}

func (s *Server) handleClearMapping(c *gin.Context) {
	s.ctl.ClearMapping()
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// resolveResponse 未识别时 card 为空串
type resolveResponse struct {
	Token  string          `json:"token"`
	Key    string          `json:"key,omitempty"`
	Card   string          `json:"card"`
	Source resolver.Source `json:"source,omitempty"`
	OK     bool            `json:"ok"`
}

func (s *Server) handleResolve(c *gin.Context) {
	var req struct {
		Token string `json:"token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	res := s.ctl.Resolve(c.Request.Context(), req.Token)
	out := resolveResponse{Token: res.Token, Key: res.Key, Source: res.Source, OK: res.OK}
	if res.OK {
		out.Card = res.Card.ID()
	}
	c.JSON(http.StatusOK, out)
}

// Serve 在 addr 上提供服务直到 ctx 结束
func (s *Server) Serve(ctx context.Context, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("监听 %s 失败: %w", addr, err)
	}
	return s.ServeListener(ctx, lis)
}

// ServeListener 在已有监听上提供服务直到 ctx 结束
func (s *Server) ServeListener(ctx context.Context, lis net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(lis)
	}()
	s.log.Info("HTTP 接口已启动: %s", lis.Addr())

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("关闭 HTTP 服务失败: %w", err)
		}
		return nil
	}
}
