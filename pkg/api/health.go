package api

import (
	"context"
	"fmt"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName 健康检查的服务名
const ServiceName = "belot.Tracker"

// Health gRPC 健康检查服务
type Health struct {
	srv *grpc.Server
	hs  *health.Server
}

// NewHealth 创建健康检查服务，初始为 NOT_SERVING
func NewHealth() *Health {
	h := &Health{
		srv: grpc.NewServer(),
		hs:  health.NewServer(),
	}
	healthpb.RegisterHealthServer(h.srv, h.hs)
	h.SetServing(false)
	return h
}

// SetServing 设置整体与服务的状态
func (h *Health) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	h.hs.SetServingStatus("", status)
	h.hs.SetServingStatus(ServiceName, status)
}

// Track 按 running 的结果周期更新状态，直到 ctx 结束
func (h *Health) Track(ctx context.Context, running func() bool, every time.Duration) {
	if every <= 0 {
		every = time.Second
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	last := running()
	h.SetServing(last)
	for {
		select {
		case <-ctx.Done():
			h.SetServing(false)
			return
		case <-ticker.C:
			if now := running(); now != last {
				last = now
				h.SetServing(now)
			}
		}
	}
}

// Serve 在 addr 上提供服务直到 ctx 结束
func (h *Health) Serve(ctx context.Context, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("监听 %s 失败: %w", addr, err)
	}
	return h.ServeListener(ctx, lis)
}

// ServeListener 在已有监听上提供服务直到 ctx 结束
func (h *Health) ServeListener(ctx context.Context, lis net.Listener) error {
	go func() {
		<-ctx.Done()
		h.hs.Shutdown()
		h.srv.GracefulStop()
	}()
	if err := h.srv.Serve(lis); err != nil && err != grpc.ErrServerStopped {
		return fmt.Errorf("gRPC 服务异常: %w", err)
	}
	return nil
}
