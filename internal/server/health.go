package server

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// TransportStatus 传输连接状态查询，由 transport.Client 实现
type TransportStatus interface {
	IsConnected() bool
}

// HealthStatus 健康状态
type HealthStatus struct {
	Transport string `json:"transport"`
	Redis     string `json:"redis"`
}

// HealthChecker 健康检查器
type HealthChecker struct {
	transport   TransportStatus
	redisClient *redis.Client
}

// NewHealthChecker 创建健康检查器
// redisClient 可为 nil（快照关闭时）
func NewHealthChecker(transport TransportStatus, redisClient *redis.Client) *HealthChecker {
	return &HealthChecker{
		transport:   transport,
		redisClient: redisClient,
	}
}

// Check 执行健康检查
func (h *HealthChecker) Check(ctx context.Context) *HealthStatus {
	status := &HealthStatus{}

	if h.transport.IsConnected() {
		status.Transport = "connected"
	} else {
		status.Transport = "disconnected"
	}

	if h.redisClient == nil {
		status.Redis = "disabled"
		return status
	}

	redisCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := h.redisClient.Ping(redisCtx).Err(); err == nil {
		status.Redis = "connected"
	} else {
		status.Redis = "disconnected"
	}

	return status
}

// Healthy 传输断开视为不健康，Redis 只影响快照不影响存活
func (s *HealthStatus) Healthy() bool {
	return s.Transport == "connected"
}
