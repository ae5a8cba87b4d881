package registry

import (
	"maps"
	"time"
)

// Status 实例健康状态
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
)

// Descriptor 注册请求
type Descriptor struct {
	ID             string            `json:"id,omitempty"` // 可选，为空时自动生成
	Name           string            `json:"name"`
	Version        string            `json:"version,omitempty"`
	Host           string            `json:"host"`
	Port           int               `json:"port"`
	Protocol       string            `json:"protocol"` // http | https | grpc
	Weight         int               `json:"weight,omitempty"`
	HealthCheckURL string            `json:"health_check_url,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// ServiceInstance 代表一个服务实例。Discover / Instances 返回的是快照副本。
type ServiceInstance struct {
	ID                  string            `json:"id"`
	Name                string            `json:"name"`
	Version             string            `json:"version,omitempty"`
	Host                string            `json:"host"`
	Port                int               `json:"port"`
	Protocol            string            `json:"protocol"`
	Weight              int               `json:"weight"`
	HealthCheckURL      string            `json:"health_check_url,omitempty"`
	Status              Status            `json:"status"`
	ConsecutiveFailures int               `json:"consecutive_failures"`
	LastHeartbeat       time.Time         `json:"last_heartbeat"`
	RegisteredAt        time.Time         `json:"registered_at"`
	Metadata            map[string]string `json:"metadata,omitempty"`
}

// Healthy 是否可被发现
func (s *ServiceInstance) Healthy() bool {
	return s.Status == StatusHealthy
}

func (s *ServiceInstance) clone() *ServiceInstance {
	c := *s
	c.Metadata = maps.Clone(s.Metadata)
	return &c
}

// HealthStatus 服务级聚合健康状态
type HealthStatus string

const (
	HealthHealthy     HealthStatus = "healthy"
	HealthDegraded    HealthStatus = "degraded"
	HealthUnavailable HealthStatus = "unavailable"
)

// Health 服务级健康汇总
type Health struct {
	Service            string       `json:"service"`
	TotalInstances     int          `json:"total_instances"`
	HealthyInstances   int          `json:"healthy_instances"`
	UnhealthyInstances int          `json:"unhealthy_instances"`
	Status             HealthStatus `json:"status"`
}

// ServiceEvent 服务变化事件
type ServiceEvent struct {
	Type     EventType        `json:"type"`
	Instance *ServiceInstance `json:"instance"`
}

// EventType 事件类型
type EventType string

const (
	EventTypePut    EventType = "PUT"    // 注册或健康状态变化
	EventTypeDelete EventType = "DELETE" // 注销或过期清理
)
