package service

import (
	"context"
	"errors"
)

var errGatewayUnhealthy = errors.New("gateway health check failed")

type contextKey int

const (
	requesterKey contextKey = iota
	channelKey
)

// 查询来源渠道
const (
	ChannelAPI   = "api"
	ChannelTeams = "teams"
)

// WithRequester 在上下文中记录查询发起人
func WithRequester(ctx context.Context, requester, channel string) context.Context {
	ctx = context.WithValue(ctx, requesterKey, requester)
	return context.WithValue(ctx, channelKey, channel)
}

// RequesterFromContext 获取查询发起人
func RequesterFromContext(ctx context.Context) string {
	v, _ := ctx.Value(requesterKey).(string)
	return v
}

// ChannelFromContext 获取查询渠道
func ChannelFromContext(ctx context.Context) string {
	v, _ := ctx.Value(channelKey).(string)
	return v
}
