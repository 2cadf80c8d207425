package xgrpc

import (
	"context"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

// LogValuer is implemented by requests that control how they are logged,
// for example to hide bulky or sensitive fields.
type LogValuer interface {
	AsLogValue() any
}

// AccessLogInterceptor returns a gRPC unary server interceptor that logs
// requests and responses.
//
// The interceptor logs:
// - Debug: method entry with the request
// - Info: successful completion with duration and status
// - Error: failed calls with duration, status and error message
func AccessLogInterceptor(log *zap.SugaredLogger) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (any, error) {
		now := time.Now()

		fields := []any{zap.String("method", info.FullMethod)}
		if service, method, err := ParseFullMethod(info.FullMethod); err == nil {
			fields = []any{zap.String("service", service), zap.String("method", method)}
		}

		if log.Level().Enabled(zap.DebugLevel) {
			log.Debugw("started gRPC execution", append(fields, zap.Any("request", logValue(req)))...)
		}

		resp, err := handler(ctx, req)
		duration := time.Since(now)
		status, _ := status.FromError(err)

		fields = append(fields,
			zap.String("status", status.Code().String()),
			zap.Duration("duration", duration),
		)
		if err != nil {
			log.Errorw("failed to execute gRPC", append(fields, zap.Error(err))...)
		} else {
			log.Infow("completed gRPC execution", fields...)
		}

		return resp, err
	}
}

func logValue(req any) any {
	if v, ok := req.(LogValuer); ok {
		return v.AsLogValue()
	}
	return req
}
