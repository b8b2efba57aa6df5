package o11y

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	gcodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// GRPCServerOptions 返回 scope s 推荐的 gRPC ServerOption。
// 包含：
// 1. OpenTelemetry StatsHandler (处理 Tracing 和 Metrics)，使用 scope 的 provider
// 2. Unary & Stream Interceptors (处理 Logger 注入、Panic 恢复和访问日志)
//
// 用法:
//
//	srv := grpc.NewServer(o11y.GRPCServerOptions(provider.Scope("contactd.grpc"))...)
func GRPCServerOptions(s *Scope) []grpc.ServerOption {
	registerStandardMetrics(s)

	return []grpc.ServerOption{
		// 1. OTel 官方集成：负责 Context 传播、Span 创建和标准 RPC 指标
		grpc.StatsHandler(otelgrpc.NewServerHandler(
			otelgrpc.WithTracerProvider(s.TracerProvider()),
			otelgrpc.WithMeterProvider(s.MeterProvider()),
		)),

		// 2. 自定义拦截器链
		grpc.ChainUnaryInterceptor(unaryServerInterceptor(s)),
		grpc.ChainStreamInterceptor(streamServerInterceptor(s)),
	}
}

// unaryServerInterceptor 处理单次调用 (Request-Response)
func unaryServerInterceptor(s *Scope) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
		// otelgrpc 已经运行，Context 中已有 Span
		startTime := time.Now()
		ctx = injectLogger(s, ctx, info.FullMethod)
		logger := GetLoggerFromContext(ctx)

		defer func() {
			if r := recover(); r != nil {
				recordRPCPanic(s, ctx, info.FullMethod, r)
				// 返回 Internal 错误给客户端
				err = status.Errorf(gcodes.Internal, "Internal Server Error")
			}
		}()

		resp, err = handler(ctx, req)

		// 只有错误发生时才打印 Error 日志
		duration := time.Since(startTime)
		if err != nil {
			// 忽略客户端取消导致的错误日志，避免刷屏
			if status.Code(err) != gcodes.Canceled {
				logger.Error().Err(err).Dur("dur", duration).Msg("gRPC execution failed")
			}
		} else {
			logger.Debug().Dur("dur", duration).Msg("gRPC execution success")
		}

		return resp, err
	}
}

// streamServerInterceptor 处理流式调用
func streamServerInterceptor(s *Scope) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) (err error) {
		ctx := injectLogger(s, ss.Context(), info.FullMethod)

		// 包装 ServerStream 以便 Handler 能拿到新的 Context
		wrappedStream := &wrappedServerStream{
			ServerStream: ss,
			ctx:          ctx,
		}

		defer func() {
			if r := recover(); r != nil {
				recordRPCPanic(s, ctx, info.FullMethod, r)
				// 将 Panic 转换为 gRPC 错误返回，而不是导致进程崩溃
				err = status.Errorf(gcodes.Internal, "Internal Server Error: %v", r)
			}
		}()

		return handler(srv, wrappedStream)
	}
}

// recordRPCPanic logs the filtered stack, marks the span as errored and counts the panic.
func recordRPCPanic(s *Scope, ctx context.Context, method string, r any) {
	stack := FilterStackTrace(string(debug.Stack()), DefaultLogIgnore)
	GetLoggerFromContext(ctx).Error().
		Interface("error", r).
		Str("stack", stack).
		Msg("gRPC server panic recovered")

	span := trace.SpanFromContext(ctx)
	err := fmt.Errorf("panic: %v", r)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())

	s.Metrics.AddToInt64Counter(ctx, MetricRPCPanics, 1, attribute.String("rpc.method", method))
}

// injectLogger 将 TraceID 注入 scope 的 Logger 并放入 Context
func injectLogger(s *Scope, ctx context.Context, method string) context.Context {
	lc := s.Logger.With().Str("rpc_method", method)

	// 如果有 Trace，注入 trace_id 和 span_id
	if sc := trace.SpanFromContext(ctx).SpanContext(); sc.IsValid() {
		lc = lc.Str(FieldTraceID, sc.TraceID().String()).
			Str(FieldSpanID, sc.SpanID().String()).
			Str(FieldTraceFlags, sc.TraceFlags().String())
	}

	l := lc.Logger()
	return l.WithContext(ctx)
}

// wrappedServerStream 用于在 Stream 拦截器中传递修改后的 Context
type wrappedServerStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (w *wrappedServerStream) Context() context.Context {
	return w.ctx
}
