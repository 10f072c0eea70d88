package middleware

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

const metadataKeyRequestID = "x-request-id"

type loggerKey struct{}

// WithLogger returns ctx carrying l.
func WithLogger(ctx context.Context, l *zap.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, l)
}

// Logger returns the request logger in ctx, or fallback.
func Logger(ctx context.Context, fallback *zap.Logger) *zap.Logger {
	if l, ok := ctx.Value(loggerKey{}).(*zap.Logger); ok {
		return l
	}
	return fallback
}

// LoggingUnaryInterceptor attaches a request-scoped logger to the context
// and logs each call with its code and latency.
func LoggingUnaryInterceptor(logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		child := logger.With(
			zap.String("request_id", requestIDFromMD(ctx)),
			zap.String("method", info.FullMethod),
		)

		resp, err := handler(WithLogger(ctx, child), req)

		logCompleted(child, "unary call completed", start, err)
		return resp, err
	}
}

// LoggingStreamInterceptor is the stream equivalent of
// LoggingUnaryInterceptor.
func LoggingStreamInterceptor(logger *zap.Logger) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		start := time.Now()
		child := logger.With(
			zap.String("request_id", requestIDFromMD(ss.Context())),
			zap.String("method", info.FullMethod),
		)

		err := handler(srv, WrapStream(ss, WithLogger(ss.Context(), child)))

		logCompleted(child, "stream call completed", start, err)
		return err
	}
}

func logCompleted(l *zap.Logger, msg string, start time.Time, err error) {
	fields := []zap.Field{
		zap.String("code", status.Code(err).String()),
		zap.Duration("latency", time.Since(start)),
	}
	if err != nil {
		l.Warn(msg, append(fields, zap.Error(err))...)
		return
	}
	l.Info(msg, fields...)
}

// WrapStream returns ss with its context replaced by ctx.
func WrapStream(ss grpc.ServerStream, ctx context.Context) grpc.ServerStream {
	return &wrappedStream{ServerStream: ss, ctx: ctx}
}

type wrappedStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (w *wrappedStream) Context() context.Context {
	return w.ctx
}

func requestIDFromMD(ctx context.Context) string {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if vals := md.Get(metadataKeyRequestID); len(vals) > 0 && vals[0] != "" {
			return vals[0]
		}
	}
	return uuid.NewString()
}
