package reasoning

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashureev/shsh-tutor/internal/domain"
	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/protobuf/types/known/structpb"
)

// Service and method served by a remote reasoning backend. Messages are
// google.protobuf.Struct so no generated stubs are needed.
const (
	GRPCServiceName    = "tutor.v1.ReasoningService"
	GRPCGenerateMethod = "/" + GRPCServiceName + "/Generate"
)

var (
	errConnectionShutdown       = errors.New("connection shutdown")
	errConnectionStateUnchanged = errors.New("connection state did not change")
	errNotServing               = errors.New("reasoning service not serving")
)

// GRPCConfig holds configuration for the gRPC backend.
type GRPCConfig struct {
	Address          string
	ConnectTimeout   time.Duration
	KeepaliveTime    time.Duration
	KeepaliveTimeout time.Duration
}

// DefaultGRPCConfig returns default configuration.
func DefaultGRPCConfig() GRPCConfig {
	return GRPCConfig{
		Address:          "localhost:50051",
		ConnectTimeout:   5 * time.Second,
		KeepaliveTime:    2 * time.Minute,
		KeepaliveTimeout: 10 * time.Second,
	}
}

// GRPC calls a remote reasoning service.
type GRPC struct {
	conn   *grpc.ClientConn
	health healthpb.HealthClient
	addr   string
	logger *slog.Logger
}

// NewGRPC connects to the reasoning service at addr and waits until the
// connection is ready so bad endpoints fail at startup.
func NewGRPC(addr string, logger *slog.Logger, opts ...grpc.DialOption) (*GRPC, error) {
	if logger == nil {
		logger = slog.Default()
	}

	cfg := DefaultGRPCConfig()
	if addr != "" {
		cfg.Address = addr
	}

	kacp := keepalive.ClientParameters{
		Time:                cfg.KeepaliveTime,
		Timeout:             cfg.KeepaliveTimeout,
		PermitWithoutStream: false,
	}

	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(kacp),
	}, opts...)

	conn, err := grpc.NewClient(cfg.Address, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create reasoning client for %s: %w", cfg.Address, err)
	}

	connectCtx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()
	if err := waitForReady(connectCtx, conn); err != nil {
		if closeErr := conn.Close(); closeErr != nil {
			logger.Warn("failed to close gRPC connection after readiness failure", "error", closeErr)
		}
		return nil, fmt.Errorf("reasoning service at %s not ready: %w", cfg.Address, err)
	}

	logger.Info("Connected to reasoning service", "address", cfg.Address)

	return &GRPC{
		conn:   conn,
		health: healthpb.NewHealthClient(conn),
		addr:   cfg.Address,
		logger: logger,
	}, nil
}

func waitForReady(ctx context.Context, conn *grpc.ClientConn) error {
	for {
		state := conn.GetState()
		switch state {
		case connectivity.Ready:
			return nil
		case connectivity.Idle:
			conn.Connect()
		case connectivity.Shutdown:
			return errConnectionShutdown
		}

		if !conn.WaitForStateChange(ctx, state) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w from %s", errConnectionStateUnchanged, state)
		}
	}
}

// Close closes the connection.
func (g *GRPC) Close() error {
	if g.conn == nil {
		return nil
	}
	if err := g.conn.Close(); err != nil {
		return fmt.Errorf("close reasoning connection: %w", err)
	}
	return nil
}

// Health runs the standard gRPC health check for the reasoning service.
func (g *GRPC) Health(ctx context.Context) error {
	resp, err := g.health.Check(ctx, &healthpb.HealthCheckRequest{Service: GRPCServiceName})
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("%w: %s", errNotServing, resp.GetStatus())
	}
	return nil
}

// Generate implements Reasoner. The request carries the rendered prompt and
// the raw context; the response must have a string "reply" field.
func (g *GRPC) Generate(ctx context.Context, req Request) (string, error) {
	in, err := EncodeRequest(req)
	if err != nil {
		return "", err
	}

	out := &structpb.Struct{}
	if err := g.conn.Invoke(ctx, GRPCGenerateMethod, in, out); err != nil {
		return "", fmt.Errorf("generate request failed: %w", err)
	}

	reply, ok := out.GetFields()["reply"]
	if !ok {
		return "", fmt.Errorf("generate response has no reply field")
	}
	return checkReply(reply.GetStringValue())
}

// EncodeRequest converts req into the Struct sent to the reasoning service.
func EncodeRequest(req Request) (*structpb.Struct, error) {
	p := BuildPrompt(req)
	bc := req.Context

	history := make([]any, 0, len(p.History))
	for _, m := range p.History {
		history = append(history, map[string]any{"role": m.Role, "content": m.Content})
	}
	mastery := make(map[string]any, len(bc.Profile.TopicMastery))
	for t, m := range bc.Profile.TopicMastery {
		mastery[string(t)] = m
	}
	tools := make([]any, 0, len(bc.ToolResults))
	for _, r := range bc.ToolResults {
		tools = append(tools, map[string]any{
			"tool":    r.Tool,
			"at":      r.At.UTC().Format(time.RFC3339),
			"content": r.Content,
		})
	}

	s, err := structpb.NewStruct(map[string]any{
		"learner_id":      bc.LearnerID,
		"learner_message": p.User,
		"system_prompt":   p.System,
		"history":         history,
		"level":           string(levelOrDefault(bc.Profile.Level)),
		"progress":        bc.Profile.Progress,
		"topic_mastery":   mastery,
		"topics":          topicsAny(bc.Topics),
		"tool_results":    tools,
	})
	if err != nil {
		return nil, fmt.Errorf("encode generate request: %w", err)
	}
	return s, nil
}

func topicsAny(topics []domain.TopicID) []any {
	out := make([]any, len(topics))
	for i, t := range topics {
		out[i] = string(t)
	}
	return out
}
