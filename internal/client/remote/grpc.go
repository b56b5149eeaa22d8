package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/dmitrijs2005/ledgersync/internal/common"
	"github.com/dmitrijs2005/ledgersync/internal/logging"
	"github.com/dmitrijs2005/ledgersync/internal/models"
	"github.com/dmitrijs2005/ledgersync/internal/rpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// GRPCReplica talks to the remote authority over gRPC. It authenticates
// lazily with the device credentials and re-authenticates once when the
// server answers Unauthenticated.
type GRPCReplica struct {
	conn     *grpc.ClientConn
	client   *rpc.ReplicaClient
	deviceID string
	apiKey   string
	logger   logging.Logger

	mu    sync.Mutex
	token string
}

func withCredentials(ctx context.Context, token, deviceID string) context.Context {
	md, _ := metadata.FromOutgoingContext(ctx)
	md = md.Copy()
	if md == nil {
		md = metadata.MD{}
	}
	md.Set(common.AccessTokenHeaderName, token)
	md.Set(common.DeviceIDHeaderName, deviceID)
	return metadata.NewOutgoingContext(ctx, md)
}

func publicMethod(method string) bool {
	return method == rpc.MethodAuthenticate || method == rpc.MethodPing
}

func (r *GRPCReplica) accessToken(ctx context.Context) (string, error) {
	r.mu.Lock()
	token := r.token
	r.mu.Unlock()
	if token != "" {
		return token, nil
	}
	return r.authenticate(ctx)
}

// SetDeviceID replaces the device identity and drops the cached token. It is
// used when the device id only becomes known after the local store opens.
func (r *GRPCReplica) SetDeviceID(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.deviceID != id {
		r.deviceID = id
		r.token = ""
	}
}

// dropToken forgets token so the next call authenticates again. A newer
// token obtained concurrently is kept.
func (r *GRPCReplica) dropToken(token string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.token == token {
		r.token = ""
	}
}

func (r *GRPCReplica) device() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.deviceID
}

func (r *GRPCReplica) authenticate(ctx context.Context) (string, error) {
	deviceID := r.device()
	resp, err := r.client.Authenticate(ctx, rpc.Credentials(deviceID, r.apiKey))
	if err != nil {
		return "", err
	}
	r.mu.Lock()
	r.token = resp.GetValue()
	r.mu.Unlock()
	r.logger.Debug(ctx, "authenticated", "device_id", deviceID)
	return resp.GetValue(), nil
}

func (r *GRPCReplica) accessTokenInterceptor(
	ctx context.Context,
	method string,
	req, reply any,
	cc *grpc.ClientConn,
	invoker grpc.UnaryInvoker,
	opts ...grpc.CallOption,
) error {
	if publicMethod(method) {
		return invoker(ctx, method, req, reply, cc, opts...)
	}

	token, err := r.accessToken(ctx)
	if err != nil {
		return err
	}
	err = invoker(withCredentials(ctx, token, r.device()), method, req, reply, cc, opts...)
	if status.Code(err) != codes.Unauthenticated {
		return err
	}

	// token expired or the server rotated its secret
	token, err = r.authenticate(ctx)
	if err != nil {
		return err
	}
	return invoker(withCredentials(ctx, token, r.device()), method, req, reply, cc, opts...)
}

func (r *GRPCReplica) streamTokenInterceptor(
	ctx context.Context,
	desc *grpc.StreamDesc,
	cc *grpc.ClientConn,
	method string,
	streamer grpc.Streamer,
	opts ...grpc.CallOption,
) (grpc.ClientStream, error) {
	token, err := r.accessToken(ctx)
	if err != nil {
		return nil, err
	}
	return streamer(withCredentials(ctx, token, r.device()), desc, cc, method, opts...)
}

// NewGRPCReplica creates a client for target. Extra dial options are appended
// to the defaults (insecure transport plus the auth interceptors).
func NewGRPCReplica(target, deviceID, apiKey string, logger logging.Logger, opts ...grpc.DialOption) (*GRPCReplica, error) {
	r := &GRPCReplica{
		deviceID: deviceID,
		apiKey:   apiKey,
		logger:   logger.With("module", "remote"),
	}
	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithUnaryInterceptor(r.accessTokenInterceptor),
		grpc.WithStreamInterceptor(r.streamTokenInterceptor),
	}, opts...)

	conn, err := grpc.NewClient(target, dialOpts...)
	if err != nil {
		return nil, err
	}
	r.conn = conn
	r.client = rpc.NewReplicaClient(conn)
	return r, nil
}

func (r *GRPCReplica) Close() error {
	return r.conn.Close()
}

func (r *GRPCReplica) Push(ctx context.Context, collection string, m models.Mutation) (PushResult, error) {
	m.Collection = collection
	req, err := rpc.MutationToStruct(m)
	if err != nil {
		return PushResult{}, fmt.Errorf("%w: encode mutation: %w", common.ErrTransportFailure, err)
	}
	resp, err := r.client.Push(ctx, req)
	if err != nil {
		return PushResult{}, mapError(err)
	}
	return PushResult{Applied: resp.GetFields()[rpc.FieldApplied].GetBoolValue()}, nil
}

func (r *GRPCReplica) PullAll(ctx context.Context, collection string) ([]*models.Record, error) {
	resp, err := r.client.PullAll(ctx, wrapperspb.String(collection))
	if err != nil {
		return nil, mapError(err)
	}
	recs, err := rpc.RecordsFromList(resp)
	if err != nil {
		return nil, fmt.Errorf("%w: decode %s: %w", common.ErrTransportFailure, collection, err)
	}
	return recs, nil
}

func (r *GRPCReplica) Subscribe(ctx context.Context, collection string, onChange func(models.Change)) (Subscription, error) {
	ctx, cancel := context.WithCancel(ctx)
	token, err := r.accessToken(ctx)
	if err != nil {
		cancel()
		return nil, mapError(err)
	}
	stream, err := r.client.Subscribe(ctx, rpc.SubscribeRequest(collection))
	if err != nil {
		cancel()
		if status.Code(err) == codes.Unauthenticated {
			r.dropToken(token)
		}
		return nil, mapError(err)
	}

	sub := newSubscription(cancel)
	go func() {
		for {
			msg, err := stream.Recv()
			if err != nil {
				if errors.Is(err, io.EOF) || ctx.Err() != nil {
					sub.finish(nil)
				} else {
					// the server checks the token only when the stream opens
					if status.Code(err) == codes.Unauthenticated {
						r.dropToken(token)
					}
					sub.finish(mapError(err))
				}
				return
			}
			change, err := rpc.ChangeFromStruct(msg)
			if err != nil {
				r.logger.Warn(ctx, "skipping malformed change", "collection", collection, "error", err)
				continue
			}
			onChange(change)
		}
	}()
	return sub, nil
}

func (r *GRPCReplica) Ping(ctx context.Context) error {
	resp, err := r.client.Ping(ctx, &emptypb.Empty{})
	if err != nil {
		return mapError(err)
	}
	if resp.GetValue() != "OK" {
		return fmt.Errorf("%w: %w", common.ErrTransportFailure, ErrUnavailable)
	}
	return nil
}

func mapError(err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return fmt.Errorf("%w: %w", common.ErrTransportFailure, err)
	}
	switch st.Code() {
	case codes.Unauthenticated, codes.PermissionDenied:
		return fmt.Errorf("%w: %w: %s", common.ErrTransportFailure, ErrUnauthorized, st.Message())
	case codes.Unavailable, codes.DeadlineExceeded, codes.Canceled:
		return fmt.Errorf("%w: %w: %s", common.ErrTransportFailure, ErrUnavailable, st.Message())
	case codes.InvalidArgument, codes.FailedPrecondition:
		return fmt.Errorf("%w: %w: %s", common.ErrTransportFailure, ErrRejected, st.Message())
	default:
		return fmt.Errorf("%w: rpc error: %w", common.ErrTransportFailure, err)
	}
}
