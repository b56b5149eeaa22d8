package grpc

import (
	"context"
	"errors"

	"github.com/dmitrijs2005/ledgersync/internal/common"
	"github.com/dmitrijs2005/ledgersync/internal/rpc"
	"github.com/dmitrijs2005/ledgersync/internal/server/services"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

func (s *GRPCServer) Authenticate(ctx context.Context, req *structpb.Struct) (*wrapperspb.StringValue, error) {
	f := req.GetFields()
	deviceID := f[rpc.FieldDeviceID].GetStringValue()

	token, err := s.auth.Authenticate(ctx, deviceID, f[rpc.FieldAPIKey].GetStringValue())
	if err != nil {
		if errors.Is(err, common.ErrorUnauthorized) {
			return nil, status.Error(codes.Unauthenticated, "unauthorized")
		}
		s.logger.Error(ctx, "authenticate failed", "device_id", deviceID, "error", err)
		return nil, status.Error(codes.Internal, "internal error")
	}

	return wrapperspb.String(token), nil
}

func (s *GRPCServer) Ping(ctx context.Context, _ *emptypb.Empty) (*wrapperspb.StringValue, error) {
	return wrapperspb.String("OK"), nil
}

func (s *GRPCServer) Push(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	m, err := rpc.MutationFromStruct(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if deviceID, ok := DeviceFromContext(ctx); ok {
		m.DeviceID = deviceID
	}

	applied, err := s.replicas.Push(ctx, m)
	if err != nil {
		if errors.Is(err, services.ErrInvalidMutation) {
			return nil, status.Error(codes.InvalidArgument, err.Error())
		}
		s.logger.Error(ctx, "push failed", "collection", m.Collection, "id", m.ID, "error", err)
		return nil, status.Error(codes.Internal, "internal error")
	}

	return rpc.PushReply(applied), nil
}

func (s *GRPCServer) PullAll(ctx context.Context, req *wrapperspb.StringValue) (*structpb.ListValue, error) {
	collection := req.GetValue()
	if collection == "" {
		return nil, status.Error(codes.InvalidArgument, "collection required")
	}

	recs, err := s.replicas.PullAll(ctx, collection)
	if err != nil {
		s.logger.Error(ctx, "pull failed", "collection", collection, "error", err)
		return nil, status.Error(codes.Internal, "internal error")
	}

	list, err := rpc.RecordsToList(collection, recs)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return list, nil
}

// Subscribe streams applied changes of one collection until the client
// leaves or the hub drops it for falling behind.
func (s *GRPCServer) Subscribe(req *structpb.Struct, stream rpc.SubscribeServer) error {
	collection := req.GetFields()[rpc.FieldCollection].GetStringValue()
	if collection == "" {
		return status.Error(codes.InvalidArgument, "collection required")
	}

	ctx := stream.Context()
	sub := s.replicas.Subscribe(collection)
	defer s.replicas.Unsubscribe(sub)

	deviceID, _ := DeviceFromContext(ctx)
	s.logger.Debug(ctx, "subscribed", "collection", collection, "device_id", deviceID)

	for {
		select {
		case <-ctx.Done():
			return nil
		case c, ok := <-sub.Changes():
			if !ok {
				if sub.Dropped() {
					return status.Error(codes.Unavailable, "subscriber fell behind")
				}
				return nil
			}
			msg, err := rpc.ChangeToStruct(c)
			if err != nil {
				s.logger.Error(ctx, "encode change", "collection", collection, "error", err)
				continue
			}
			if err := stream.Send(msg); err != nil {
				return err
			}
		}
	}
}
