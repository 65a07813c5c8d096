// service.go - ConsensusService 클라이언트/서버 정의
// protoc 생성물 대신 손으로 작성한 gRPC 서비스 디스크립터
package consensusv1

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	ConsensusService_BroadcastMessage_FullMethodName = "/consensus.v1.ConsensusService/BroadcastMessage"
	ConsensusService_SendMessage_FullMethodName      = "/consensus.v1.ConsensusService/SendMessage"
	ConsensusService_MessageStream_FullMethodName    = "/consensus.v1.ConsensusService/MessageStream"
	ConsensusService_SyncBlocks_FullMethodName       = "/consensus.v1.ConsensusService/SyncBlocks"
	ConsensusService_GetLatestHeight_FullMethodName  = "/consensus.v1.ConsensusService/GetLatestHeight"
	ConsensusService_GetStatus_FullMethodName        = "/consensus.v1.ConsensusService/GetStatus"
)

// ConsensusServiceClient is the client API for ConsensusService.
type ConsensusServiceClient interface {
	BroadcastMessage(ctx context.Context, in *BroadcastMessageRequest, opts ...grpc.CallOption) (*BroadcastMessageResponse, error)
	SendMessage(ctx context.Context, in *SendMessageRequest, opts ...grpc.CallOption) (*SendMessageResponse, error)
	MessageStream(ctx context.Context, opts ...grpc.CallOption) (ConsensusService_MessageStreamClient, error)
	SyncBlocks(ctx context.Context, in *SyncBlocksRequest, opts ...grpc.CallOption) (*SyncBlocksResponse, error)
	GetLatestHeight(ctx context.Context, in *GetLatestHeightRequest, opts ...grpc.CallOption) (*GetLatestHeightResponse, error)
	GetStatus(ctx context.Context, in *GetStatusRequest, opts ...grpc.CallOption) (*GetStatusResponse, error)
}

type consensusServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewConsensusServiceClient(cc grpc.ClientConnInterface) ConsensusServiceClient {
	return &consensusServiceClient{cc}
}

func (c *consensusServiceClient) BroadcastMessage(ctx context.Context, in *BroadcastMessageRequest, opts ...grpc.CallOption) (*BroadcastMessageResponse, error) {
	out := new(BroadcastMessageResponse)
	err := c.cc.Invoke(ctx, ConsensusService_BroadcastMessage_FullMethodName, in, out, opts...)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *consensusServiceClient) SendMessage(ctx context.Context, in *SendMessageRequest, opts ...grpc.CallOption) (*SendMessageResponse, error) {
	out := new(SendMessageResponse)
	err := c.cc.Invoke(ctx, ConsensusService_SendMessage_FullMethodName, in, out, opts...)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *consensusServiceClient) MessageStream(ctx context.Context, opts ...grpc.CallOption) (ConsensusService_MessageStreamClient, error) {
	stream, err := c.cc.NewStream(ctx, &ConsensusService_ServiceDesc.Streams[0], ConsensusService_MessageStream_FullMethodName, opts...)
	if err != nil {
		return nil, err
	}
	return &consensusServiceMessageStreamClient{stream}, nil
}

type ConsensusService_MessageStreamClient interface {
	Send(*ConsensusMessage) error
	Recv() (*ConsensusMessage, error)
	grpc.ClientStream
}

type consensusServiceMessageStreamClient struct {
	grpc.ClientStream
}

func (x *consensusServiceMessageStreamClient) Send(m *ConsensusMessage) error {
	return x.ClientStream.SendMsg(m)
}

func (x *consensusServiceMessageStreamClient) Recv() (*ConsensusMessage, error) {
	m := new(ConsensusMessage)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (c *consensusServiceClient) SyncBlocks(ctx context.Context, in *SyncBlocksRequest, opts ...grpc.CallOption) (*SyncBlocksResponse, error) {
	out := new(SyncBlocksResponse)
	err := c.cc.Invoke(ctx, ConsensusService_SyncBlocks_FullMethodName, in, out, opts...)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *consensusServiceClient) GetLatestHeight(ctx context.Context, in *GetLatestHeightRequest, opts ...grpc.CallOption) (*GetLatestHeightResponse, error) {
	out := new(GetLatestHeightResponse)
	err := c.cc.Invoke(ctx, ConsensusService_GetLatestHeight_FullMethodName, in, out, opts...)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *consensusServiceClient) GetStatus(ctx context.Context, in *GetStatusRequest, opts ...grpc.CallOption) (*GetStatusResponse, error) {
	out := new(GetStatusResponse)
	err := c.cc.Invoke(ctx, ConsensusService_GetStatus_FullMethodName, in, out, opts...)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ConsensusServiceServer is the server API for ConsensusService.
// All implementations must embed UnimplementedConsensusServiceServer.
type ConsensusServiceServer interface {
	BroadcastMessage(context.Context, *BroadcastMessageRequest) (*BroadcastMessageResponse, error)
	SendMessage(context.Context, *SendMessageRequest) (*SendMessageResponse, error)
	MessageStream(ConsensusService_MessageStreamServer) error
	SyncBlocks(context.Context, *SyncBlocksRequest) (*SyncBlocksResponse, error)
	GetLatestHeight(context.Context, *GetLatestHeightRequest) (*GetLatestHeightResponse, error)
	GetStatus(context.Context, *GetStatusRequest) (*GetStatusResponse, error)
	mustEmbedUnimplementedConsensusServiceServer()
}

// UnimplementedConsensusServiceServer must be embedded to have forward
// compatible implementations.
type UnimplementedConsensusServiceServer struct{}

func (UnimplementedConsensusServiceServer) BroadcastMessage(context.Context, *BroadcastMessageRequest) (*BroadcastMessageResponse, error) {
	return nil, status.Errorf(codes.Unimplemented, "method BroadcastMessage not implemented")
}
func (UnimplementedConsensusServiceServer) SendMessage(context.Context, *SendMessageRequest) (*SendMessageResponse, error) {
	return nil, status.Errorf(codes.Unimplemented, "method SendMessage not implemented")
}
func (UnimplementedConsensusServiceServer) MessageStream(ConsensusService_MessageStreamServer) error {
	return status.Errorf(codes.Unimplemented, "method MessageStream not implemented")
}
func (UnimplementedConsensusServiceServer) SyncBlocks(context.Context, *SyncBlocksRequest) (*SyncBlocksResponse, error) {
	return nil, status.Errorf(codes.Unimplemented, "method SyncBlocks not implemented")
}
func (UnimplementedConsensusServiceServer) GetLatestHeight(context.Context, *GetLatestHeightRequest) (*GetLatestHeightResponse, error) {
	return nil, status.Errorf(codes.Unimplemented, "method GetLatestHeight not implemented")
}
func (UnimplementedConsensusServiceServer) GetStatus(context.Context, *GetStatusRequest) (*GetStatusResponse, error) {
	return nil, status.Errorf(codes.Unimplemented, "method GetStatus not implemented")
}
func (UnimplementedConsensusServiceServer) mustEmbedUnimplementedConsensusServiceServer() {}

// RegisterConsensusServiceServer registers the service implementation
// with the gRPC server.
func RegisterConsensusServiceServer(s grpc.ServiceRegistrar, srv ConsensusServiceServer) {
	s.RegisterService(&ConsensusService_ServiceDesc, srv)
}

func _ConsensusService_BroadcastMessage_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(BroadcastMessageRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ConsensusServiceServer).BroadcastMessage(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: ConsensusService_BroadcastMessage_FullMethodName,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ConsensusServiceServer).BroadcastMessage(ctx, req.(*BroadcastMessageRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _ConsensusService_SendMessage_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(SendMessageRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ConsensusServiceServer).SendMessage(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: ConsensusService_SendMessage_FullMethodName,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ConsensusServiceServer).SendMessage(ctx, req.(*SendMessageRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _ConsensusService_MessageStream_Handler(srv interface{}, stream grpc.ServerStream) error {
	return srv.(ConsensusServiceServer).MessageStream(&consensusServiceMessageStreamServer{stream})
}

type ConsensusService_MessageStreamServer interface {
	Send(*ConsensusMessage) error
	Recv() (*ConsensusMessage, error)
	grpc.ServerStream
}

type consensusServiceMessageStreamServer struct {
	grpc.ServerStream
}

func (x *consensusServiceMessageStreamServer) Send(m *ConsensusMessage) error {
	return x.ServerStream.SendMsg(m)
}

func (x *consensusServiceMessageStreamServer) Recv() (*ConsensusMessage, error) {
	m := new(ConsensusMessage)
	if err := x.ServerStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

func _ConsensusService_SyncBlocks_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(SyncBlocksRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ConsensusServiceServer).SyncBlocks(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: ConsensusService_SyncBlocks_FullMethodName,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ConsensusServiceServer).SyncBlocks(ctx, req.(*SyncBlocksRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _ConsensusService_GetLatestHeight_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(GetLatestHeightRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ConsensusServiceServer).GetLatestHeight(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: ConsensusService_GetLatestHeight_FullMethodName,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ConsensusServiceServer).GetLatestHeight(ctx, req.(*GetLatestHeightRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _ConsensusService_GetStatus_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(GetStatusRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ConsensusServiceServer).GetStatus(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: ConsensusService_GetStatus_FullMethodName,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ConsensusServiceServer).GetStatus(ctx, req.(*GetStatusRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// ConsensusService_ServiceDesc is the grpc.ServiceDesc for ConsensusService.
var ConsensusService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: "consensus.v1.ConsensusService",
	HandlerType: (*ConsensusServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "BroadcastMessage",
			Handler:    _ConsensusService_BroadcastMessage_Handler,
		},
		{
			MethodName: "SendMessage",
			Handler:    _ConsensusService_SendMessage_Handler,
		},
		{
			MethodName: "SyncBlocks",
			Handler:    _ConsensusService_SyncBlocks_Handler,
		},
		{
			MethodName: "GetLatestHeight",
			Handler:    _ConsensusService_GetLatestHeight_Handler,
		},
		{
			MethodName: "GetStatus",
			Handler:    _ConsensusService_GetStatus_Handler,
		},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "MessageStream",
			Handler:       _ConsensusService_MessageStream_Handler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
}
