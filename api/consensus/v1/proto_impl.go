// proto_impl.go - protobuf Message 인터페이스 구현
// gRPC에서 사용하기 위해 proto.Message 인터페이스를 구현
package consensusv1

import (
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"
)

// ================================================================================
//                          ConsensusMessage proto.Message 구현
// ================================================================================

var _ proto.Message = (*ConsensusMessage)(nil)

func (*ConsensusMessage) ProtoMessage() {}

func (x *ConsensusMessage) Reset() {
	*x = ConsensusMessage{}
}

func (x *ConsensusMessage) String() string {
	return fmt.Sprintf("ConsensusMessage{Type:%v, Height:%d, Round:%d}", x.Type, x.Height, x.Round)
}

func (*ConsensusMessage) ProtoReflect() protoreflect.Message {
	return nil // 최소 구현
}

// ================================================================================
//                          BroadcastMessageRequest proto.Message 구현
// ================================================================================

var _ proto.Message = (*BroadcastMessageRequest)(nil)

func (*BroadcastMessageRequest) ProtoMessage() {}

func (x *BroadcastMessageRequest) Reset() {
	*x = BroadcastMessageRequest{}
}

func (x *BroadcastMessageRequest) String() string {
	return "BroadcastMessageRequest"
}

func (*BroadcastMessageRequest) ProtoReflect() protoreflect.Message {
	return nil
}

// ================================================================================
//                          BroadcastMessageResponse proto.Message 구현
// ================================================================================

var _ proto.Message = (*BroadcastMessageResponse)(nil)

func (*BroadcastMessageResponse) ProtoMessage() {}

func (x *BroadcastMessageResponse) Reset() {
	*x = BroadcastMessageResponse{}
}

func (x *BroadcastMessageResponse) String() string {
	return fmt.Sprintf("BroadcastMessageResponse{Success:%v}", x.Success)
}

func (*BroadcastMessageResponse) ProtoReflect() protoreflect.Message {
	return nil
}

// ================================================================================
//                          SendMessageRequest proto.Message 구현
// ================================================================================

var _ proto.Message = (*SendMessageRequest)(nil)

func (*SendMessageRequest) ProtoMessage() {}

func (x *SendMessageRequest) Reset() {
	*x = SendMessageRequest{}
}

func (x *SendMessageRequest) String() string {
	return fmt.Sprintf("SendMessageRequest{Target:%s}", x.TargetNodeId)
}

func (*SendMessageRequest) ProtoReflect() protoreflect.Message {
	return nil
}

// ================================================================================
//                          SendMessageResponse proto.Message 구현
// ================================================================================

var _ proto.Message = (*SendMessageResponse)(nil)

func (*SendMessageResponse) ProtoMessage() {}

func (x *SendMessageResponse) Reset() {
	*x = SendMessageResponse{}
}

func (x *SendMessageResponse) String() string {
	return fmt.Sprintf("SendMessageResponse{Success:%v}", x.Success)
}

func (*SendMessageResponse) ProtoReflect() protoreflect.Message {
	return nil
}

// ================================================================================
//                          SyncBlocksRequest proto.Message 구현
// ================================================================================

var _ proto.Message = (*SyncBlocksRequest)(nil)

func (*SyncBlocksRequest) ProtoMessage() {}

func (x *SyncBlocksRequest) Reset() {
	*x = SyncBlocksRequest{}
}

func (x *SyncBlocksRequest) String() string {
	return fmt.Sprintf("SyncBlocksRequest{From:%d, To:%d}", x.FromHeight, x.ToHeight)
}

func (*SyncBlocksRequest) ProtoReflect() protoreflect.Message {
	return nil
}

// ================================================================================
//                          SyncBlocksResponse proto.Message 구현
// ================================================================================

var _ proto.Message = (*SyncBlocksResponse)(nil)

func (*SyncBlocksResponse) ProtoMessage() {}

func (x *SyncBlocksResponse) Reset() {
	*x = SyncBlocksResponse{}
}

func (x *SyncBlocksResponse) String() string {
	return "SyncBlocksResponse"
}

func (*SyncBlocksResponse) ProtoReflect() protoreflect.Message {
	return nil
}

// ================================================================================
//                          GetLatestHeightRequest proto.Message 구현
// ================================================================================

var _ proto.Message = (*GetLatestHeightRequest)(nil)

func (*GetLatestHeightRequest) ProtoMessage() {}

func (x *GetLatestHeightRequest) Reset() {
	*x = GetLatestHeightRequest{}
}

func (x *GetLatestHeightRequest) String() string {
	return "GetLatestHeightRequest"
}

func (*GetLatestHeightRequest) ProtoReflect() protoreflect.Message {
	return nil
}

// ================================================================================
//                          GetLatestHeightResponse proto.Message 구현
// ================================================================================

var _ proto.Message = (*GetLatestHeightResponse)(nil)

func (*GetLatestHeightResponse) ProtoMessage() {}

func (x *GetLatestHeightResponse) Reset() {
	*x = GetLatestHeightResponse{}
}

func (x *GetLatestHeightResponse) String() string {
	return fmt.Sprintf("GetLatestHeightResponse{Height:%d}", x.Height)
}

func (*GetLatestHeightResponse) ProtoReflect() protoreflect.Message {
	return nil
}

// ================================================================================
//                          GetStatusRequest proto.Message 구현
// ================================================================================

var _ proto.Message = (*GetStatusRequest)(nil)

func (*GetStatusRequest) ProtoMessage() {}

func (x *GetStatusRequest) Reset() {
	*x = GetStatusRequest{}
}

func (x *GetStatusRequest) String() string {
	return "GetStatusRequest"
}

func (*GetStatusRequest) ProtoReflect() protoreflect.Message {
	return nil
}

// ================================================================================
//                          GetStatusResponse proto.Message 구현
// ================================================================================

var _ proto.Message = (*GetStatusResponse)(nil)

func (*GetStatusResponse) ProtoMessage() {}

func (x *GetStatusResponse) Reset() {
	*x = GetStatusResponse{}
}

func (x *GetStatusResponse) String() string {
	return fmt.Sprintf("GetStatusResponse{NodeId:%s}", x.NodeId)
}

func (*GetStatusResponse) ProtoReflect() protoreflect.Message {
	return nil
}

// ================================================================================
//                          Block proto.Message 구현
// ================================================================================

var _ proto.Message = (*Block)(nil)

func (*Block) ProtoMessage() {}

func (x *Block) Reset() {
	*x = Block{}
}

func (x *Block) String() string {
	return fmt.Sprintf("Block{Height:%d}", x.Height)
}

func (*Block) ProtoReflect() protoreflect.Message {
	return nil
}
