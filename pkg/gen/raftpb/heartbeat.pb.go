package raftpb

import (
	protoreflect "google.golang.org/protobuf/reflect/protoreflect"
	protoimpl "google.golang.org/protobuf/runtime/protoimpl"
	reflect "reflect"
	sync "sync"
	unsafe "unsafe"
)

const (
	_ = protoimpl.EnforceVersion(20 - protoimpl.MinVersion)

	_ = protoimpl.EnforceVersion(protoimpl.MaxVersion - 20)
)

type HeartbeatEntry struct {
	state         protoimpl.MessageState `protogen:"open.v1"`
	Group         uint64                 `protobuf:"varint,1,opt,name=group,proto3" json:"group,omitempty"`
	Term          int64                  `protobuf:"varint,2,opt,name=term,proto3" json:"term,omitempty"`
	CommitIndex   int64                  `protobuf:"varint,3,opt,name=commit_index,json=commitIndex,proto3" json:"commit_index,omitempty"`
	PrevLogIndex  int64                  `protobuf:"varint,4,opt,name=prev_log_index,json=prevLogIndex,proto3" json:"prev_log_index,omitempty"`
	PrevLogTerm   int64                  `protobuf:"varint,5,opt,name=prev_log_term,json=prevLogTerm,proto3" json:"prev_log_term,omitempty"`
	unknownFields protoimpl.UnknownFields
	sizeCache     protoimpl.SizeCache
}

func (x *HeartbeatEntry) Reset() {
	*x = HeartbeatEntry{}
	mi := &file_raftpb_heartbeat_proto_msgTypes[0]
	ms := protoimpl.X.MessageStateOf(protoimpl.Pointer(x))
	ms.StoreMessageInfo(mi)
}

func (x *HeartbeatEntry) String() string {
	return protoimpl.X.MessageStringOf(x)
}

func (*HeartbeatEntry) ProtoMessage() {}

func (x *HeartbeatEntry) ProtoReflect() protoreflect.Message {
	mi := &file_raftpb_heartbeat_proto_msgTypes[0]
	if x != nil {
		ms := protoimpl.X.MessageStateOf(protoimpl.Pointer(x))
		if ms.LoadMessageInfo() == nil {
			ms.StoreMessageInfo(mi)
		}
		return ms
	}
	return mi.MessageOf(x)
}

func (*HeartbeatEntry) Descriptor() ([]byte, []int) {
	return file_raftpb_heartbeat_proto_rawDescGZIP(), []int{0}
}

func (x *HeartbeatEntry) GetGroup() uint64 {
	if x != nil {
		return x.Group
	}
	return 0
}

func (x *HeartbeatEntry) GetTerm() int64 {
	if x != nil {
		return x.Term
	}
	return 0
}

func (x *HeartbeatEntry) GetCommitIndex() int64 {
	if x != nil {
		return x.CommitIndex
	}
	return 0
}

func (x *HeartbeatEntry) GetPrevLogIndex() int64 {
	if x != nil {
		return x.PrevLogIndex
	}
	return 0
}

func (x *HeartbeatEntry) GetPrevLogTerm() int64 {
	if x != nil {
		return x.PrevLogTerm
	}
	return 0
}

type HeartbeatRequest struct {
	state         protoimpl.MessageState `protogen:"open.v1"`
	Source        int32                  `protobuf:"varint,1,opt,name=source,proto3" json:"source,omitempty"`
	Entries       []*HeartbeatEntry      `protobuf:"bytes,2,rep,name=entries,proto3" json:"entries,omitempty"`
	unknownFields protoimpl.UnknownFields
	sizeCache     protoimpl.SizeCache
}

func (x *HeartbeatRequest) Reset() {
	*x = HeartbeatRequest{}
	mi := &file_raftpb_heartbeat_proto_msgTypes[1]
	ms := protoimpl.X.MessageStateOf(protoimpl.Pointer(x))
	ms.StoreMessageInfo(mi)
}

func (x *HeartbeatRequest) String() string {
	return protoimpl.X.MessageStringOf(x)
}

func (*HeartbeatRequest) ProtoMessage() {}

func (x *HeartbeatRequest) ProtoReflect() protoreflect.Message {
	mi := &file_raftpb_heartbeat_proto_msgTypes[1]
	if x != nil {
		ms := protoimpl.X.MessageStateOf(protoimpl.Pointer(x))
		if ms.LoadMessageInfo() == nil {
			ms.StoreMessageInfo(mi)
		}
		return ms
	}
	return mi.MessageOf(x)
}

func (*HeartbeatRequest) Descriptor() ([]byte, []int) {
	return file_raftpb_heartbeat_proto_rawDescGZIP(), []int{1}
}

func (x *HeartbeatRequest) GetSource() int32 {
	if x != nil {
		return x.Source
	}
	return 0
}

func (x *HeartbeatRequest) GetEntries() []*HeartbeatEntry {
	if x != nil {
		return x.Entries
	}
	return nil
}

type HeartbeatEntryReply struct {
	state         protoimpl.MessageState `protogen:"open.v1"`
	Group         uint64                 `protobuf:"varint,1,opt,name=group,proto3" json:"group,omitempty"`
	Success       bool                   `protobuf:"varint,2,opt,name=success,proto3" json:"success,omitempty"`
	Term          int64                  `protobuf:"varint,3,opt,name=term,proto3" json:"term,omitempty"`
	LastLogIndex  int64                  `protobuf:"varint,4,opt,name=last_log_index,json=lastLogIndex,proto3" json:"last_log_index,omitempty"`
	unknownFields protoimpl.UnknownFields
	sizeCache     protoimpl.SizeCache
}

func (x *HeartbeatEntryReply) Reset() {
	*x = HeartbeatEntryReply{}
	mi := &file_raftpb_heartbeat_proto_msgTypes[2]
	ms := protoimpl.X.MessageStateOf(protoimpl.Pointer(x))
	ms.StoreMessageInfo(mi)
}

func (x *HeartbeatEntryReply) String() string {
	return protoimpl.X.MessageStringOf(x)
}

func (*HeartbeatEntryReply) ProtoMessage() {}

func (x *HeartbeatEntryReply) ProtoReflect() protoreflect.Message {
	mi := &file_raftpb_heartbeat_proto_msgTypes[2]
	if x != nil {
		ms := protoimpl.X.MessageStateOf(protoimpl.Pointer(x))
		if ms.LoadMessageInfo() == nil {
			ms.StoreMessageInfo(mi)
		}
		return ms
	}
	return mi.MessageOf(x)
}

func (*HeartbeatEntryReply) Descriptor() ([]byte, []int) {
	return file_raftpb_heartbeat_proto_rawDescGZIP(), []int{2}
}

func (x *HeartbeatEntryReply) GetGroup() uint64 {
	if x != nil {
		return x.Group
	}
	return 0
}

func (x *HeartbeatEntryReply) GetSuccess() bool {
	if x != nil {
		return x.Success
	}
	return false
}

func (x *HeartbeatEntryReply) GetTerm() int64 {
	if x != nil {
		return x.Term
	}
	return 0
}

func (x *HeartbeatEntryReply) GetLastLogIndex() int64 {
	if x != nil {
		return x.LastLogIndex
	}
	return 0
}

type HeartbeatReply struct {
	state         protoimpl.MessageState `protogen:"open.v1"`
	Entries       []*HeartbeatEntryReply `protobuf:"bytes,1,rep,name=entries,proto3" json:"entries,omitempty"`
	unknownFields protoimpl.UnknownFields
	sizeCache     protoimpl.SizeCache
}

func (x *HeartbeatReply) Reset() {
	*x = HeartbeatReply{}
	mi := &file_raftpb_heartbeat_proto_msgTypes[3]
	ms := protoimpl.X.MessageStateOf(protoimpl.Pointer(x))
	ms.StoreMessageInfo(mi)
}

func (x *HeartbeatReply) String() string {
	return protoimpl.X.MessageStringOf(x)
}

func (*HeartbeatReply) ProtoMessage() {}

func (x *HeartbeatReply) ProtoReflect() protoreflect.Message {
	mi := &file_raftpb_heartbeat_proto_msgTypes[3]
	if x != nil {
		ms := protoimpl.X.MessageStateOf(protoimpl.Pointer(x))
		if ms.LoadMessageInfo() == nil {
			ms.StoreMessageInfo(mi)
		}
		return ms
	}
	return mi.MessageOf(x)
}

func (*HeartbeatReply) Descriptor() ([]byte, []int) {
	return file_raftpb_heartbeat_proto_rawDescGZIP(), []int{3}
}

func (x *HeartbeatReply) GetEntries() []*HeartbeatEntryReply {
	if x != nil {
		return x.Entries
	}
	return nil
}

var File_raftpb_heartbeat_proto protoreflect.FileDescriptor

const file_raftpb_heartbeat_proto_rawDesc = "" +
	"\n\x16raftpb/heartbeat.proto\x12\x06raftpb\"\xa7\x01\n\x0eHeartbeatE" +
	"ntry\x12\x14\n\x05group\x18\x01 \x01(\x04R\x05group\x12\x12\n\x04ter" +
	"m\x18\x02 \x01(\x03R\x04term\x12!\n\x0ccommit_index\x18\x03 \x01(" +
	"\x03R\x0bcommitIndex\x12$\n\x0eprev_log_index\x18\x04 \x01(\x03R\x0c" +
	"prevLogIndex\x12\"\n\rprev_log_term\x18\x05 \x01(\x03R\x0bprevLogTer" +
	"m\"\\\n\x10HeartbeatRequest\x12\x16\n\x06source\x18\x01 \x01(\x05R" +
	"\x06source\x120\n\x07entries\x18\x02 \x03(\x0b2\x16.raftpb.Heartbeat" +
	"EntryR\x07entries\"\x7f\n\x13HeartbeatEntryReply\x12\x14\n\x05group" +
	"\x18\x01 \x01(\x04R\x05group\x12\x18\n\x07success\x18\x02 \x01(\x08R" +
	"\x07success\x12\x12\n\x04term\x18\x03 \x01(\x03R\x04term\x12$\n\x0el" +
	"ast_log_index\x18\x04 \x01(\x03R\x0clastLogIndex\"G\n\x0eHeartbeatRe" +
	"ply\x125\n\x07entries\x18\x01 \x03(\x0b2\x1b.raftpb.HeartbeatEntryRe" +
	"plyR\x07entries2N\n\rRaftTransport\x12=\n\tHeartbeat\x12\x18.raftpb." +
	"HeartbeatRequest\x1a\x16.raftpb.HeartbeatReplyB:Z8github.com/novatec" +
	"hflow/streamraft/pkg/gen/raftpb;raftpbb\x06proto3"

var (
	file_raftpb_heartbeat_proto_rawDescOnce sync.Once
	file_raftpb_heartbeat_proto_rawDescData []byte
)

func file_raftpb_heartbeat_proto_rawDescGZIP() []byte {
	file_raftpb_heartbeat_proto_rawDescOnce.Do(func() {
		file_raftpb_heartbeat_proto_rawDescData = protoimpl.X.CompressGZIP(unsafe.Slice(unsafe.StringData(file_raftpb_heartbeat_proto_rawDesc), len(file_raftpb_heartbeat_proto_rawDesc)))
	})
	return file_raftpb_heartbeat_proto_rawDescData
}

var file_raftpb_heartbeat_proto_msgTypes = make([]protoimpl.MessageInfo, 4)
var file_raftpb_heartbeat_proto_goTypes = []any{
	(*HeartbeatEntry)(nil),
	(*HeartbeatRequest)(nil),
	(*HeartbeatEntryReply)(nil),
	(*HeartbeatReply)(nil),
}
var file_raftpb_heartbeat_proto_depIdxs = []int32{
	0,
	2,
	1,
	3,
	3,
	2,
	2,
	2,
	0,
}

func init() { file_raftpb_heartbeat_proto_init() }
func file_raftpb_heartbeat_proto_init() {
	if File_raftpb_heartbeat_proto != nil {
		return
	}
	type x struct{}
	out := protoimpl.TypeBuilder{
		File: protoimpl.DescBuilder{
			GoPackagePath: reflect.TypeOf(x{}).PkgPath(),
			RawDescriptor: unsafe.Slice(unsafe.StringData(file_raftpb_heartbeat_proto_rawDesc), len(file_raftpb_heartbeat_proto_rawDesc)),
			NumEnums:      0,
			NumMessages:   4,
			NumExtensions: 0,
			NumServices:   1,
		},
		GoTypes:           file_raftpb_heartbeat_proto_goTypes,
		DependencyIndexes: file_raftpb_heartbeat_proto_depIdxs,
		MessageInfos:      file_raftpb_heartbeat_proto_msgTypes,
	}.Build()
	File_raftpb_heartbeat_proto = out.File
	file_raftpb_heartbeat_proto_goTypes = nil
	file_raftpb_heartbeat_proto_depIdxs = nil
}
