// Package grpc provides the gRPC API of the datagen service.
//
// The Generator service is registered from a hand-written service
// descriptor. Its request is a google.protobuf.Struct holding the same JSON
// document accepted over HTTP and its responses are
// google.protobuf.BytesValue chunks of the encoded dataset.
package grpc

import (
	"context"
	"errors"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	dgerrors "github.com/datagen/datagen/internal/errors"
	"github.com/datagen/datagen/internal/logging"
	"github.com/datagen/datagen/internal/stream"
	"github.com/datagen/datagen/internal/validation"
	"github.com/datagen/datagen/pkg/types"
)

const (
	// ServiceName is the fully qualified gRPC service name.
	ServiceName = "datagen.v1.Generator"

	// GenerateMethod is the full method name of Generate.
	GenerateMethod = "/" + ServiceName + "/Generate"

	// Response header keys carrying the dataset's metadata.
	HeaderContentType        = "x-content-type"
	HeaderContentDisposition = "content-disposition"
	HeaderSessionID          = "x-session-id"
)

// Generator is the server API of the Generator service.
type Generator interface {
	Generate(req *structpb.Struct, stream grpc.ServerStream) error
}

// ServiceDesc describes the Generator service.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*Generator)(nil),
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Generate",
			Handler:       generateHandler,
			ServerStreams: true,
		},
	},
	Metadata: "datagen/v1/generator.proto",
}

func generateHandler(srv any, stream grpc.ServerStream) error {
	req := new(structpb.Struct)
	if err := stream.RecvMsg(req); err != nil {
		return err
	}
	return srv.(Generator).Generate(req, stream)
}

// ServerConfig tunes the Generator server.
type ServerConfig struct {
	// ChannelDepth is the number of chunks buffered between the session and the stream
	ChannelDepth int

	// ChunkSize is the approximate size of each response message in bytes
	ChunkSize int

	// Session carries flush, escaping and observer settings into each session
	Session stream.Options
}

// GeneratorServer implements the Generator service.
type GeneratorServer struct {
	validator *validation.Validator
	synth     stream.Synthesizer
	config    ServerConfig
	logger    *logging.Logger
}

var _ Generator = (*GeneratorServer)(nil)

// NewGeneratorServer creates a new gRPC generator server.
func NewGeneratorServer(validator *validation.Validator, synth stream.Synthesizer, config ServerConfig) *GeneratorServer {
	if config.ChannelDepth <= 0 {
		config.ChannelDepth = 16
	}
	if config.ChunkSize <= 0 {
		config.ChunkSize = 64 * 1024
	}
	logger := logging.NewLogger("GrpcApi")
	if config.Session.Logger == nil {
		config.Session.Logger = logger
	}
	return &GeneratorServer{
		validator: validator,
		synth:     synth,
		config:    config,
		logger:    logger,
	}
}

// Register registers the service with s.
func (s *GeneratorServer) Register(r grpc.ServiceRegistrar) {
	r.RegisterService(&ServiceDesc, s)
}

// Generate streams one dataset. The session writes into a bounded channel
// sink and a second goroutine forwards its chunks, so a client that reads
// slowly suspends synthesis through gRPC flow control.
func (s *GeneratorServer) Generate(in *structpb.Struct, ss grpc.ServerStream) error {
	requestID := extractRequestID(ss.Context())

	req, err := DecodeRequest(in)
	if err != nil {
		return toStatus(err)
	}
	req, err = s.validator.Validate(req)
	if err != nil {
		return toStatus(err)
	}

	g, gctx := errgroup.WithContext(ss.Context())
	sink := stream.NewChannelSink(gctx, s.config.ChannelDepth, s.config.ChunkSize)
	session, err := stream.NewSession(req, s.synth, sink, s.config.Session)
	if err != nil {
		return toStatus(err)
	}

	format, _ := stream.FormatFor(req.FileType)
	header := metadata.Pairs(
		HeaderContentType, format.ContentType,
		HeaderContentDisposition, format.ContentDisposition(),
		HeaderSessionID, session.ID(),
		"x-request-id", requestID,
	)
	if err := ss.SendHeader(header); err != nil {
		return err
	}

	g.Go(func() error {
		return session.Run(gctx)
	})
	g.Go(func() error {
		for {
			chunk, ok, err := sink.Next(gctx)
			if err != nil {
				return err
			}
			if !ok {
				return nil
			}
			if err := ss.SendMsg(wrapperspb.Bytes(chunk)); err != nil {
				return err
			}
		}
	})

	if err := g.Wait(); err != nil {
		stats := session.Stats()
		s.logger.Warnf("generate %s [%s]: stream aborted after %d of %d records: %v",
			session.ID(), requestID, stats.Records, stats.Target, err)
		return toStatus(err)
	}
	return nil
}

// DecodeRequest converts the Struct form of a request into a GenerateRequest.
func DecodeRequest(in *structpb.Struct) (types.GenerateRequest, error) {
	var req types.GenerateRequest
	if in == nil {
		return req, dgerrors.NewValidationError(dgerrors.CodeMalformedRequest, "request is empty")
	}
	raw, err := json.Marshal(in.AsMap())
	if err != nil {
		return req, dgerrors.Wrap(dgerrors.ErrCategoryValidation, dgerrors.CodeMalformedRequest, "invalid request", err)
	}
	if err := json.Unmarshal(raw, &req); err != nil {
		return req, dgerrors.Wrap(dgerrors.ErrCategoryValidation, dgerrors.CodeMalformedRequest,
			"invalid request: "+err.Error(), err)
	}
	return req, nil
}

// EncodeRequest converts a GenerateRequest into its Struct form.
func EncodeRequest(req types.GenerateRequest) (*structpb.Struct, error) {
	raw, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return structpb.NewStruct(m)
}

// toStatus maps an error to a gRPC status error.
func toStatus(err error) error {
	if _, ok := status.FromError(err); ok {
		return err
	}
	switch {
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	}
	switch dgerrors.GetCategory(err) {
	case dgerrors.ErrCategoryValidation:
		return status.Error(codes.InvalidArgument, err.Error())
	case dgerrors.ErrCategorySink:
		return status.Error(codes.Aborted, err.Error())
	}
	return status.Error(codes.Internal, err.Error())
}

// extractRequestID extracts or generates a request ID from the gRPC context.
func extractRequestID(ctx context.Context) string {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if ids := md.Get("x-request-id"); len(ids) > 0 {
			return ids[0]
		}
	}
	return uuid.New().String()
}
