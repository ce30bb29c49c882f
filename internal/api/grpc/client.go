package grpc

import (
	"context"
	"errors"
	"io"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/datagen/datagen/pkg/types"
)

// Client calls the Generator service.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient creates a client on an established connection.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// Generate streams a dataset into w. It returns the response header and the
// number of bytes written.
func (c *Client) Generate(ctx context.Context, req types.GenerateRequest, w io.Writer) (metadata.MD, int64, error) {
	in, err := EncodeRequest(req)
	if err != nil {
		return nil, 0, err
	}

	st, err := c.cc.NewStream(ctx, &ServiceDesc.Streams[0], GenerateMethod)
	if err != nil {
		return nil, 0, err
	}
	if err := st.SendMsg(in); err != nil {
		return nil, 0, err
	}
	if err := st.CloseSend(); err != nil {
		return nil, 0, err
	}

	header, err := st.Header()
	if err != nil {
		return nil, 0, err
	}

	var written int64
	for {
		chunk := new(wrapperspb.BytesValue)
		if err := st.RecvMsg(chunk); err != nil {
			if errors.Is(err, io.EOF) {
				return header, written, nil
			}
			return header, written, err
		}
		n, err := w.Write(chunk.GetValue())
		written += int64(n)
		if err != nil {
			return header, written, err
		}
	}
}
