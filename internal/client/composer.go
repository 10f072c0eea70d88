package client

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/BakhodirAbdullayev/orbital/internal/chatlist"
	"github.com/BakhodirAbdullayev/orbital/internal/data"
	"github.com/BakhodirAbdullayev/orbital/internal/rpc"
)

// uploadChunkSize is the payload size of each UploadImage message.
const uploadChunkSize = 32 << 10

// Composer is the write side of a chat view.
type Composer struct {
	api     rpc.ChatServiceClient
	session *Session
}

// Composer returns a Composer acting as the signed-in user.
func (c *Client) Composer() *Composer {
	return &Composer{api: c.api, session: c.Session}
}

// Open returns the chat with other. A chat already in loaded is reused;
// only when none is found does the server create one.
func (c *Composer) Open(ctx context.Context, loaded []*data.Chat, other string) (*data.Chat, error) {
	me := c.session.UID()
	if me == "" {
		return nil, ErrSignedOut
	}
	if chat := chatlist.FindChatWith(loaded, me, other); chat != nil {
		return chat, nil
	}
	resp, err := c.api.CreateChat(ctx, &rpc.CreateChatRequest{PeerID: other})
	if err != nil {
		return nil, err
	}
	return resp.Chat, nil
}

// Send sends content to other. When loaded already holds their chat the
// message is addressed to it; otherwise the server creates the chat along
// with the first message.
func (c *Composer) Send(ctx context.Context, loaded []*data.Chat, other, content string) (*rpc.SendMessageResponse, error) {
	me := c.session.UID()
	if me == "" {
		return nil, ErrSignedOut
	}
	req := &rpc.SendMessageRequest{Content: content}
	if chat := chatlist.FindChatWith(loaded, me, other); chat != nil {
		req.ChatID = chat.ID.Hex()
	} else {
		req.ReceiverID = other
	}
	return c.api.SendMessage(ctx, req)
}

// UploadImage streams r to the server as name and returns where it was
// stored. onProgress, when set, receives the percentage sent so far; size
// is the expected length of r and may be 0 when unknown.
func (c *Client) UploadImage(ctx context.Context, r io.Reader, size int64, name string, onProgress func(percent int)) (*rpc.UploadResult, error) {
	if c.Session.UID() == "" {
		return nil, ErrSignedOut
	}
	stream, err := c.api.UploadImage(ctx)
	if err != nil {
		return nil, err
	}

	report := func(int) {}
	if onProgress != nil {
		last := -1
		report = func(p int) {
			if p != last {
				last = p
				onProgress(p)
			}
		}
	}

	buf := make([]byte, uploadChunkSize)
	var sent int64
	first := true
	for {
		n, rerr := io.ReadFull(r, buf)
		if n > 0 || first {
			chunk := &rpc.UploadChunk{Data: append([]byte(nil), buf[:n]...)}
			if first {
				chunk.Filename, chunk.Size = name, size
				first = false
			}
			if err := stream.Send(chunk); err != nil {
				// the server's status arrives with CloseAndRecv
				if errors.Is(err, io.EOF) {
					break
				}
				return nil, fmt.Errorf("send chunk: %w", err)
			}
			sent += int64(n)
			if size > 0 {
				report(int(min(sent*100/size, 99)))
			}
		}
		if errors.Is(rerr, io.EOF) || errors.Is(rerr, io.ErrUnexpectedEOF) {
			break
		}
		if rerr != nil {
			return nil, fmt.Errorf("read image: %w", rerr)
		}
	}

	res, err := stream.CloseAndRecv()
	if err != nil {
		return nil, err
	}
	report(100)
	return res, nil
}
