package session

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/commanderxa/nexus/internal/metrics"
	"github.com/commanderxa/nexus/internal/protocol"
	"github.com/commanderxa/nexus/internal/registry"
)

// Authenticator is C4's contract as seen by the session loop: decode and
// validate a token, returning the owning user_uuid.
type Authenticator interface {
	Validate(ctx context.Context, token string) (userUUID string, err error)
}

// MessageHandler is C5's contract: handle one Message envelope.
type MessageHandler interface {
	Handle(ctx context.Context, body []byte, connUUID string) error
}

// CallHandler is C6's contract: handle one Call envelope.
type CallHandler interface {
	Handle(ctx context.Context, body []byte, connUUID string) error
}

// FileHandler is C7's contract: handle one File envelope, consuming the
// announced payload directly from r.
type FileHandler interface {
	Handle(ctx context.Context, body []byte, r io.Reader, connUUID string) error
}

// Loop is the per-session cooperative loop (C3): one goroutine per accepted
// TCP connection, multiplexing outbound mailbox delivery against inbound
// command dispatch. Grounded on the teacher's handleClient in client.go.
type Loop struct {
	framer     *Framer
	registry   *registry.Registry
	auth       Authenticator
	messages   MessageHandler
	calls      CallHandler
	files      FileHandler
	collector  metrics.Collector
	log        *zap.Logger
	remoteAddr string
}

// New constructs a session Loop around an already-accepted duplex stream.
func New(framer *Framer, reg *registry.Registry, auth Authenticator, messages MessageHandler, calls CallHandler, files FileHandler, collector metrics.Collector, log *zap.Logger, remoteAddr string) *Loop {
	return &Loop{
		framer:     framer,
		registry:   reg,
		auth:       auth,
		messages:   messages,
		calls:      calls,
		files:      files,
		collector:  collector,
		log:        log,
		remoteAddr: remoteAddr,
	}
}

// invalidJWTLine is the literal response on handshake auth failure
// (spec.md §4.3, §7).
const invalidJWTLine = "Invalid JWT"

// Run executes the full session lifecycle: handshake, main select loop,
// teardown. It returns when the peer disconnects, the framer reports an
// oversize frame, or auth fails — per spec.md §5's cancellation model.
func (l *Loop) Run(ctx context.Context) error {
	l.collector.ConnectionOpened()
	defer l.collector.ConnectionClosed()

	userUUID, connUUID, mailbox, err := l.handshake(ctx)
	if err != nil {
		return err
	}
	defer l.registry.Remove(userUUID, connUUID)

	return l.mainLoop(ctx, userUUID, connUUID, mailbox)
}

func (l *Loop) handshake(ctx context.Context) (userUUID, connUUID string, mailbox chan string, err error) {
	line, err := l.framer.ReadFrame()
	if err != nil {
		return "", "", nil, err
	}

	env, err := protocol.Decode(line)
	if err != nil {
		_ = l.framer.SendFrame([]byte(invalidJWTLine))
		return "", "", nil, protocol.ErrInvalidToken
	}

	userUUID, authErr := l.auth.Validate(ctx, env.Token)
	if authErr != nil {
		_ = l.framer.SendFrame([]byte(invalidJWTLine))
		return "", "", nil, fmt.Errorf("%w: %v", protocol.ErrInvalidToken, authErr)
	}

	connUUID = uuid.NewString()
	mailbox, err = l.registry.Insert(userUUID, connUUID, l.remoteAddr)
	if err != nil {
		return "", "", nil, err
	}

	resp, err := protocol.Encode(protocol.OkResponse(protocol.ConnectionEstablished))
	if err != nil {
		return "", "", nil, err
	}
	if err := l.framer.SendFrame(resp); err != nil {
		l.registry.Remove(userUUID, connUUID)
		return "", "", nil, err
	}

	l.log.Info("session established", zap.String("user", userUUID), zap.String("conn", connUUID))
	return userUUID, connUUID, mailbox, nil
}

type frameResult struct {
	frame []byte
	err   error
}

// mainLoop multiplexes the outbound mailbox and inbound frames. Inbound
// reads are pumped by a helper goroutine that only reads when asked to —
// this guarantees the helper is idle (blocked on the request channel, not
// mid-Read) whenever the File handler needs to read raw bytes directly off
// the same Framer, avoiding a race on the shared reader.
func (l *Loop) mainLoop(ctx context.Context, userUUID, connUUID string, mailbox chan string) error {
	request := make(chan struct{}, 1)
	results := make(chan frameResult)
	go func() {
		for range request {
			frame, err := l.framer.ReadFrame()
			results <- frameResult{frame: frame, err: err}
			if err != nil {
				return
			}
		}
	}()
	defer close(request)
	request <- struct{}{}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case out, ok := <-mailbox:
			if !ok {
				return nil
			}
			if err := l.framer.SendFrame([]byte(out)); err != nil {
				return err
			}

		case res := <-results:
			if res.err != nil {
				if errors.Is(res.err, io.EOF) {
					return nil
				}
				if errors.Is(res.err, protocol.ErrFrameTooLarge) {
					return res.err
				}
				l.log.Warn("inbound frame error", zap.Error(res.err))
				request <- struct{}{}
				continue
			}

			if err := l.dispatch(ctx, res.frame, userUUID, connUUID); err != nil {
				return err
			}
			request <- struct{}{}
		}
	}
}

func (l *Loop) dispatch(ctx context.Context, line []byte, userUUID, connUUID string) error {
	env, err := protocol.Decode(line)
	if err != nil {
		l.log.Warn("malformed envelope, dropping", zap.Error(err))
		return nil
	}

	if _, err := l.auth.Validate(ctx, env.Token); err != nil {
		l.log.Info("token invalidated mid-session, terminating", zap.String("user", userUUID), zap.String("conn", connUUID))
		return fmt.Errorf("%w: %v", protocol.ErrInvalidToken, err)
	}

	switch env.Command {
	case protocol.CommandMessage:
		return l.messages.Handle(ctx, env.Body, connUUID)
	case protocol.CommandCall:
		return l.calls.Handle(ctx, env.Body, connUUID)
	case protocol.CommandFile:
		if err := l.files.Handle(ctx, env.Body, l.framer.Raw(), connUUID); err != nil {
			return fmt.Errorf("%w: %v", protocol.ErrFileIO, err)
		}
		return nil
	default:
		l.log.Warn("unknown command, dropping", zap.Uint8("command", uint8(env.Command)))
		return nil
	}
}
