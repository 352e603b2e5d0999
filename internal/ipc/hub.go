// Package ipc implements the IPC Hub: the Unix-domain control socket
// accepting framed request/response messages from local clients (the
// CLI, a dashboard, ad-hoc pokes).
package ipc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"regexp"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/zjrosen/warder/internal/log"
	"github.com/zjrosen/warder/internal/room"
	"github.com/zjrosen/warder/internal/task"
	"github.com/zjrosen/warder/internal/tracing"
	"github.com/zjrosen/warder/internal/werrors"
	"github.com/zjrosen/warder/internal/worker"
)

var workerIDRe = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// Backend is everything the Hub needs from the rest of the supervisor to
// answer a request. internal/supervisor implements it by composing the
// Room Manager, Process Supervisor, Task Coordinator, Message Router, and
// File Sync Engine; tests use a fake.
type Backend interface {
	Status() StatusReport

	RoomCreate(name, template string) (room.Room, error)
	RoomSwitch(name string) error
	RoomDelete(name string) error
	RoomList() []room.Room

	ProcessSpawn(ctx context.Context, id, command, roomName string, args []string, env map[string]string) error
	ProcessKill(id string) error
	ProcessRestart(ctx context.Context, id string) error
	ProcessList() []worker.Snapshot

	TaskEnqueue(req TaskEnqueueRequest) (string, error)
	TaskCancel(id string) error
	TaskList() []task.Snapshot

	ConflictResolve(id, chooseWorker, providedContent string) error

	Shutdown()
}

// Config controls socket placement and per-request timeout.
type Config struct {
	SocketPath     string
	RequestTimeout time.Duration
}

// Hub accepts connections on the control socket and dispatches requests
// to Backend.
type Hub struct {
	cfg      Config
	backend  Backend
	listener net.Listener
	tracer   trace.Tracer
}

// New creates a Hub. The socket is not yet bound; call Serve. tracer may
// be nil, in which case requests are not traced.
func New(cfg Config, backend Backend, tracer trace.Tracer) *Hub {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("noop")
	}
	return &Hub{cfg: cfg, backend: backend, tracer: tracer}
}

// Serve binds the control socket with owner-only permissions and accepts
// connections until ctx is cancelled or Listener.Accept fails. It removes
// any stale socket file at the configured path before binding, and
// removes the socket on clean return.
func (h *Hub) Serve(ctx context.Context) error {
	_ = os.Remove(h.cfg.SocketPath)

	ln, err := net.Listen("unix", h.cfg.SocketPath)
	if err != nil {
		return werrors.Wrap(werrors.KindInternal, werrors.CodeMalformed, "binding control socket", err)
	}
	if err := os.Chmod(h.cfg.SocketPath, 0o600); err != nil {
		_ = ln.Close()
		return werrors.Wrap(werrors.KindInternal, werrors.CodeMalformed, "setting control socket permissions", err)
	}
	h.listener = ln
	defer func() {
		_ = ln.Close()
		_ = os.Remove(h.cfg.SocketPath)
	}()

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	log.Info(log.CatIPC, "control socket listening", "path", h.cfg.SocketPath)

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return werrors.Wrap(werrors.KindInternal, werrors.CodeMalformed, "accept failed", err)
			}
		}
		go h.handleConn(ctx, conn)
	}
}

func (h *Hub) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	for {
		var req Request
		if err := readFrame(conn, &req); err != nil {
			if !errors.Is(err, net.ErrClosed) {
				log.Debug(log.CatIPC, "connection closed", "error", err.Error())
			}
			return
		}

		reqCtx, cancel := context.WithTimeout(ctx, h.cfg.RequestTimeout)
		verb := req.Kind()
		spanCtx, span := tracing.StartRequestSpan(reqCtx, h.tracer, tracing.GenerateSpanID(), verb)
		resp := h.dispatch(spanCtx, req)
		tracing.EndRequestSpan(span, resp.err())
		cancel()

		if err := writeFrame(conn, resp); err != nil {
			log.Warn(log.CatIPC, "failed to write response", "error", err.Error())
			return
		}
	}
}

func (h *Hub) dispatch(ctx context.Context, req Request) Response {
	switch req.Kind() {
	case "Ping":
		return ok(nil)
	case "GetStatus":
		return ok(h.backend.Status())
	case "RoomCreate":
		r, err := h.backend.RoomCreate(req.RoomCreate.Name, req.RoomCreate.Template)
		if err != nil {
			return errResp(err)
		}
		return ok(r)
	case "RoomSwitch":
		if err := h.backend.RoomSwitch(req.RoomSwitch.Name); err != nil {
			return errResp(err)
		}
		return ok(nil)
	case "RoomDelete":
		if err := h.backend.RoomDelete(req.RoomDelete.Name); err != nil {
			return errResp(err)
		}
		return ok(nil)
	case "RoomList":
		return ok(h.backend.RoomList())
	case "ProcessSpawn":
		p := req.ProcessSpawn
		if !workerIDRe.MatchString(p.ID) {
			return errResp(werrors.New(werrors.KindValidation, werrors.CodeWorkerSpawnFailed, fmt.Sprintf("invalid worker id %q", p.ID)))
		}
		if err := h.backend.ProcessSpawn(ctx, p.ID, p.Command, p.Room, p.Args, p.Env); err != nil {
			return errResp(err)
		}
		return ok(nil)
	case "ProcessKill":
		if err := h.backend.ProcessKill(req.ProcessKill.ID); err != nil {
			return errResp(err)
		}
		return ok(nil)
	case "ProcessRestart":
		if err := h.backend.ProcessRestart(ctx, req.ProcessRestart.ID); err != nil {
			return errResp(err)
		}
		return ok(nil)
	case "ProcessList":
		return ok(h.backend.ProcessList())
	case "TaskEnqueue":
		t := *req.TaskEnqueue
		if !t.Priority.Valid() {
			return errResp(werrors.New(werrors.KindValidation, werrors.CodeTaskRejected, fmt.Sprintf("invalid priority %q", t.Priority)))
		}
		id, err := h.backend.TaskEnqueue(t)
		if err != nil {
			return errResp(err)
		}
		return ok(map[string]string{"id": id})
	case "TaskCancel":
		if err := h.backend.TaskCancel(req.TaskCancel.ID); err != nil {
			return errResp(err)
		}
		return ok(nil)
	case "TaskList":
		return ok(h.backend.TaskList())
	case "ConflictResolve":
		c := req.ConflictResolve
		if err := h.backend.ConflictResolve(c.ID, c.ChooseWorker, c.ProvidedContent); err != nil {
			return errResp(err)
		}
		return ok(nil)
	case "Shutdown":
		h.backend.Shutdown()
		return ok(nil)
	default:
		return errResp(werrors.New(werrors.KindValidation, werrors.CodeMalformed, "unrecognized request"))
	}
}

func ok(payload any) Response {
	if payload == nil {
		return Response{Ok: struct{}{}}
	}
	return Response{Ok: payload}
}

func errResp(err error) Response {
	var werr *werrors.Error
	if werrors.As(err, &werr) {
		return Response{Err: &ErrPayload{Code: int(werr.Code), Kind: string(werr.Kind), Message: werr.Error()}}
	}
	return Response{Err: &ErrPayload{Code: int(werrors.CodeMalformed), Kind: string(werrors.KindInternal), Message: err.Error()}}
}
