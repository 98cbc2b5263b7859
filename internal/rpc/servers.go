package rpc

import (
	"context"
	"crypto/subtle"
	"net"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/luciancaetano/kephasmmo"
	"github.com/luciancaetano/kephasmmo/internal/protocol"
	"github.com/luciancaetano/kephasmmo/internal/session"
	"github.com/luciancaetano/kephasmmo/internal/storage"
)

func (h *Handlers) loginServer(conn kephasmmo.Conn, r *protocol.Reader) {
	password := r.Text()
	port := r.Int()
	level := r.Text()
	zone := r.Text()
	h.queue.Enqueue(func(ctx context.Context) {
		if subtle.ConstantTimeCompare([]byte(password), []byte(h.cfg.ServerPassword)) != 1 {
			h.drop(ctx, conn, "wrong server password")
			return
		}
		srv := h.dir.RegisterServer(conn, port, level, zone)

		info, err := h.store.ServerInfo(ctx, srv.Port, srv.Level)
		if err != nil {
			h.logger.Error("load server info", zap.String("level", level), zap.Int("port", port), zap.Error(err))
		}
		objects, err := h.store.PersistentObjects(ctx, srv.Port, srv.Level)
		if err != nil {
			h.logger.Error("load persistent objects", zap.String("level", level), zap.Int("port", port), zap.Error(err))
		}

		w := protocol.NewMessage(kephasmmo.OpLoginServer).
			Text(conn.ID()).
			Text(info).
			Int(len(objects))
		for _, obj := range objects {
			w.Int(obj.ID).Text(obj.Data)
		}
		conn.Send(w.Bytes())
		h.logger.Info("game server logged in",
			zap.String("conn_id", conn.ID()),
			zap.String("level", level),
			zap.String("zone", zone),
			zap.Int("port", port),
			zap.Int("objects", len(objects)))
	})
}

func (h *Handlers) saveServerInfo(conn kephasmmo.Conn, r *protocol.Reader) {
	serialized := r.Text()
	h.withServer(conn, kephasmmo.OpSaveServerInfo, func(ctx context.Context, srv *session.GameServer) {
		if err := h.store.SaveServerInfo(ctx, srv.Port, srv.Level, serialized); err != nil {
			h.logger.Error("save server info", zap.String("level", srv.Level), zap.Int("port", srv.Port), zap.Error(err))
		}
	})
}

// emptyObject reports whether a persistent object payload asks for deletion.
func emptyObject(data string) bool {
	data = strings.TrimSpace(data)
	return data == "" || data == "{}"
}

func (h *Handlers) savePersistentObject(conn kephasmmo.Conn, r *protocol.Reader) {
	objectID := r.Int()
	data := r.Text()
	h.withServer(conn, kephasmmo.OpSavePersistentObject, func(ctx context.Context, srv *session.GameServer) {
		var err error
		if emptyObject(data) {
			err = h.store.DeletePersistentObject(ctx, srv.Port, srv.Level, objectID)
		} else {
			err = h.store.SavePersistentObject(ctx, srv.Port, srv.Level, storage.PersistentObject{ID: objectID, Data: data})
		}
		if err != nil {
			h.logger.Error("persist object", zap.Int("object_id", objectID), zap.String("level", srv.Level), zap.Error(err))
		}
	})
}

func (h *Handlers) getIPAndPort(conn kephasmmo.Conn, r *protocol.Reader) {
	zone := r.Text()
	h.queue.Enqueue(func(context.Context) {
		srv, err := h.dir.GetOrStartServerForZone(zone)
		if err != nil {
			h.logger.Info("no server for zone", zap.String("zone", zone), zap.Error(err))
			conn.Send(protocol.NewMessage(kephasmmo.OpGetIPAndPort).Bool(false).Bytes())
			return
		}
		conn.Send(protocol.NewMessage(kephasmmo.OpGetIPAndPort).Bool(true).Text(h.serverAddress(srv)).Bytes())
	})
}

// serverAddress is the "host:port" clients use to reach srv. The configured public IP wins over
// the address the instance connected from.
func (h *Handlers) serverAddress(srv *session.GameServer) string {
	host := h.cfg.GameServerIP
	if host == "" {
		host = srv.Conn.RemoteAddr()
		if hh, _, err := net.SplitHostPort(host); err == nil {
			host = hh
		}
	}
	return net.JoinHostPort(host, strconv.Itoa(srv.Port))
}

func (h *Handlers) keepAliveProbe(conn kephasmmo.Conn, _ *protocol.Reader) {
	h.queue.Enqueue(func(context.Context) {
		conn.Send(protocol.NewMessage(kephasmmo.OpKeepAliveProbe).Bytes())
	})
}
