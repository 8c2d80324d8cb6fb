package ws

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/reddyanunay/colab-coding/internal/db"
	"github.com/reddyanunay/colab-coding/internal/metrics"
	"github.com/reddyanunay/colab-coding/internal/protocol"
	"github.com/reddyanunay/colab-coding/internal/room"
)

var (
	ErrCodeTooLong = errors.New("code exceeds maximum length")
	ErrClosed      = errors.New("connection closed")
)

// Conn is one member of a room as the hub sees it. Send queues data for
// delivery and must give up once ctx is done.
type Conn interface {
	Send(ctx context.Context, data []byte) error
	Close() error
}

// RoomFinder resolves a room ID to its persisted row, nil when absent
type RoomFinder interface {
	GetRoom(ctx context.Context, id string) (*db.Room, error)
}

// Saver receives every accepted buffer; it must not block
type Saver interface {
	Save(roomID, code string)
}

type Config struct {
	SendTimeout       time.Duration
	MaxCodeLength     int
	MessagesPerSecond float64
	MessageBurst      int
}

func DefaultConfig() Config {
	return Config{
		SendTimeout:       time.Second,
		MaxCodeLength:     100000,
		MessagesPerSecond: 100,
		MessageBurst:      200,
	}
}

// Hub routes messages between the members of each room. It owns the room
// registry for the lifetime of the server.
type Hub struct {
	rooms  *room.Registry[Conn]
	finder RoomFinder
	saver  Saver
	log    *slog.Logger
	config Config
}

func NewHub(log *slog.Logger, finder RoomFinder, saver Saver, config Config) *Hub {
	def := DefaultConfig()
	if config.SendTimeout <= 0 {
		config.SendTimeout = def.SendTimeout
	}
	if config.MaxCodeLength <= 0 {
		config.MaxCodeLength = def.MaxCodeLength
	}
	if config.MessagesPerSecond <= 0 {
		config.MessagesPerSecond = def.MessagesPerSecond
	}
	if config.MessageBurst <= 0 {
		config.MessageBurst = def.MessageBurst
	}
	return &Hub{
		rooms:  room.NewRegistry[Conn](),
		finder: finder,
		saver:  saver,
		log:    log,
		config: config,
	}
}

// Join adds c to the room. seed is the persisted buffer, used only when the
// room has neither a live nor a retained snapshot. The joiner gets init
// (when a snapshot exists) and its member count before the rest of the room
// hears user_joined.
func (h *Hub) Join(ctx context.Context, roomID string, c Conn, seed string) int {
	joined := h.rooms.Join(roomID, c,
		room.WithSeed(seed),
		room.WithGreeting(func(j room.Joined) {
			if j.HasSnapshot {
				h.send(ctx, c, protocol.Init(j.Snapshot))
			}
			h.send(ctx, c, protocol.UserCount(j.Count))
		}),
	)
	h.updateGauges()
	h.log.Info("ws.join", "room", roomID, "count", joined.Count)

	h.fanOut(ctx, roomID, c, protocol.UserJoined(joined.Count), string(protocol.TypeUserJoined))
	return joined.Count
}

// Leave removes c from the room and tells the remaining members. Leaving a
// room c is not in does nothing.
func (h *Hub) Leave(ctx context.Context, roomID string, c Conn) {
	count, removed := h.rooms.Leave(roomID, c)
	if !removed {
		return
	}
	h.updateGauges()
	h.log.Info("ws.leave", "room", roomID, "count", count)

	if count > 0 {
		h.fanOut(ctx, roomID, c, protocol.UserLeft(count), string(protocol.TypeUserLeft))
	}
}

// Handle routes one inbound frame from a member. The returned error is meant
// for the sender only; nothing is relayed when it is non-nil.
func (h *Hub) Handle(ctx context.Context, roomID string, from Conn, raw []byte) error {
	if !h.rooms.Contains(roomID, from) {
		return nil
	}

	msg, err := protocol.Decode(raw)
	if err != nil {
		metrics.MessagesRejected.Inc()
		return err
	}

	if msg.Type == protocol.TypeCodeUpdate {
		if utf8.RuneCountInString(msg.Code) > h.config.MaxCodeLength {
			metrics.MessagesRejected.Inc()
			return fmt.Errorf("%w (%d characters)", ErrCodeTooLong, h.config.MaxCodeLength)
		}
		if !h.rooms.UpdateSnapshot(roomID, msg.Code) {
			return nil
		}
		h.saver.Save(roomID, msg.Code)
	}

	h.fanOut(ctx, roomID, from, msg.Raw, string(msg.Type))
	return nil
}

func (h *Hub) send(ctx context.Context, c Conn, data []byte) error {
	ctx, cancel := context.WithTimeout(ctx, h.config.SendTimeout)
	defer cancel()
	return c.Send(ctx, data)
}

type delivery struct {
	except Conn
	data   []byte
	kind   string
}

// fanOut delivers data to every member of the room except the sender, one
// recipient at a time. A recipient that cannot take the message within the
// send timeout is dropped from the room and closed, and the remaining
// members get a user_left for it.
func (h *Hub) fanOut(ctx context.Context, roomID string, except Conn, data []byte, kind string) {
	queue := []delivery{{except: except, data: data, kind: kind}}

	for len(queue) > 0 {
		d := queue[0]
		queue = queue[1:]

		for _, m := range h.rooms.MembersExcept(roomID, d.except) {
			if err := h.send(ctx, m, d.data); err != nil {
				metrics.DeliveryFailures.Inc()
				count, removed := h.rooms.Leave(roomID, m)
				_ = m.Close()
				if !removed {
					continue
				}
				h.updateGauges()
				h.log.Warn("ws.drop", "room", roomID, "count", count, "err", err)
				if count > 0 {
					queue = append(queue, delivery{
						except: m,
						data:   protocol.UserLeft(count),
						kind:   string(protocol.TypeUserLeft),
					})
				}
				continue
			}
			metrics.MessagesRelayed.WithLabelValues(d.kind).Inc()
		}
	}
}

// CloseAll closes every live connection
func (h *Hub) CloseAll() {
	for _, c := range h.rooms.All() {
		_ = c.Close()
	}
}

func (h *Hub) updateGauges() {
	metrics.ActiveRooms.Set(float64(h.rooms.RoomCount()))
	metrics.Connections.Set(float64(h.rooms.MemberTotal()))
}

// Snapshot returns the newest accepted buffer of a room, live or retained
// since its last member left. It can be ahead of the stored row, which is
// written in the background.
func (h *Hub) Snapshot(roomID string) (string, bool) {
	return h.rooms.Snapshot(roomID)
}

// Forget drops the buffer retained for a room nobody is in, so a later join
// seeds from the store again
func (h *Hub) Forget(roomID string) {
	h.rooms.Forget(roomID)
}

func (h *Hub) MemberCount(roomID string) int {
	return h.rooms.MemberCount(roomID)
}

func (h *Hub) RoomCount() int {
	return h.rooms.RoomCount()
}

func (h *Hub) ClientCount() int {
	return h.rooms.MemberTotal()
}

// ActiveRooms maps every live room to its member count
func (h *Hub) ActiveRooms() map[string]int {
	return h.rooms.Counts()
}
