package server

import (
	"context"
	"sync"

	"github.com/npezzotti/go-tweetchat/internal/comment"
	"github.com/npezzotti/go-tweetchat/internal/config"
	"github.com/npezzotti/go-tweetchat/internal/stats"
	"github.com/rs/zerolog"
)

type stopReq struct {
	done chan struct{}
}

// ChatServer owns the live connections and the room registry of the
// realtime gateway.
type ChatServer struct {
	log            zerolog.Logger
	store          comment.Service
	rooms          *RoomRegistry
	stats          stats.StatsProvider
	cfg            config.WebSocketConfig
	clients        map[*Client]struct{}
	clientsLock    sync.Mutex
	registerChan   chan *Client
	deRegisterChan chan *Client
	stop           chan stopReq
	done           chan struct{}
}

func NewChatServer(logger zerolog.Logger, store comment.Service, su stats.StatsProvider, cfg config.WebSocketConfig) (*ChatServer, error) {
	su.RegisterMetric(stats.NumActiveClients)
	su.RegisterMetric(stats.NumActiveRooms)

	return &ChatServer{
		log:            logger,
		store:          store,
		rooms:          NewRoomRegistry(su),
		stats:          su,
		cfg:            withWebSocketDefaults(cfg),
		clients:        make(map[*Client]struct{}),
		registerChan:   make(chan *Client),
		deRegisterChan: make(chan *Client),
		stop:           make(chan stopReq),
		done:           make(chan struct{}),
	}, nil
}

func withWebSocketDefaults(cfg config.WebSocketConfig) config.WebSocketConfig {
	if cfg.PongWait <= 0 {
		cfg.PongWait = pongWait
	}
	if cfg.PingInterval <= 0 || cfg.PingInterval >= cfg.PongWait {
		cfg.PingInterval = (cfg.PongWait * 9) / 10
	}
	if cfg.WriteWait <= 0 {
		cfg.WriteWait = writeWait
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = maxMessageSize
	}
	if cfg.SendRate <= 0 {
		cfg.SendRate = sendRate
	}
	if cfg.SendBurst <= 0 {
		cfg.SendBurst = sendBurst
	}
	return cfg
}

func (cs *ChatServer) Run() {
	defer close(cs.done)

	for {
		select {
		case client := <-cs.registerChan:
			cs.addClient(client)
		case client := <-cs.deRegisterChan:
			cs.removeClient(client)
		case req := <-cs.stop:
			cs.log.Info().Msg("closing client connections")
			cs.clientsLock.Lock()
			for c := range cs.clients {
				c.stopClient()
			}
			cs.clientsLock.Unlock()

			close(req.done)
			return
		}
	}
}

// RegisterClient tracks c and starts its read and write loops.
func (cs *ChatServer) RegisterClient(c *Client) {
	select {
	case cs.registerChan <- c:
	case <-cs.done:
		c.stopClient()
	}

	go c.Write()
	go c.Read()
}

func (cs *ChatServer) deregister(c *Client) {
	select {
	case cs.deRegisterChan <- c:
	case <-cs.done:
		cs.removeClient(c)
	}
}

func (cs *ChatServer) addClient(c *Client) {
	cs.clientsLock.Lock()
	defer cs.clientsLock.Unlock()

	if _, ok := cs.clients[c]; ok {
		return
	}
	cs.clients[c] = struct{}{}
	cs.stats.Incr(stats.NumActiveClients)
	c.log.Info().Msg("client connected")
}

func (cs *ChatServer) removeClient(c *Client) {
	cs.clientsLock.Lock()
	defer cs.clientsLock.Unlock()

	if _, ok := cs.clients[c]; !ok {
		return
	}
	delete(cs.clients, c)
	cs.stats.Decr(stats.NumActiveClients)
	c.log.Info().Msg("client disconnected")
}

func (cs *ChatServer) Rooms() *RoomRegistry {
	return cs.rooms
}

func (cs *ChatServer) Shutdown(ctx context.Context) error {
	cs.log.Info().Msg("received shutdown signal")

	req := stopReq{done: make(chan struct{})}
	select {
	case cs.stop <- req:
	case <-cs.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-req.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
