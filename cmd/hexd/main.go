// Command hexd is the node daemon: it loads a data root's conf.toml,
// opens the local store, and brings up discovery, overlay, file-fetch
// and the local RPC surface as siblings under one cancelable context.
// spec.md §6 places CLI flag parsing itself out of scope for the core,
// so the only input is the data root directory.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"hexnode/internal/config"
	"hexnode/internal/dag"
	"hexnode/internal/discovery"
	"hexnode/internal/filefetch"
	"hexnode/internal/overlay"
	"hexnode/internal/peerid"
	"hexnode/internal/rpc"
	"hexnode/internal/store"
	"hexnode/internal/transport"
)

func main() {
	root := "."
	if len(os.Args) > 1 {
		root = os.Args[1]
	}

	if err := run(root); err != nil {
		slog.Error("hexd exited", "err", err)
		os.Exit(1)
	}
}

func run(root string) error {
	cfg, err := config.Load(filepath.Join(root, "conf.toml"))
	if err != nil {
		return fmt.Errorf("hexd: %w", err)
	}

	st, err := store.Open(filepath.Join(root, "music.db"))
	if err != nil {
		return fmt.Errorf("hexd: open store: %w", err)
	}
	defer st.Close()

	dataDir := filepath.Join(root, "data")
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("hexd: create data dir: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)

	var peerFetch *filefetch.Service
	var peerOverlay *overlay.Overlay

	if cfg.Peer != nil {
		self, err := cfg.PeerID()
		if err != nil {
			return fmt.Errorf("hexd: %w", err)
		}
		networkKey, err := cfg.NetworkKey()
		if err != nil {
			return fmt.Errorf("hexd: %w", err)
		}

		presence := dag.PeerPresence{
			ID:   self,
			Addr: net.JoinHostPort(cfg.Host, strconv.Itoa(int(cfg.Peer.Port))),
		}

		ov := overlay.New(presence, transport.Key(networkKey), st, nil, rate.Limit(5))
		var fetch *filefetch.Service
		fetch = filefetch.New(self, dataDir, ov, func(key dag.TrackKey) bool { return fetch.HasLocal(key) })
		ov.SetOtherHandler(fetch)

		peerOverlay = ov
		peerFetch = fetch

		listenAddr := net.JoinHostPort(cfg.Host, strconv.Itoa(int(cfg.Peer.Port)))
		g.Go(func() error {
			slog.Info("overlay listening", "addr", listenAddr)
			return ov.Listen(ctx, listenAddr)
		})

		for _, contact := range cfg.Peer.Contacts {
			contact := contact
			g.Go(func() error {
				if err := ov.Dial(ctx, contact); err != nil {
					slog.Warn("dial contact failed", "addr", contact, "err", err)
				}
				return nil
			})
		}

		if cfg.Peer.Discover {
			// spec.md §6: discovery runs on UDP on the same port as
			// peer.port, not a separate well-known port.
			discoveryPort := int(cfg.Peer.Port)
			keyDigest := discovery.KeyDigest(networkKey)
			reply, err := discovery.NewReplyServer(discoveryPort, 1, keyDigest, cfg.Peer.Port)
			if err != nil {
				slog.Warn("discovery reply server unavailable", "err", err)
			} else {
				g.Go(func() error {
					<-ctx.Done()
					return reply.Close()
				})
				g.Go(func() error {
					err := reply.Serve()
					if ctx.Err() != nil {
						return nil
					}
					return err
				})
			}

			g.Go(func() error {
				addr, err := discovery.Beacon(discovery.BeaconConfig{
					Port:        discoveryPort,
					Version:     1,
					KeyDigest:   keyDigest,
					ContactPort: cfg.Peer.Port,
				})
				if err != nil {
					slog.Info("discovery beacon found no peer", "err", err)
					return nil
				}
				if err := ov.Dial(ctx, addr.String()); err != nil {
					slog.Warn("dial discovered peer failed", "addr", addr, "err", err)
				}
				return nil
			})
		}
	} else {
		// No peer block: metadata-RPC-only mode. A Store still implements
		// dag.Inspector for locally-authored transitions, but nothing
		// broadcasts them and file-fetch has no peer to ask.
		var fetch *filefetch.Service
		fetch = filefetch.New(peerid.ID{}, dataDir, localOnlySpreader{}, func(key dag.TrackKey) bool { return fetch.HasLocal(key) })
		peerFetch = fetch
	}

	var broadcaster rpc.Broadcaster
	if peerOverlay != nil {
		broadcaster = peerOverlay
	}
	handler := rpc.New(selfOrZero(cfg), st, peerFetch, broadcaster)
	rpcServer := rpc.NewServer(handler)

	rpcAddr := net.JoinHostPort(cfg.Host, strconv.Itoa(int(cfg.Server.Port)))
	g.Go(func() error {
		slog.Info("rpc listening", "addr", rpcAddr)
		return rpcServer.Run(ctx, rpcAddr)
	})

	return g.Wait()
}

// selfOrZero resolves the node's own peer id for RPC-authored transitions,
// falling back to the zero id when no peer block (and thus no identity)
// is configured.
func selfOrZero(cfg config.Config) peerid.ID {
	if cfg.Peer == nil {
		return peerid.ID{}
	}
	id, err := cfg.PeerID()
	if err != nil {
		return peerid.ID{}
	}
	return id
}

// localOnlySpreader is the filefetch.Spreader used in metadata-RPC-only
// mode, where there is no overlay to ask peers through.
type localOnlySpreader struct{}

func (localOnlySpreader) Spread(payload []byte, dest overlay.Destination) {}
func (localOnlySpreader) PeerCount() int                                 { return 0 }
