package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/ardanlabs/conf/v3"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/cosmochain/cosmochain/internal/chain"
	"github.com/cosmochain/cosmochain/internal/coreerr"
	"github.com/cosmochain/cosmochain/internal/crypto"
	"github.com/cosmochain/cosmochain/internal/logger"
	"github.com/cosmochain/cosmochain/internal/node"
)

// build is the git version of this program. It can be overridden at build
// time with -ldflags "-X main.build=...".
var build = "develop"

func main() {
	log, err := logger.New("NODE")
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(log); err != nil {
		log.Errorw("startup", "ERROR", err)
		log.Sync()
		os.Exit(1)
	}
}

func run(log *zap.SugaredLogger) error {

	// =========================================================================
	// Configuration

	cfg := struct {
		conf.Version
		Web struct {
			ReadTimeout     time.Duration `conf:"default:5s"`
			WriteTimeout    time.Duration `conf:"default:10s"`
			IdleTimeout     time.Duration `conf:"default:120s"`
			ShutdownTimeout time.Duration `conf:"default:20s"`
			ListenPort      int           `conf:"default:1317"`
			P2PPort         int           `conf:"default:6001"`
		}
		Node struct {
			KeyPath    string   `conf:"default:zblock/miner.ecdsa"`
			SnapshotDB string   `conf:"default:zblock/snapshot.json"`
			Peers      []string `conf:"default:"`
		}
	}{
		Version: conf.Version{
			Build: build,
			Desc:  "copyright information here",
		},
	}

	const prefix = "NODE"
	help, err := conf.Parse(prefix, &cfg)
	if err != nil {
		if errors.Is(err, conf.ErrHelpWanted) {
			fmt.Println(help)
			return nil
		}
		return fmt.Errorf("parsing config: %w", err)
	}

	// =========================================================================
	// App Starting

	log.Infow("starting service", "version", build)
	defer log.Infow("shutdown complete")

	out, err := conf.String(&cfg)
	if err != nil {
		return fmt.Errorf("generating config for output: %w", err)
	}
	log.Infow("startup", "config", out)

	// =========================================================================
	// Node Support

	privateKey, err := crypto.LoadPrivateKey(cfg.Node.KeyPath)
	if err != nil {
		return fmt.Errorf("loading miner key from %s: %w", cfg.Node.KeyPath, err)
	}

	ev := func(v string, args ...any) {
		log.Infow(fmt.Sprintf(v, args...))
	}

	p2pAddr := "0.0.0.0:" + strconv.Itoa(cfg.Web.P2PPort)
	listenAddr := "0.0.0.0:" + strconv.Itoa(cfg.Web.ListenPort)

	nd, err := node.New(node.Config{
		SnapshotPath: cfg.Node.SnapshotDB,
		ListenAddr:   p2pAddr,
		MinerKey:     privateKey,
		EvHandler:    ev,
	})
	if err != nil {
		return fmt.Errorf("constructing node: %w", err)
	}

	nd.Start(cfg.Node.Peers)

	// =========================================================================
	// Start Gossip (P2P) Service

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverErrors := make(chan error, 1)

	gossipServer := http.Server{
		Addr:         p2pAddr,
		Handler:      newGossipMux(nd, log),
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		ErrorLog:     zap.NewStdLog(log.Desugar()),
	}

	go func() {
		log.Infow("startup", "status", "gossip server started", "host", gossipServer.Addr)
		serverErrors <- gossipServer.ListenAndServe()
	}()

	// =========================================================================
	// Start API Service

	apiServer := http.Server{
		Addr:         listenAddr,
		Handler:      newAPIMux(nd),
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		ErrorLog:     zap.NewStdLog(log.Desugar()),
	}

	go func() {
		log.Infow("startup", "status", "api server started", "host", apiServer.Addr)
		serverErrors <- apiServer.ListenAndServe()
	}()

	// =========================================================================
	// Shutdown

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)

	case sig := <-shutdown:
		log.Infow("shutdown", "status", "shutdown started", "signal", sig)
		defer log.Infow("shutdown", "status", "shutdown complete", "signal", sig)

		nd.StopMining()

		ctx, cancel := context.WithTimeout(context.Background(), cfg.Web.ShutdownTimeout)
		defer cancel()

		if err := apiServer.Shutdown(ctx); err != nil {
			apiServer.Close()
			return fmt.Errorf("could not stop api service gracefully: %w", err)
		}
		if err := gossipServer.Shutdown(ctx); err != nil {
			gossipServer.Close()
			return fmt.Errorf("could not stop gossip service gracefully: %w", err)
		}
	}

	return nil
}

// newGossipMux serves only the websocket upgrade peers dial into.
func newGossipMux(nd *node.Node, log *zap.SugaredLogger) *http.ServeMux {
	mux := http.NewServeMux()

	upgrader := websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     func(r *http.Request) bool { return true },
	}

	mux.HandleFunc("GET /gossip", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Errorw("gossip upgrade failed", "ERROR", err)
			return
		}
		nd.Hub().Accept(conn, r.RemoteAddr)
	})

	return mux
}

// newAPIMux builds the node's thin external surface: transaction
// submission, mining control, block and transaction queries, and status
// reporting. None of this is on the critical path the core's correctness
// properties are defined over; it exists only so a wallet has something to
// talk to.
func newAPIMux(nd *node.Node) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /tx", func(w http.ResponseWriter, r *http.Request) {
		var tx chain.Transaction
		if err := json.NewDecoder(r.Body).Decode(&tx); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}

		if err := nd.SubmitTransaction(tx); err != nil {
			writeTrustedOrServerError(w, err)
			return
		}

		writeJSON(w, http.StatusAccepted, map[string]string{"tx_id": tx.TxID, "status": "pending"})
	})

	mux.HandleFunc("GET /tx/{id}", func(w http.ResponseWriter, r *http.Request) {
		st := nd.TransactionStatus(r.PathValue("id"))
		if !st.Found {
			writeError(w, http.StatusNotFound, fmt.Errorf("unknown tx_id"))
			return
		}

		status := "confirmed"
		if st.Pending {
			status = "pending"
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"status":        status,
			"block_height":  st.BlockHeight,
			"confirmations": st.Confirmations,
		})
	})

	mux.HandleFunc("GET /balance/{address}", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"address": r.PathValue("address"),
			"balance": nd.Balance(r.PathValue("address")),
		})
	})

	mux.HandleFunc("GET /block/latest", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, nd.Tip())
	})

	mux.HandleFunc("GET /block/height/{height}", func(w http.ResponseWriter, r *http.Request) {
		height, err := strconv.ParseUint(r.PathValue("height"), 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}

		block, ok := nd.BlockAt(height)
		if !ok {
			writeError(w, http.StatusNotFound, fmt.Errorf("no block at height %d", height))
			return
		}
		writeJSON(w, http.StatusOK, block)
	})

	mux.HandleFunc("GET /block/hash/{hash}", func(w http.ResponseWriter, r *http.Request) {
		block, ok := nd.BlockByHash(r.PathValue("hash"))
		if !ok {
			writeError(w, http.StatusNotFound, fmt.Errorf("no block with that hash"))
			return
		}
		writeJSON(w, http.StatusOK, block)
	})

	mux.HandleFunc("POST /mining/start", func(w http.ResponseWriter, r *http.Request) {
		if err := nd.StartMining(); err != nil {
			writeTrustedOrServerError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("POST /mining/stop", func(w http.ResponseWriter, r *http.Request) {
		nd.StopMining()
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("POST /mining/reset_statistics", func(w http.ResponseWriter, r *http.Request) {
		nd.ResetMiningStatistics()
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("POST /mining/config", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Difficulty   *int    `json:"difficulty,omitempty"`
			MiningReward *uint64 `json:"mining_reward,omitempty"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}

		if body.Difficulty != nil {
			if err := nd.SetDifficulty(*body.Difficulty); err != nil {
				writeTrustedOrServerError(w, err)
				return
			}
		}
		if body.MiningReward != nil {
			nd.SetMiningReward(*body.MiningReward)
		}

		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("GET /mining/status", func(w http.ResponseWriter, r *http.Request) {
		status, stats := nd.MiningStatus()

		writeJSON(w, http.StatusOK, map[string]any{
			"is_active":          status.String() == "mining" || status.String() == "starting",
			"current_difficulty": nd.Difficulty(),
			"hash_rate":          stats.HashRate,
			"blocks_mined":       stats.BlocksMined,
			"uptime_ms":          stats.UptimeMs,
			"pending_tx_count":   nd.PendingTxCount(),
		})
	})

	mux.HandleFunc("GET /status", func(w http.ResponseWriter, r *http.Request) {
		height, tip := nd.ChainSnapshot()
		status, stats := nd.MiningStatus()

		writeJSON(w, http.StatusOK, map[string]any{
			"chain_height":  height,
			"tip_hash":      tip,
			"mining_status": status.String(),
			"mining_stats":  stats,
			"peer_count":    nd.Hub().PeerCount(),
		})
	})

	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeTrustedOrServerError(w http.ResponseWriter, err error) {
	if trusted, ok := coreerr.IsTrusted(err); ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error":  trusted.Msg,
			"reason": trusted.Reason.String(),
		})
		return
	}

	writeError(w, http.StatusInternalServerError, err)
}
