package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/flare-foundation/go-flare-common/pkg/logger"
	"github.com/gorilla/mux"
	"github.com/kpioracles/oracle-answerer/internal/database"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type ActiveOracleLister interface {
	ListActiveOracles(ctx context.Context, chainID uint64) ([]database.ActiveOracle, error)
}

type statusAPI struct {
	store  ActiveOracleLister
	chains map[uint64]bool
}

func sendResponse(code int, success bool, msg interface{}, data interface{}, rw http.ResponseWriter) {
	msgStr := "ok"
	if msg != nil {
		msgStr = fmt.Sprint(msg)
	}

	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(code)
	if err := json.NewEncoder(rw).Encode(map[string]interface{}{
		"status":  msgStr,
		"success": success,
		"data":    data,
	}); err != nil {
		logger.Warnf("could not write api response: %v", err)
	}
}

func (a *statusAPI) Health(rw http.ResponseWriter, _ *http.Request) {
	sendResponse(http.StatusOK, true, nil, nil, rw)
}

func (a *statusAPI) ActiveOracles(rw http.ResponseWriter, r *http.Request) {
	chainID, err := strconv.ParseUint(mux.Vars(r)["chainId"], 10, 64)
	if err != nil {
		sendResponse(http.StatusBadRequest, false, "invalid chain id", nil, rw)
		return
	}
	if !a.chains[chainID] {
		sendResponse(http.StatusNotFound, false, "chain not configured", nil, rw)
		return
	}

	oracles, err := a.store.ListActiveOracles(r.Context(), chainID)
	if err != nil {
		logger.Errorf("could not list active oracles of chain %d: %v", chainID, err)
		sendResponse(http.StatusInternalServerError, false, "could not list active oracles", nil, rw)
		return
	}
	if oracles == nil {
		oracles = []database.ActiveOracle{}
	}

	sendResponse(http.StatusOK, true, nil, oracles, rw)
}

// NewRouter serves health, prometheus metrics and the active oracles of the
// configured chains.
func NewRouter(store ActiveOracleLister, chainIDs []uint64) *mux.Router {
	a := &statusAPI{store: store, chains: make(map[uint64]bool, len(chainIDs))}
	for _, id := range chainIDs {
		a.chains[id] = true
	}

	router := mux.NewRouter()
	router.HandleFunc("/health", a.Health).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	router.HandleFunc("/oracles/{chainId}", a.ActiveOracles).Methods(http.MethodGet)

	return router
}

// Serve blocks until ctx is cancelled or the listener fails. Like every
// top-level task it returns a non-nil error in both cases.
func Serve(ctx context.Context, addr string, handler http.Handler) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("api listening on %s", addr)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return errors.Wrap(err, "api server stopped")
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("api shutdown: %v", err)
	}

	return ctx.Err()
}
