package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	xerrors "CoVault/internal/errors"
	"CoVault/internal/observability/metrics"
	"CoVault/internal/orchestrator"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// Server 暴露只读 REST 接口，供操作面板和人类所有者查询编排状态。
// 所有会改变状态的操作都只经由 CLI 触达，不开放 HTTP 写入口。
type Server struct {
	addr string
	orch *orchestrator.Orchestrator
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, orch *orchestrator.Orchestrator) *Server {
	return &Server{addr: addr, orch: orch}
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/api/v1/vaults", s.instrument("vaults", s.handleVaults))
	mux.HandleFunc("/api/v1/proposals", s.instrument("proposals", s.handleProposals))
	mux.HandleFunc("/api/v1/proposals/", s.instrument("proposal", s.handleProposal))
	mux.HandleFunc("/api/v1/pending", s.instrument("pending", s.handlePending))

	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, mux),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) instrument(name string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		requestID := r.Header.Get("X-Request-Id")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", requestID)
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(recorder, r)
		metrics.ObserveHTTPRequest(name, r.Method, recorder.status, time.Since(started))
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) ready(w http.ResponseWriter) bool {
	if s.orch == nil {
		http.Error(w, "编排器未初始化", http.StatusServiceUnavailable)
		return false
	}
	return true
}

func (s *Server) handleVaults(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	if !s.ready(w) {
		return
	}
	vaults, err := s.orch.ListVaults(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(vaults)
}

func (s *Server) handleProposals(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	if !s.ready(w) {
		return
	}
	proposals, err := s.orch.ListProposals(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(proposals)
}

// handleProposal 返回单条提案的本地状态，可选地与协调服务同步。
func (s *Server) handleProposal(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	if !s.ready(w) {
		return
	}
	raw := strings.TrimPrefix(r.URL.Path, "/api/v1/proposals/")
	if len(raw) != 66 || !strings.HasPrefix(raw, "0x") {
		http.Error(w, "提案哈希格式非法", http.StatusBadRequest)
		return
	}
	hash := common.HexToHash(raw)

	sync := false
	if v := r.URL.Query().Get("sync"); v != "" {
		sync, _ = strconv.ParseBool(v)
	}
	if sync {
		report, err := s.orch.CheckProposalStatus(r.Context(), hash)
		if err != nil {
			writeError(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(report)
		return
	}

	proposals, err := s.orch.ListProposals(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	for _, p := range proposals {
		if p.Hash == hash {
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(p)
			return
		}
	}
	http.Error(w, "提案不存在", http.StatusNotFound)
}

func (s *Server) handlePending(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	if !s.ready(w) {
		return
	}
	pending, err := s.orch.ListPendingTransactions(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(pending)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch xerrors.CodeOf(err) {
	case xerrors.CodeNotFound:
		status = http.StatusNotFound
	case xerrors.CodeInvalidArgument:
		status = http.StatusBadRequest
	case xerrors.CodePrecondition:
		status = http.StatusConflict
	}
	http.Error(w, err.Error(), status)
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			http.Error(w, "服务已关闭", http.StatusServiceUnavailable)
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
