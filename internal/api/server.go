package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"DeSmond-Agent/internal/config"
	"DeSmond-Agent/internal/observability/metrics"
	"DeSmond-Agent/internal/storage/mysql"
)

// Server 负责暴露运维 REST 接口，用于查看健康状态与最近的对话轮次。
type Server struct {
	addr          string
	authToken     string
	shutdownGrace time.Duration
	archive       mysql.TurnRepository
}

// NewServer 构造 API 服务实例。
func NewServer(cfg config.ServerConfig, archive mysql.TurnRepository) *Server {
	return &Server{
		addr:          cfg.Address,
		authToken:     cfg.AuthToken,
		shutdownGrace: cfg.ShutdownGrace(),
		archive:       archive,
	}
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/api/v1/turns", s.withAuth(s.handleListTurns))
	mux.Handle("/metrics", metrics.Handler())

	// 配置 HTTP 服务器。
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, mux),
		ReadHeaderTimeout: 5 * time.Second,
	}

	// 启动服务器并监听关闭信号。
	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownGrace)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		metrics.ObserveHTTPRequest("healthz", r.Method, http.StatusMethodNotAllowed, time.Since(start))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	metrics.ObserveHTTPRequest("healthz", r.Method, http.StatusOK, time.Since(start))
}

func (s *Server) handleListTurns(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		metrics.ObserveHTTPRequest("turns", r.Method, http.StatusMethodNotAllowed, time.Since(start))
		return
	}

	if s.archive == nil {
		http.Error(w, "轮次存档未初始化", http.StatusServiceUnavailable)
		metrics.ObserveHTTPRequest("turns", r.Method, http.StatusServiceUnavailable, time.Since(start))
		return
	}

	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	records, err := s.archive.ListLatest(r.Context(), limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		metrics.ObserveHTTPRequest("turns", r.Method, http.StatusInternalServerError, time.Since(start))
		return
	}
	if records == nil {
		records = []mysql.TurnRecord{}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(records)
	metrics.ObserveHTTPRequest("turns", r.Method, http.StatusOK, time.Since(start))
}

// withAuth 校验 Bearer Token，未配置 Token 时直接放行。
func (s *Server) withAuth(handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.authToken != "" {
			header := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || token != s.authToken {
				http.Error(w, "认证失败", http.StatusUnauthorized)
				return
			}
		}
		handler(w, r)
	}
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
