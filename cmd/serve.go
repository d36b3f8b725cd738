package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/heroics-capital/treasury-recon/internal/history"
	"github.com/heroics-capital/treasury-recon/internal/recon"
	"github.com/heroics-capital/treasury-recon/internal/runlog"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve run history and positions over HTTP",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := initRunLog(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: newRouter(st, history.NewStore(cfg.Paths.HistoryDir)),
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx) //nolint:errcheck
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}
		return nil
	},
}

func newRouter(st runlog.Store, store *history.Store) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet},
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/api/runs", func(w http.ResponseWriter, req *http.Request) {
		limit, _ := strconv.Atoi(req.URL.Query().Get("limit"))
		runs, err := st.ListRuns(req.Context(), limit)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		if runs == nil {
			runs = []runlog.Run{}
		}
		writeJSON(w, http.StatusOK, runs)
	})

	r.Get("/api/runs/{id}", func(w http.ResponseWriter, req *http.Request) {
		id := chi.URLParam(req, "id")
		run, err := st.GetRun(req.Context(), id)
		if err != nil {
			writeError(w, http.StatusNotFound, err)
			return
		}
		tasks, err := st.ListTasks(req.Context(), id)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"run": run, "tasks": tasks})
	})

	r.Get("/api/history/{fundation}/{kind}", func(w http.ResponseWriter, req *http.Request) {
		fundation, err := recon.ParseFundation(chi.URLParam(req, "fundation"))
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		kind, err := recon.ParseKind(chi.URLParam(req, "kind"))
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		start, end, err := queryRange(req)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}

		switch kind {
		case recon.KindCash:
			table, err := store.LoadCash(fundation)
			if err != nil {
				writeError(w, http.StatusInternalServerError, err)
				return
			}
			writeJSON(w, http.StatusOK, sliceOrAll(table, start, end))
		case recon.KindCollateral:
			table, err := store.LoadCollateral(fundation)
			if err != nil {
				writeError(w, http.StatusInternalServerError, err)
				return
			}
			writeJSON(w, http.StatusOK, sliceOrAll(table, start, end))
		}
	})

	return r
}

func queryRange(req *http.Request) (start, end time.Time, err error) {
	startStr, endStr := req.URL.Query().Get("start"), req.URL.Query().Get("end")
	if (startStr == "") != (endStr == "") {
		return start, end, eris.New("start and end must be given together")
	}
	if startStr == "" {
		return start, end, nil
	}
	if start, err = recon.ParseDate(startStr); err != nil {
		return start, end, err
	}
	end, err = recon.ParseDate(endStr)
	return start, end, err
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
