package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/BearBump/ShipBox/config"
	"github.com/BearBump/ShipBox/internal/limits"
	"github.com/BearBump/ShipBox/internal/models"
	"github.com/BearBump/ShipBox/internal/services/consolidation"
	"github.com/BearBump/ShipBox/internal/services/scheduler"
	"github.com/BearBump/ShipBox/internal/storage/pgshipping"
	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
	httpSwagger "github.com/swaggo/http-swagger"
)

type batchRunner interface {
	RunBatch(ctx context.Context, req consolidation.BatchRequest) (*consolidation.Result, error)
}

type shipmentStore interface {
	GetShipmentsByIDs(ctx context.Context, ids []string) ([]*models.Shipment, error)
	DeleteShipment(ctx context.Context, shipmentID string) error
}

type vehicleStore interface {
	GetVehicle(ctx context.Context, id uint64) (*models.Vehicle, error)
}

type rateLimiter interface {
	Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error)
}

type workerHTTPOpts struct {
	httpAddr    string
	swaggerPath string
	onListen    func(httpAddr string)

	scheduler   *scheduler.Scheduler
	batches     batchRunner
	shipments   shipmentStore
	vehicles    vehicleStore
	limiter     rateLimiter
	manualLimit int64
	ready       func(ctx context.Context) error
	cfg         *config.Config
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

type batchResponse struct {
	Shipments       []string                    `json:"shipments"`
	Parcels         int                         `json:"parcels"`
	Unprocessed     []consolidation.Unprocessed `json:"unprocessed"`
	SelfLoop        int                         `json:"selfLoop"`
	AlreadyAssigned int                         `json:"alreadyAssigned"`
	Error           string                      `json:"error,omitempty"`
}

func newBatchResponse(res *consolidation.Result) batchResponse {
	out := batchResponse{Shipments: []string{}, Unprocessed: []consolidation.Unprocessed{}}
	if res == nil {
		return out
	}
	for _, sh := range res.Shipments {
		out.Shipments = append(out.Shipments, sh.ID)
	}
	out.Parcels = res.ParcelCount()
	out.Unprocessed = append(out.Unprocessed, res.Unprocessed...)
	out.SelfLoop = res.SelfLoop
	out.AlreadyAssigned = res.AlreadyAssigned
	return out
}

func newWorkerRouter(opts workerHTTPOpts) http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if opts.ready != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := opts.ready(ctx); err != nil {
				writeError(w, http.StatusServiceUnavailable, err.Error())
				return
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ready"}`))
	})

	r.Get("/stats", func(w http.ResponseWriter, r *http.Request) {
		if opts.scheduler == nil {
			writeError(w, http.StatusOK, "scheduler not wired")
			return
		}
		writeJSON(w, http.StatusOK, opts.scheduler.Stats())
	})

	r.Get("/config", func(w http.ResponseWriter, r *http.Request) {
		if opts.cfg == nil {
			writeError(w, http.StatusOK, "config not wired")
			return
		}
		// Без секретов: только рабочие настройки воркера.
		s := resolveSettings(opts.cfg)
		out := map[string]any{
			"batchIntervalSeconds":   s.batchInterval.Seconds(),
			"assignIntervalSeconds":  s.assignInterval.Seconds(),
			"assignBatchSize":        s.assignBatchSize,
			"assignConcurrency":      s.concurrency,
			"assignLeaseSeconds":     s.lease.Seconds(),
			"batchLockTTLSeconds":    s.lockTTL.Seconds(),
			"maxIDAttempts":          s.maxIDAttempts,
			"manualBatchesPerMinute": s.manualPerMinute,
			"jobs":                   opts.cfg.Jobs,
			"fleetSize":              len(opts.cfg.Fleet),
			"customNetwork":          opts.cfg.Network != nil,
		}
		writeJSON(w, http.StatusOK, out)
	})

	r.Post("/trigger", func(w http.ResponseWriter, r *http.Request) {
		if opts.scheduler == nil {
			writeError(w, http.StatusOK, "scheduler not wired")
			return
		}
		opts.scheduler.Trigger()
		writeJSON(w, http.StatusOK, map[string]bool{"triggered": true})
	})

	r.Post("/batches/{center}/{deliveryType}", func(w http.ResponseWriter, r *http.Request) {
		if opts.batches == nil {
			writeError(w, http.StatusServiceUnavailable, "batches not wired")
			return
		}
		center := chi.URLParam(r, "center")
		dt := models.DeliveryType(chi.URLParam(r, "deliveryType"))

		if opts.limiter != nil && opts.manualLimit > 0 {
			allowed, n, err := opts.limiter.Allow(r.Context(), fmt.Sprintf("manual-batch:%s:%s", center, dt), opts.manualLimit, time.Minute)
			if err != nil {
				slog.Warn("rate limiter unavailable", "error", err.Error())
			} else if !allowed {
				slog.Warn("manual batch throttled", "center", center, "delivery_type", dt, "count", n)
				writeError(w, http.StatusTooManyRequests, "too many manual batches, retry later")
				return
			}
		}

		res, err := opts.batches.RunBatch(r.Context(), consolidation.BatchRequest{
			Center:       center,
			DeliveryType: dt,
			StaffID:      r.URL.Query().Get("staffId"),
		})
		out := newBatchResponse(res)
		switch {
		case err == nil:
			writeJSON(w, http.StatusOK, out)
		case errors.Is(err, consolidation.ErrBatchInProgress):
			writeError(w, http.StatusConflict, err.Error())
		case errors.Is(err, consolidation.ErrUnknownCenter), errors.Is(err, limits.ErrUnknownDeliveryType):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			// Часть отгрузок могла сохраниться до ошибки.
			out.Error = err.Error()
			writeJSON(w, http.StatusInternalServerError, out)
		}
	})

	r.Get("/shipments/{id}", func(w http.ResponseWriter, r *http.Request) {
		if opts.shipments == nil {
			writeError(w, http.StatusServiceUnavailable, "shipments not wired")
			return
		}
		id := chi.URLParam(r, "id")
		items, err := opts.shipments.GetShipmentsByIDs(r.Context(), []string{id})
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if len(items) == 0 {
			writeError(w, http.StatusNotFound, "shipment not found")
			return
		}
		writeJSON(w, http.StatusOK, items[0])
	})

	r.Delete("/shipments/{id}", func(w http.ResponseWriter, r *http.Request) {
		if opts.shipments == nil {
			writeError(w, http.StatusServiceUnavailable, "shipments not wired")
			return
		}
		err := opts.shipments.DeleteShipment(r.Context(), chi.URLParam(r, "id"))
		switch {
		case err == nil:
			w.WriteHeader(http.StatusNoContent)
		case errors.Is(err, pgshipping.ErrNotFound):
			writeError(w, http.StatusNotFound, "shipment not found")
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
	})

	r.Get("/vehicles/{id}", func(w http.ResponseWriter, r *http.Request) {
		if opts.vehicles == nil {
			writeError(w, http.StatusServiceUnavailable, "vehicles not wired")
			return
		}
		id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "vehicle id must be a positive integer")
			return
		}
		v, err := opts.vehicles.GetVehicle(r.Context(), id)
		switch {
		case err == nil:
			writeJSON(w, http.StatusOK, v)
		case errors.Is(err, pgshipping.ErrNotFound):
			writeError(w, http.StatusNotFound, "vehicle not found")
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
	})

	// swagger без кэша + cachebuster по mtime
	r.Get("/swagger.json", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		http.ServeFile(w, r, opts.swaggerPath)
	})

	swaggerURL := "/swagger.json"
	if fi, err := os.Stat(opts.swaggerPath); err == nil {
		swaggerURL = fmt.Sprintf("/swagger.json?v=%d", fi.ModTime().Unix())
	}
	r.Get("/docs/*", httpSwagger.Handler(httpSwagger.URL(swaggerURL)))

	return r
}

func runWorkerHTTPServer(ctx context.Context, opts workerHTTPOpts) error {
	if opts.httpAddr == "" {
		opts.httpAddr = ":8082"
	}
	if opts.swaggerPath == "" {
		return fmt.Errorf("worker swaggerPath env var is required")
	}
	if _, err := os.Stat(opts.swaggerPath); os.IsNotExist(err) {
		return fmt.Errorf("worker swagger file not found: %s", opts.swaggerPath)
	}

	lis, err := net.Listen("tcp", opts.httpAddr)
	if err != nil {
		return err
	}
	if opts.onListen != nil {
		opts.onListen(lis.Addr().String())
	}

	srv := &http.Server{Handler: newWorkerRouter(opts)}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		_ = lis.Close()
	}()

	slog.Info("worker HTTP listening", "addr", lis.Addr().String())
	return srv.Serve(lis)
}
