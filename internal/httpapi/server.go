// Package httpapi serves the control operations as JSON over HTTP on a goa
// muxer.
package httpapi

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"

	"go.uber.org/zap"
	goahttp "goa.design/goa/v3/http"
	"goa.design/goa/v3/middleware"

	"roiwatch/internal/config"
	"roiwatch/internal/database"
	"roiwatch/internal/errdefs"
	"roiwatch/internal/motion"
	"roiwatch/internal/services"
)

// MountPoint describes one mounted route.
type MountPoint struct {
	Method  string
	Verb    string
	Pattern string
}

// Server holds the HTTP handlers for the control API.
type Server struct {
	Mounts []*MountPoint

	ctrl   *services.Controller
	health *services.Health
	logger *zap.SugaredLogger
}

// ROIRequest is the body of POST /api/rois.
type ROIRequest struct {
	X1 *int `json:"x1"`
	Y1 *int `json:"y1"`
	X2 *int `json:"x2"`
	Y2 *int `json:"y2"`
}

// ErrorResponse is written for every failed request.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

// ROIResponse carries a single ROI.
type ROIResponse struct {
	services.Result
	ROI services.ROIView `json:"roi"`
}

// ROIListResponse carries the ROI list.
type ROIListResponse struct {
	services.Result
	ROIs []services.ROIView `json:"rois"`
}

// CountResponse reports how many ROIs an operation touched.
type CountResponse struct {
	services.Result
	Count int `json:"count"`
}

// ConfigResponse carries the detection config.
type ConfigResponse struct {
	services.Result
	Config config.Detection `json:"config"`
}

// StatsResponse carries the latest snapshot.
type StatsResponse struct {
	services.Result
	Stats motion.FrameStats `json:"stats"`
}

// EventsResponse carries recorded detection events.
type EventsResponse struct {
	services.Result
	Events []*database.DetectionEventRecord `json:"events"`
}

// CameraResponse carries the camera state.
type CameraResponse struct {
	services.Result
	Camera services.CameraState `json:"camera"`
}

// New creates the HTTP server handlers. health may be nil.
func New(ctrl *services.Controller, health *services.Health, logger *zap.SugaredLogger) *Server {
	return &Server{ctrl: ctrl, health: health, logger: logger.Named("http")}
}

// Mount registers every route on mux.
func (s *Server) Mount(mux goahttp.Muxer) {
	s.handle(mux, "ListROIs", "GET", "/api/rois", s.listROIs)
	s.handle(mux, "AddROI", "POST", "/api/rois", s.addROI)
	s.handle(mux, "DeleteROI", "DELETE", "/api/rois/{id}", s.deleteROI(mux))
	s.handle(mux, "ClearROIs", "POST", "/api/rois/clear", s.clearROIs)
	s.handle(mux, "SaveROIs", "POST", "/api/rois/save", s.saveROIs)
	s.handle(mux, "LoadROIs", "POST", "/api/rois/load", s.loadROIs)
	s.handle(mux, "GetConfig", "GET", "/api/config", s.getConfig)
	s.handle(mux, "UpdateConfig", "PUT", "/api/config", s.updateConfig)
	s.handle(mux, "GetStats", "GET", "/api/stats", s.getStats)
	s.handle(mux, "ListEvents", "GET", "/api/events", s.listEvents)
	s.handle(mux, "StartCamera", "POST", "/api/camera/start", s.startCamera)
	s.handle(mux, "StopCamera", "POST", "/api/camera/stop", s.stopCamera)
	s.handle(mux, "CameraStatus", "GET", "/api/camera/status", s.cameraStatus)
	if s.health != nil {
		s.handle(mux, "Healthz", "GET", "/healthz", s.healthz)
		s.handle(mux, "Readyz", "GET", "/readyz", s.readyz)
	}
}

func (s *Server) handle(mux goahttp.Muxer, method, verb, pattern string, h http.HandlerFunc) {
	mux.Handle(verb, pattern, h)
	s.Mounts = append(s.Mounts, &MountPoint{Method: method, Verb: verb, Pattern: pattern})
}

func (s *Server) listROIs(w http.ResponseWriter, r *http.Request) {
	s.encode(r.Context(), w, http.StatusOK, &ROIListResponse{
		Result: services.Result{Success: true},
		ROIs:   s.ctrl.ListROIs(),
	})
}

func (s *Server) addROI(w http.ResponseWriter, r *http.Request) {
	var body ROIRequest
	if err := goahttp.RequestDecoder(r).Decode(&body); err != nil {
		if errors.Is(err, io.EOF) {
			err = errors.New("missing request body")
		}
		s.fail(r.Context(), w, errdefs.Invalid("body", "%v", err))
		return
	}
	for _, f := range []struct {
		name string
		v    *int
	}{{"x1", body.X1}, {"y1", body.Y1}, {"x2", body.X2}, {"y2", body.Y2}} {
		if f.v == nil {
			s.fail(r.Context(), w, errdefs.Invalid(f.name, "is required"))
			return
		}
	}

	v, err := s.ctrl.AddROI(*body.X1, *body.Y1, *body.X2, *body.Y2)
	if err != nil {
		s.fail(r.Context(), w, err)
		return
	}
	s.encode(r.Context(), w, http.StatusCreated, &ROIResponse{
		Result: services.Result{Success: true, Message: "ROI " + strconv.Itoa(v.ID) + " added"},
		ROI:    v,
	})
}

func (s *Server) deleteROI(mux goahttp.Muxer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw := mux.Vars(r)["id"]
		id, err := strconv.Atoi(raw)
		if err != nil {
			s.fail(r.Context(), w, errdefs.Invalid("id", "%q is not an integer", raw))
			return
		}
		if err := s.ctrl.DeleteROI(id); err != nil {
			s.fail(r.Context(), w, err)
			return
		}
		s.encode(r.Context(), w, http.StatusOK, services.ResultOf(nil, "ROI "+raw+" deleted"))
	}
}

func (s *Server) clearROIs(w http.ResponseWriter, r *http.Request) {
	n := s.ctrl.ClearROIs()
	s.encode(r.Context(), w, http.StatusOK, &CountResponse{
		Result: services.Result{Success: true, Message: "ROIs cleared"},
		Count:  n,
	})
}

func (s *Server) saveROIs(w http.ResponseWriter, r *http.Request) {
	n, err := s.ctrl.SaveROIs()
	if err != nil {
		s.fail(r.Context(), w, err)
		return
	}
	s.encode(r.Context(), w, http.StatusOK, &CountResponse{
		Result: services.Result{Success: true, Message: "ROIs saved"},
		Count:  n,
	})
}

func (s *Server) loadROIs(w http.ResponseWriter, r *http.Request) {
	n, err := s.ctrl.LoadROIs()
	if err != nil {
		s.fail(r.Context(), w, err)
		return
	}
	s.encode(r.Context(), w, http.StatusOK, &CountResponse{
		Result: services.Result{Success: true, Message: "ROIs loaded"},
		Count:  n,
	})
}

func (s *Server) getConfig(w http.ResponseWriter, r *http.Request) {
	s.encode(r.Context(), w, http.StatusOK, &ConfigResponse{
		Result: services.Result{Success: true},
		Config: s.ctrl.GetConfig(),
	})
}

func (s *Server) updateConfig(w http.ResponseWriter, r *http.Request) {
	var record map[string]any
	if err := goahttp.RequestDecoder(r).Decode(&record); err != nil {
		if errors.Is(err, io.EOF) {
			err = errors.New("missing request body")
		}
		s.fail(r.Context(), w, errdefs.Invalid("body", "%v", err))
		return
	}
	cfg, err := s.ctrl.UpdateConfig(record)
	if err != nil {
		s.fail(r.Context(), w, err)
		return
	}
	s.encode(r.Context(), w, http.StatusOK, &ConfigResponse{
		Result: services.Result{Success: true, Message: "config updated"},
		Config: cfg,
	})
}

func (s *Server) getStats(w http.ResponseWriter, r *http.Request) {
	s.encode(r.Context(), w, http.StatusOK, &StatsResponse{
		Result: services.Result{Success: true},
		Stats:  s.ctrl.GetStats(),
	})
}

func (s *Server) listEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := intParam(q.Get("limit"), "limit")
	if err != nil {
		s.fail(r.Context(), w, err)
		return
	}
	roiID, err := intParam(q.Get("roi_id"), "roi_id")
	if err != nil {
		s.fail(r.Context(), w, err)
		return
	}
	events, err := s.ctrl.ListEvents(roiID, limit)
	if err != nil {
		s.fail(r.Context(), w, err)
		return
	}
	s.encode(r.Context(), w, http.StatusOK, &EventsResponse{
		Result: services.Result{Success: true},
		Events: events,
	})
}

func (s *Server) startCamera(w http.ResponseWriter, r *http.Request) {
	if err := s.ctrl.StartCamera(); err != nil {
		s.fail(r.Context(), w, err)
		return
	}
	s.encode(r.Context(), w, http.StatusOK, services.ResultOf(nil, "camera started"))
}

func (s *Server) stopCamera(w http.ResponseWriter, r *http.Request) {
	if err := s.ctrl.StopCamera(); err != nil {
		s.fail(r.Context(), w, err)
		return
	}
	s.encode(r.Context(), w, http.StatusOK, services.ResultOf(nil, "camera stopped"))
}

func (s *Server) cameraStatus(w http.ResponseWriter, r *http.Request) {
	s.encode(r.Context(), w, http.StatusOK, &CameraResponse{
		Result: services.Result{Success: true},
		Camera: s.ctrl.CameraStatus(),
	})
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	if err := s.health.Healthz(r.Context()); err != nil {
		s.encode(r.Context(), w, http.StatusServiceUnavailable, &ErrorResponse{Message: err.Error()})
		return
	}
	s.encode(r.Context(), w, http.StatusOK, services.ResultOf(nil, "ok"))
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if err := s.health.Readyz(r.Context()); err != nil {
		s.encode(r.Context(), w, http.StatusServiceUnavailable, &ErrorResponse{Message: err.Error()})
		return
	}
	s.encode(r.Context(), w, http.StatusOK, services.ResultOf(nil, "ready"))
}

func intParam(raw, name string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, errdefs.Invalid(name, "%q is not a non-negative integer", raw)
	}
	return n, nil
}

func (s *Server) encode(ctx context.Context, w http.ResponseWriter, status int, v any) {
	enc := goahttp.ResponseEncoder(ctx, w)
	w.WriteHeader(status)
	if err := enc.Encode(v); err != nil {
		s.logger.Warnw("encoding response failed", "request_id", requestID(ctx), "error", err)
	}
}

// fail writes err with the status code of its kind.
func (s *Server) fail(ctx context.Context, w http.ResponseWriter, err error) {
	status := StatusOf(err)
	resp := &ErrorResponse{Message: err.Error()}
	var verr *errdefs.ValidationError
	if errors.As(err, &verr) {
		resp.Field = verr.Field
	}
	if status >= http.StatusInternalServerError {
		s.logger.Errorw("request failed", "request_id", requestID(ctx), "error", err)
	}
	s.encode(ctx, w, status, resp)
}

// StatusOf maps an operation error to an HTTP status code.
func StatusOf(err error) int {
	switch {
	case errdefs.IsValidation(err):
		return http.StatusBadRequest
	case errdefs.IsNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, errdefs.ErrCameraUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(middleware.RequestIDKey).(string)
	return id
}
