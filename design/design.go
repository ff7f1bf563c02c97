package design

import (
	. "goa.design/goa/v3/dsl"
)

// API definition
var _ = API("roiwatch", func() {
	Title("roiwatch ROI motion detection")
	Description("Motion detection on user-defined regions of a single camera, with rain suppression")
	Version("1.0")
	Server("roiwatch", func() {
		Services("health", "rois", "config", "stats", "camera")
		Host("localhost", func() {
			URI("http://localhost:8080")
		})
	})
})

// Error types
var BadRequestError = Type("BadRequestError", func() {
	Description("Validation failure")
	Field(1, "success", Boolean, "Always false")
	Field(2, "message", String, "Error message")
	Field(3, "field", String, "Offending field")
	Required("success", "message")
})

var NotFoundError = Type("NotFoundError", func() {
	Description("Resource not found error")
	Field(1, "success", Boolean, "Always false")
	Field(2, "message", String, "Error message")
	Required("success", "message")
})

var InternalError = Type("InternalError", func() {
	Description("Persistence or internal failure")
	Field(1, "success", Boolean, "Always false")
	Field(2, "message", String, "Error message")
	Required("success", "message")
})

var UnavailableError = Type("UnavailableError", func() {
	Description("Camera or service unavailable")
	Field(1, "success", Boolean, "Always false")
	Field(2, "message", String, "Error message")
	Required("success", "message")
})

// Data types
var ROIView = Type("ROIView", func() {
	Description("Region of interest with derived geometry and motion state")
	Field(1, "id", Int, "ROI id, never reused")
	Field(2, "x1", Int, "Left edge")
	Field(3, "y1", Int, "Top edge")
	Field(4, "x2", Int, "Right edge, exclusive")
	Field(5, "y2", Int, "Bottom edge, exclusive")
	Field(6, "width", Int, "x2-x1")
	Field(7, "height", Int, "y2-y1")
	Field(8, "area", Int, "Area in pixels")
	Field(9, "motion_detected", Boolean, "Confirmed motion on the latest frame")
	Field(10, "last_detection", String, "Time of the last confirmed detection", func() {
		Format(FormatDateTime)
	})
	Required("id", "x1", "y1", "x2", "y2", "width", "height", "area", "motion_detected")
})

var DetectionConfig = Type("DetectionConfig", func() {
	Description("Detection parameters applied at the next frame boundary")
	Field(1, "threshold", Int, "Summed component area that raises raw motion", func() {
		Minimum(1)
	})
	Field(2, "min_area", Int, "Smallest component area counted as motion", func() {
		Minimum(1)
	})
	Field(3, "blur_size", Int, "Smoothing kernel side; even values are raised to odd", func() {
		Minimum(1)
		Maximum(51)
	})
	Field(4, "rain_area_threshold", Int, "Aggregate small-component area classified as rain", func() {
		Minimum(1)
	})
	Required("threshold", "min_area", "blur_size", "rain_area_threshold")
})

var FrameStats = Type("FrameStats", func() {
	Description("Snapshot published after every processed frame")
	Field(1, "camera_status", String, "Acquisition state", func() {
		Enum("connected", "disconnected", "error")
	})
	Field(2, "fps", Float64, "Smoothed frame rate")
	Field(3, "total_detections", UInt64, "Confirmed rising edges since start")
	Field(4, "active_rois", Int, "Number of ROIs")
	Field(5, "motion_detected_rois", ArrayOf(Int), "ROIs with confirmed motion")
	Field(6, "rain_detected", Boolean, "Latest frame classified as rain")
	Field(7, "last_detection_time", String, "Time of the last detection", func() {
		Format(FormatDateTime)
	})
	Field(8, "frame_seq", UInt64, "Sequence number of the frame")
	Required("camera_status", "fps", "total_detections", "active_rois", "motion_detected_rois", "rain_detected", "frame_seq")
})

var DetectionEvent = Type("DetectionEvent", func() {
	Description("Recorded confirmed motion rising edge")
	Field(1, "id", String, "Event id", func() {
		Format(FormatUUID)
	})
	Field(2, "roi_id", Int, "ROI id")
	Field(3, "timestamp", String, "Frame time", func() {
		Format(FormatDateTime)
	})
	Field(4, "area", Int, "Summed component area")
	Field(5, "blobs", Int, "Number of counted components")
	Field(6, "frame_seq", UInt64, "Frame sequence number")
	Required("id", "roi_id", "timestamp", "area", "blobs", "frame_seq")
})

var CameraState = Type("CameraState", func() {
	Description("Capture state")
	Field(1, "device", String, "Camera device, stream URL or snapshot URL")
	Field(2, "running", Boolean, "Capture running")
	Field(3, "status", String, "Status seen by the detection loop", func() {
		Enum("connected", "disconnected", "error")
	})
	Required("device", "running", "status")
})

var OperationResult = Type("OperationResult", func() {
	Description("Outcome of a control operation")
	Field(1, "success", Boolean, "Operation succeeded")
	Field(2, "message", String, "Result message")
	Required("success")
})

var CountResult = Type("CountResult", func() {
	Description("Outcome of an operation over the whole ROI set")
	Extend(OperationResult)
	Field(3, "count", Int, "Number of ROIs affected")
	Required("count")
})

// Health check service
var _ = Service("health", func() {
	Description("Liveness and readiness probes")

	Method("healthz", func() {
		Description("Liveness probe")
		Result(OperationResult)
		HTTP(func() {
			GET("/healthz")
			Response(StatusOK)
		})
	})

	Method("readyz", func() {
		Description("Readiness probe: the detection loop runs and the database answers")
		Result(OperationResult)
		Error("not_ready", UnavailableError, "Service is not ready")
		HTTP(func() {
			GET("/readyz")
			Response(StatusOK)
			Response("not_ready", StatusServiceUnavailable)
		})
	})
})

// ROI service
var _ = Service("rois", func() {
	Description("Region of interest management")

	Method("list", func() {
		Description("List ROIs in insertion order")
		Result(func() {
			Field(1, "success", Boolean)
			Field(2, "rois", ArrayOf(ROIView))
			Required("success", "rois")
		})
		HTTP(func() {
			GET("/api/rois")
			Response(StatusOK)
		})
	})

	Method("add", func() {
		Description("Add a ROI; corners are normalized and clamped to the frame")
		Payload(func() {
			Field(1, "x1", Int, "First corner x")
			Field(2, "y1", Int, "First corner y")
			Field(3, "x2", Int, "Second corner x")
			Field(4, "y2", Int, "Second corner y")
			Required("x1", "y1", "x2", "y2")
		})
		Result(func() {
			Extend(OperationResult)
			Field(3, "roi", ROIView)
			Required("roi")
		})
		Error("bad_request", BadRequestError, "Invalid geometry or ROI limit reached")
		HTTP(func() {
			POST("/api/rois")
			Response(StatusCreated)
			Response("bad_request", StatusBadRequest)
		})
	})

	Method("delete", func() {
		Description("Delete a ROI by id")
		Payload(func() {
			Field(1, "id", Int, "ROI id")
			Required("id")
		})
		Result(OperationResult)
		Error("not_found", NotFoundError, "ROI not found")
		HTTP(func() {
			DELETE("/api/rois/{id}")
			Response(StatusOK)
			Response("not_found", StatusNotFound)
		})
	})

	Method("clear", func() {
		Description("Delete every ROI")
		Result(CountResult)
		HTTP(func() {
			POST("/api/rois/clear")
			Response(StatusOK)
		})
	})

	Method("save", func() {
		Description("Write the ROIs to the ROI file atomically")
		Result(CountResult)
		Error("internal", InternalError, "Write failed")
		HTTP(func() {
			POST("/api/rois/save")
			Response(StatusOK)
			Response("internal", StatusInternalServerError)
		})
	})

	Method("load", func() {
		Description("Replace the ROIs with the ROI file contents")
		Result(CountResult)
		Error("bad_request", BadRequestError, "Invalid ROI file")
		Error("internal", InternalError, "Read failed")
		HTTP(func() {
			POST("/api/rois/load")
			Response(StatusOK)
			Response("bad_request", StatusBadRequest)
			Response("internal", StatusInternalServerError)
		})
	})
})

// Configuration service
var _ = Service("config", func() {
	Description("Detection parameters")

	Method("get", func() {
		Description("Get the current detection config")
		Result(func() {
			Field(1, "success", Boolean)
			Field(2, "config", DetectionConfig)
			Required("success", "config")
		})
		HTTP(func() {
			GET("/api/config")
			Response(StatusOK)
		})
	})

	Method("update", func() {
		Description("Apply a partial config; an invalid field rejects the whole update")
		Payload(func() {
			Field(1, "threshold", Int)
			Field(2, "min_area", Int)
			Field(3, "blur_size", Int)
			Field(4, "rain_area_threshold", Int)
		})
		Result(func() {
			Extend(OperationResult)
			Field(3, "config", DetectionConfig)
			Required("config")
		})
		Error("bad_request", BadRequestError, "Invalid config field")
		HTTP(func() {
			PUT("/api/config")
			Response(StatusOK)
			Response("bad_request", StatusBadRequest)
		})
	})
})

// Statistics service
var _ = Service("stats", func() {
	Description("Detection statistics and event log")

	Method("get", func() {
		Description("Latest FrameStats snapshot")
		Result(func() {
			Field(1, "success", Boolean)
			Field(2, "stats", FrameStats)
			Required("success", "stats")
		})
		HTTP(func() {
			GET("/api/stats")
			Response(StatusOK)
		})
	})

	Method("events", func() {
		Description("Recorded detection events, newest first")
		Payload(func() {
			Field(1, "roi_id", Int, "Filter by ROI id; 0 matches every ROI")
			Field(2, "limit", Int, "Maximum number of events", func() {
				Default(50)
				Minimum(0)
			})
		})
		Result(func() {
			Field(1, "success", Boolean)
			Field(2, "events", ArrayOf(DetectionEvent))
			Required("success", "events")
		})
		Error("bad_request", BadRequestError, "Invalid query")
		Error("internal", InternalError, "Event store failure")
		HTTP(func() {
			GET("/api/events")
			Param("roi_id")
			Param("limit")
			Response(StatusOK)
			Response("bad_request", StatusBadRequest)
			Response("internal", StatusInternalServerError)
		})
	})
})

// Camera service
var _ = Service("camera", func() {
	Description("Capture lifecycle")

	Method("start", func() {
		Description("Start the capture")
		Result(OperationResult)
		Error("unavailable", UnavailableError, "Camera cannot be opened")
		HTTP(func() {
			POST("/api/camera/start")
			Response(StatusOK)
			Response("unavailable", StatusServiceUnavailable)
		})
	})

	Method("stop", func() {
		Description("Stop the capture; the detection loop reports disconnected")
		Result(OperationResult)
		HTTP(func() {
			POST("/api/camera/stop")
			Response(StatusOK)
		})
	})

	Method("status", func() {
		Description("Capture state")
		Result(func() {
			Field(1, "success", Boolean)
			Field(2, "camera", CameraState)
			Required("success", "camera")
		})
		HTTP(func() {
			GET("/api/camera/status")
			Response(StatusOK)
		})
	})
})
