package server

import (
	"encoding/base64"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/facegate/facegate/pkg/logging"
	"github.com/facegate/facegate/pkg/session"
	"github.com/facegate/facegate/pkg/vision"
)

type beginLivenessRequest struct {
	Mode string `json:"mode" validate:"required,oneof=login register"`
	Name string `json:"name" validate:"omitempty,max=64"`
}

type frameRequest struct {
	// Landmarks holds one pre-computed 68-point set per detected face.
	Landmarks [][]vision.Point `json:"landmarks,omitempty"`
	// Image is an optionally data-URL-prefixed base64 capture.
	Image string `json:"image,omitempty"`
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleCreateSession(c *gin.Context) {
	c.JSON(http.StatusCreated, s.registry.Create())
}

func (s *Server) handleBeginLiveness(c *gin.Context) {
	var req beginLivenessRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := s.validate.Struct(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	mode, err := session.ParseMode(req.Mode)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	st, err := s.registry.BeginLiveness(c.Param("id"), mode, req.Name)
	s.respond(c, st, err)
}

func (s *Server) handleSubmitFrame(c *gin.Context) {
	var req frameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	frame, err := s.buildFrame(req)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	st, err := s.registry.SubmitFrame(c.Param("id"), frame)
	s.respond(c, st, err)
}

func (s *Server) handleReset(c *gin.Context) {
	st, err := s.registry.Reset(c.Param("id"))
	s.respond(c, st, err)
}

func (s *Server) handleStatus(c *gin.Context) {
	st, err := s.registry.Status(c.Param("id"))
	s.respond(c, st, err)
}

// handleEmotionStream serves the emotion loop as server-sent events.
// The stream ends when the client disconnects or the session's loop
// stops (reset or expiry).
func (s *Server) handleEmotionStream(c *gin.Context) {
	readings, err := s.registry.EmotionStream(c.Param("id"))
	if err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		code := session.CodeFor(err)
		c.JSON(http.StatusConflict, gin.H{"code": code, "error": code.Message()})
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	c.Stream(func(w io.Writer) bool {
		select {
		case reading, ok := <-readings:
			if !ok {
				return false
			}
			c.SSEvent("reading", reading)
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}

func (s *Server) handleListUsers(c *gin.Context) {
	names, err := s.users.List()
	if err != nil {
		logging.WithError(err).Error("Failed to list enrolled users")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not list users"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"users": names})
}

// respond writes a session status. Domain failures stay HTTP 200 with
// the code embedded in the body; only unknown sessions and unexpected
// errors become transport-level failures.
func (s *Server) respond(c *gin.Context, st session.Status, err error) {
	if err == nil {
		c.JSON(http.StatusOK, st)
		return
	}

	if errors.Is(err, session.ErrSessionNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}

	code := session.CodeFor(err)
	if code == "" {
		logging.WithError(err).Error("Unhandled session error")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	st.Code = code
	st.Error = code.Message()
	c.JSON(http.StatusOK, st)
}

// buildFrame converts the wire payload into a frame: base64 image
// bytes plus one landmark set per face. Malformed landmark sets are
// left to the metric pipeline to reject.
func (s *Server) buildFrame(req frameRequest) (vision.Frame, error) {
	var frame vision.Frame

	if req.Image != "" {
		data, err := decodeImagePayload(req.Image)
		if err != nil {
			return vision.Frame{}, err
		}
		frame.Image = data
	}

	for _, pts := range req.Landmarks {
		set, err := vision.NewLandmarkSet(pts)
		if err != nil {
			// Surface as a frame without this face; the registry
			// reports NoFaceDetected on an empty frame.
			continue
		}
		frame.Faces = append(frame.Faces, *set)
	}

	return frame, nil
}

// decodeImagePayload accepts raw base64 or a data URL such as
// "data:image/jpeg;base64,...".
func decodeImagePayload(payload string) ([]byte, error) {
	if idx := strings.Index(payload, "base64,"); idx >= 0 {
		payload = payload[idx+len("base64,"):]
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, errors.New("image payload is not valid base64")
	}
	return data, nil
}
