// Package api exposes the hub over HTTP: the WebSocket coordination
// endpoint plus the REST file service the transfers move bytes through.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/Hello-LuckyHuang/lan-file-transfer-hub/internal/filestore"
	"github.com/Hello-LuckyHuang/lan-file-transfer-hub/internal/hub"
	"github.com/Hello-LuckyHuang/lan-file-transfer-hub/internal/models"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Server wires the hub and the file store into an http.Handler.
type Server struct {
	hub        *hub.Hub
	files      *filestore.Store
	validation filestore.ValidationConfig
}

func NewServer(h *hub.Hub, files *filestore.Store, validation filestore.ValidationConfig) *Server {
	return &Server{hub: h, files: files, validation: validation}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/api/devices", s.handleDevices)
	mux.HandleFunc("/api/transfers/active", s.handleActiveTransfers)

	mux.HandleFunc("/api/files/config", s.handleFileConfig)
	mux.HandleFunc("/api/files/list", s.handleFileList)
	mux.HandleFunc("/api/files/upload", s.handleUpload)
	mux.HandleFunc("/api/files/download/", s.handleDownload)
	mux.HandleFunc("/api/files/", s.handleDeleteFile)

	return mux
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logrus.WithError(err).Debug("WebSocket upgrade failed")
		return
	}
	s.hub.ServeConn(ws, remoteHost(r))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"devices": s.hub.Registry().Count(),
	})
}

func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.hub.Registry().Snapshot(""))
}

func (s *Server) handleActiveTransfers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.hub.Store().Snapshot())
}

func (s *Server) handleFileConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.validation)
}

func (s *Server) handleFileList(w http.ResponseWriter, r *http.Request) {
	files, err := s.files.List()
	if err != nil {
		logrus.WithError(err).Error("List files")
		jsonError(w, "could not list files", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, files)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	reader, err := r.MultipartReader()
	if err != nil {
		jsonError(w, "multipart form required", http.StatusBadRequest)
		return
	}

	var saved []models.FileInfo
	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			jsonError(w, "malformed upload", http.StatusBadRequest)
			return
		}
		if part.FormName() != "file" || part.FileName() == "" {
			part.Close()
			continue
		}

		name := filestore.SanitizeFileName(part.FileName())
		if err := s.validation.Validate(name, 0, part.Header.Get("Content-Type")); err != nil {
			part.Close()
			jsonError(w, err.Error(), http.StatusBadRequest)
			return
		}

		// The size limit is enforced while streaming; the client cannot be
		// trusted to declare it up front.
		limited := io.LimitReader(part, s.validation.MaxFileSize+1)
		info, err := s.files.Save(limited, name)
		part.Close()
		if err != nil {
			logrus.WithError(err).WithField("file", name).Error("Store upload")
			jsonError(w, "could not store file", http.StatusInternalServerError)
			return
		}
		if s.validation.MaxFileSize > 0 && info.Size > s.validation.MaxFileSize {
			s.files.Delete(info.FileName)
			jsonError(w, filestore.ErrFileTooLarge.Error(), http.StatusRequestEntityTooLarge)
			return
		}

		saved = append(saved, info)
		s.hub.Broadcast(models.MsgFilesUpdated, models.FilesUpdated{
			Action:   "upload",
			FileName: info.FileName,
		})
	}

	if len(saved) == 0 {
		jsonError(w, "no file in request", http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok", "files": saved})
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(r.URL.Path, "/api/files/download/")
	f, info, err := s.files.Open(name)
	if err != nil {
		jsonError(w, "file not found", http.StatusNotFound)
		return
	}
	defer f.Close()

	w.Header().Set("Content-Disposition", `attachment; filename="`+info.FileName+`"`)
	http.ServeContent(w, r, info.FileName, info.ModTime, f)
}

func (s *Server) handleDeleteFile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	name := strings.TrimPrefix(r.URL.Path, "/api/files/")
	removed, err := s.files.Delete(name)
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if !removed {
		jsonError(w, "file not found", http.StatusNotFound)
		return
	}

	s.hub.Broadcast(models.MsgFilesUpdated, models.FilesUpdated{
		Action:   "delete",
		FileName: name,
	})
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func remoteHost(r *http.Request) string {
	host := r.RemoteAddr
	if i := strings.LastIndex(host, ":"); i > 0 {
		host = host[:i]
	}
	return host
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	writeJSON(w, code, map[string]string{"error": msg})
}
