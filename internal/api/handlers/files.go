package handlers

import (
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/jannetahkola/mc-server-manager/internal/files"
)

// FilesHandler downloads the server executable.
type FilesHandler struct {
	files       *files.GameFileService
	defaultURI  string
	destination string
}

func NewFilesHandler(service *files.GameFileService, defaultURI, destination string) *FilesHandler {
	return &FilesHandler{files: service, defaultURI: defaultURI, destination: destination}
}

// remoteSchemes are the schemes a caller may name. Local paths are only
// reachable through the configured URI.
var remoteSchemes = map[string]bool{"http": true, "https": true, "s3": true, "sftp": true}

type downloadRequest struct {
	URI string `json:"uri"`
}

// Download starts fetching the executable from the requested or configured
// URI.
func (h *FilesHandler) Download(c *gin.Context) {
	var req downloadRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	uri := strings.TrimSpace(req.URI)
	if uri == "" {
		uri = h.defaultURI
	} else if uri != h.defaultURI {
		location, err := url.Parse(uri)
		if err != nil || !remoteSchemes[strings.ToLower(location.Scheme)] {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Download URI must use http, https, s3 or sftp"})
			return
		}
	}
	if uri == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No download URI given or configured"})
		return
	}

	if err := h.files.StartDownloadAsync(uri, h.destination); err != nil {
		if errors.Is(err, files.ErrDownloadInProgress) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, h.files.DownloadStatus(h.destination))
}

// Status reports the most recent download.
func (h *FilesHandler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, h.files.DownloadStatus(h.destination))
}
