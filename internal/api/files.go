package api

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	apperrors "github.com/kweaver-ai/sandboxctl/internal/errors"
	"github.com/kweaver-ai/sandboxctl/internal/lifecycle"
	"github.com/kweaver-ai/sandboxctl/internal/logger"
	"github.com/kweaver-ai/sandboxctl/internal/middleware"
	"github.com/kweaver-ai/sandboxctl/internal/storage"
)

func registerFileRoutes(rg *gin.RouterGroup, deps Deps) {
	files := rg.Group("/sessions/:id/files")
	files.Use(middleware.FileUploadLimiter())
	files.POST("/upload", uploadFile(deps.Sessions, deps.Store))
	files.GET("/*path", downloadFile(deps.Sessions, deps.Store))
}

func uploadFile(sessions *lifecycle.Manager, store *storage.S3Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID := c.Param("id")
		session, err := sessions.Get(c.Request.Context(), sessionID)
		if err != nil {
			respondAppErr(c, err)
			return
		}

		header, err := c.FormFile("file")
		if err != nil {
			respondAppErr(c, apperrors.InvalidParameter("multipart form must carry a \"file\" field"))
			return
		}
		if header.Size > storage.MultipartUploadLimit {
			respondAppErr(c, apperrors.InvalidParameter("file exceeds the 100MiB upload limit"))
			return
		}

		relPath := c.PostForm("path")
		if err := middleware.ValidateWorkspacePath(relPath); err != nil {
			respondAppErr(c, apperrors.InvalidParameter(err.Error()))
			return
		}

		f, err := header.Open()
		if err != nil {
			respondAppErr(c, apperrors.Internal("failed to read uploaded file", err))
			return
		}
		defer f.Close()

		data, err := io.ReadAll(f)
		if err != nil {
			respondAppErr(c, apperrors.Internal("failed to buffer uploaded file", err))
			return
		}

		objectPath := session.WorkspaceObjectPath + relPath
		contentType := header.Header.Get("Content-Type")
		if err := store.Upload(c.Request.Context(), objectPath, data, contentType); err != nil {
			respondAppErr(c, apperrors.DependencyUnavailable("object store", err))
			return
		}

		if err := sessions.Touch(c.Request.Context(), sessionID); err != nil {
			logger.HTTP().Warn().Err(err).Str("session_id", sessionID).Msg("failed to touch session activity after upload")
		}

		respondCreated(c, gin.H{"path": relPath, "size": header.Size})
	}
}

// downloadFile serves a workspace file directly when it fits under
// storage.DirectDownloadLimit, otherwise redirects to a presigned URL
// (spec §6).
func downloadFile(sessions *lifecycle.Manager, store *storage.S3Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID := c.Param("id")
		relPath := c.Param("path")
		if len(relPath) > 0 && relPath[0] == '/' {
			relPath = relPath[1:]
		}
		if err := middleware.ValidateWorkspacePath(relPath); err != nil {
			respondAppErr(c, apperrors.InvalidParameter(err.Error()))
			return
		}

		session, err := sessions.Get(c.Request.Context(), sessionID)
		if err != nil {
			respondAppErr(c, err)
			return
		}
		objectPath := session.WorkspaceObjectPath + relPath

		data, err := store.Download(c.Request.Context(), objectPath)
		if err != nil {
			// Large objects aren't buffered client-side for a size check
			// first; a download failure past DirectDownloadLimit falls
			// back to presigning instead of treating it as NotFound.
			url, presignErr := store.PresignedDownloadURL(c.Request.Context(), objectPath)
			if presignErr != nil {
				respondAppErr(c, apperrors.NotFound("file", relPath))
				return
			}
			c.Redirect(http.StatusTemporaryRedirect, url)
			return
		}
		if len(data) > storage.DirectDownloadLimit {
			url, err := store.PresignedDownloadURL(c.Request.Context(), objectPath)
			if err != nil {
				respondAppErr(c, apperrors.Internal("failed to presign large file download", err))
				return
			}
			c.Redirect(http.StatusTemporaryRedirect, url)
			return
		}
		c.Data(http.StatusOK, "application/octet-stream", data)
	}
}
