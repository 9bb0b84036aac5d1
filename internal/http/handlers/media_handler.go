// Media HTTP handlers.
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Upload godoc
// @ID          uploadMedia
// @Summary     Upload an attachment
// @Description Stores an image (png, jpg, gif), video (mp4) or audio (mp3, ogg) file and
// @Description returns the descriptor to reference from a message. The file type is
// @Description detected from its content and must agree with the extension.
// @Tags        Media
// @Accept      multipart/form-data
// @Produce     json
// @Security    BearerAuth
// @Param       file  formData  file  true  "Media file"
// @Success     201  {object}  domain.MediaDescriptor
// @Failure     400  {object}  handlers.ErrorResponse  "Missing file"
// @Failure     401  {object}  handlers.ErrorResponse
// @Failure     413  {object}  handlers.ErrorResponse  "File too large"
// @Failure     415  {object}  handlers.ErrorResponse  "Unsupported media type"
// @Router      /media [post]
func (h *Handlers) Upload(c *gin.Context) {
	fh, err := c.FormFile("file")
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			fail(c, http.StatusRequestEntityTooLarge, ErrCodeMediaTooLarge, "media too large")
			return
		}
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "multipart field 'file' required")
		return
	}
	f, err := fh.Open()
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "cannot read upload")
		return
	}
	defer f.Close()

	md, err := h.media.Upload(c.Request.Context(), fh.Filename, f, fh.Size)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusCreated, md)
}

// GetMedia godoc
// @ID          getMedia
// @Summary     Fetch an attachment
// @Description Streams the file from local storage or redirects to a presigned object URL.
// @Tags        Media
// @Produce     octet-stream
// @Param       locator  path  string  true  "Storage locator"
// @Success     200  {file}  file
// @Success     302  "Redirect to object storage"
// @Failure     404  {object}  handlers.ErrorResponse
// @Router      /media/{locator} [get]
func (h *Handlers) GetMedia(c *gin.Context) {
	loc, err := h.media.Locate(c.Request.Context(), c.Param("locator"))
	if err != nil {
		failErr(c, err)
		return
	}
	if loc.URL != "" {
		c.Redirect(http.StatusFound, loc.URL)
		return
	}
	c.Header("Cache-Control", "private, max-age=86400, immutable")
	c.File(loc.Path)
}
