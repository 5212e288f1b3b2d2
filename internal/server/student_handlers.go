package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/MarcoPoloResearchLab/matebook/internal/records"
	"github.com/MarcoPoloResearchLab/matebook/internal/students"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const avatarFormField = "avatar"

type removeByNameResponsePayload struct {
	RowsAffected int `json:"rows_affected"`
}

type updateByNameResponsePayload struct {
	RowsAffected int64    `json:"rows_affected"`
	Dropped      []string `json:"dropped"`
}

func (h *httpHandler) handleListStudents(c *gin.Context) {
	page, ok := parsePage(c)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_pagination"})
		return
	}
	filter := students.Filter{
		Name:     c.Query("name"),
		Position: c.Query("position"),
		Email:    c.Query("email"),
	}
	entries, err := h.students.List(c.Request.Context(), page, filter)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, entries)
}

func (h *httpHandler) handleGetStudent(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	entry, err := h.students.Get(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, entry)
}

func (h *httpHandler) handleCreateStudent(c *gin.Context) {
	input := students.StudentCreate{
		Name:     c.PostForm(students.ColumnName),
		Email:    optionalFormValue(c, students.ColumnEmail),
		Phone:    optionalFormValue(c, students.ColumnPhone),
		Address:  optionalFormValue(c, students.ColumnAddress),
		WeChat:   optionalFormValue(c, students.ColumnWeChat),
		QQ:       optionalFormValue(c, students.ColumnQQ),
		Position: optionalFormValue(c, students.ColumnPosition),
		Comments: optionalFormValue(c, students.ColumnComments),
	}

	avatarURL, err := h.uploadAvatar(c)
	if err != nil {
		h.respondError(c, err)
		return
	}

	created, err := h.students.Create(c.Request.Context(), input, avatarURL)
	if err != nil {
		h.discardAvatar(c.Request.Context(), avatarURL)
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

// handleUpdateStudent applies only the form fields present in the request.
// A present but empty field clears the column.
func (h *httpHandler) handleUpdateStudent(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	input := students.StudentUpdate{
		Name:     formField(c, students.ColumnName),
		Email:    formField(c, students.ColumnEmail),
		Phone:    formField(c, students.ColumnPhone),
		Address:  formField(c, students.ColumnAddress),
		WeChat:   formField(c, students.ColumnWeChat),
		QQ:       formField(c, students.ColumnQQ),
		Position: formField(c, students.ColumnPosition),
		Comments: formField(c, students.ColumnComments),
	}

	avatarURL, err := h.uploadAvatar(c)
	if err != nil {
		h.respondError(c, err)
		return
	}

	updated, replaced, err := h.students.UpdateWithAvatar(ctx, id, input, avatarURL)
	if err != nil {
		h.discardAvatar(ctx, avatarURL)
		h.respondError(c, err)
		return
	}
	h.discardAvatar(ctx, replaced)
	c.JSON(http.StatusOK, updated)
}

func (h *httpHandler) handleRemoveStudent(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	removed, err := h.students.Remove(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.discardAvatar(c.Request.Context(), removed.AvatarURL)
	c.Status(http.StatusNoContent)
}

// handleUpdateStudentsByName forwards a raw column map to the whitelisted
// update. Only scalar values are accepted.
func (h *httpHandler) handleUpdateStudentsByName(c *gin.Context) {
	var payload map[string]any
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	changes := make(records.Changes, len(payload))
	for column, value := range payload {
		switch value.(type) {
		case map[string]any, []any:
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "field": column})
			return
		}
		changes[column] = value
	}

	result, err := h.students.UpdateByName(c.Request.Context(), c.Param("name"), changes)
	if err != nil {
		h.respondError(c, err)
		return
	}
	dropped := result.Dropped
	if dropped == nil {
		dropped = []string{}
	}
	c.JSON(http.StatusOK, updateByNameResponsePayload{
		RowsAffected: result.RowsAffected,
		Dropped:      dropped,
	})
}

// handleRemoveStudentsByName deletes every entry with exactly the given name
// and their stored avatars.
func (h *httpHandler) handleRemoveStudentsByName(c *gin.Context) {
	removed, err := h.students.RemoveByName(c.Request.Context(), c.Param("name"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	for _, entry := range removed {
		h.discardAvatar(c.Request.Context(), entry.AvatarURL)
	}
	c.JSON(http.StatusOK, removeByNameResponsePayload{RowsAffected: len(removed)})
}

// uploadAvatar stores the optional avatar file and returns its URL, or nil
// when the request carries none.
func (h *httpHandler) uploadAvatar(c *gin.Context) (*string, error) {
	header, err := c.FormFile(avatarFormField)
	if errors.Is(err, http.ErrMissingFile) || errors.Is(err, http.ErrNotMultipart) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	file, err := header.Open()
	if err != nil {
		return nil, err
	}
	defer file.Close()

	url, err := h.media.Upload(c.Request.Context(), header.Filename, file)
	if err != nil {
		return nil, err
	}
	return &url, nil
}

func (h *httpHandler) discardAvatar(ctx context.Context, url *string) {
	if url == nil {
		return
	}
	if err := h.media.Delete(ctx, *url); err != nil {
		h.logger.Warn("failed to delete avatar", zap.String("url", *url), zap.Error(err))
	}
}

func optionalFormValue(c *gin.Context, key string) *string {
	value, ok := c.GetPostForm(key)
	if !ok {
		return nil
	}
	return &value
}

func formField(c *gin.Context, key string) records.Field[string] {
	value, ok := c.GetPostForm(key)
	if !ok {
		return records.Field[string]{}
	}
	return records.SetTo(value)
}

func parseID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_id"})
		return 0, false
	}
	return id, true
}

func parsePage(c *gin.Context) (records.Page, bool) {
	page := records.Page{}
	if raw := c.Query("skip"); raw != "" {
		skip, err := strconv.Atoi(raw)
		if err != nil {
			return records.Page{}, false
		}
		page.Skip = skip
	}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			return records.Page{}, false
		}
		page.Limit = limit
	}
	return page, true
}
