package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// UserNoteRequest is the JSON payload for adding or editing a user note.
type UserNoteRequest struct {
	Content string `json:"content"`
}

// ListUserNotes returns the live notes about a user, oldest first.
func (h *Handlers) ListUserNotes(c *gin.Context) {
	cid, okID := community(c)
	if !okID {
		return
	}
	uid, okUser := pathID(c, "uid")
	if !okUser {
		return
	}
	notes, err := h.notes.ListUserNotes(c.Request.Context(), cid, uid)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"notes": notes})
}

// AddUserNote records a note about a user authored by the actor.
func (h *Handlers) AddUserNote(c *gin.Context) {
	cid, okID := community(c)
	if !okID {
		return
	}
	uid, okUser := pathID(c, "uid")
	if !okUser {
		return
	}
	author, okActor := actor(c)
	if !okActor {
		return
	}
	var req UserNoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	n, err := h.notes.AddUserNote(c.Request.Context(), cid, uid, author, req.Content)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusCreated, n)
}

// EditUserNote replaces the content of a note.
func (h *Handlers) EditUserNote(c *gin.Context) {
	cid, okID := community(c)
	if !okID {
		return
	}
	nid, okNote := pathID(c, "nid")
	if !okNote {
		return
	}
	var req UserNoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	n, err := h.notes.EditUserNote(c.Request.Context(), cid, nid, req.Content)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, n)
}

// DeleteUserNote soft-deletes a note.
func (h *Handlers) DeleteUserNote(c *gin.Context) {
	cid, okID := community(c)
	if !okID {
		return
	}
	nid, okNote := pathID(c, "nid")
	if !okNote {
		return
	}
	if err := h.notes.DeleteUserNote(c.Request.Context(), cid, nid); err != nil {
		failErr(c, err)
		return
	}
	noContent(c)
}

// ClearUserNotes soft-deletes every note about a user.
func (h *Handlers) ClearUserNotes(c *gin.Context) {
	cid, okID := community(c)
	if !okID {
		return
	}
	uid, okUser := pathID(c, "uid")
	if !okUser {
		return
	}
	n, err := h.notes.ClearUserNotes(c.Request.Context(), cid, uid)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"deleted": n})
}
